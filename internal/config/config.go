package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DBFile       string
	APIAddr      string
	BaseURL      string
	ObjectsPath  string
	TokenExpiry  time.Duration
	PushContact  string
	VAPIDPublic  string
	VAPIDPrivate string
}

func Load() (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "12h"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBFile:       getEnv("CRUMBCHAT_DB", "crumbchat.db"),
		APIAddr:      getEnv("API_ADDR", ":8080"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:8080"),
		ObjectsPath:  getEnv("OBJECTS_PATH", "objects"),
		TokenExpiry:  tokenExpiry,
		PushContact:  getEnv("PUSH_CONTACT", "mailto:admin@localhost"),
		VAPIDPublic:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivate: os.Getenv("VAPID_PRIVATE_KEY"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if (c.VAPIDPublic == "") != (c.VAPIDPrivate == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
