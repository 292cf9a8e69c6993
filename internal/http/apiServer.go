package http

import (
	"context"
	"log"
	"net/http"

	"crumbchat/internal/api"
	"crumbchat/internal/platform"
	"crumbchat/internal/realtime"
)

type APIServer struct {
	server *http.Server
}

func NewAPIServer(p *platform.Platform, addr string) *APIServer {
	handlers := api.New(p)
	rtServer := realtime.NewServer(p)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/signup", handlers.SignUpHandler)
	mux.HandleFunc("POST /api/signin", handlers.SignInHandler)
	mux.HandleFunc("POST /api/signout", handlers.SignOutHandler)

	mux.HandleFunc("GET /api/profiles", handlers.RequireAuth(handlers.ProfilesHandler))
	mux.HandleFunc("GET /api/messages", handlers.RequireAuth(handlers.MessagesHandler))
	mux.HandleFunc("POST /api/messages", handlers.RequireAuth(handlers.SendMessageHandler))
	mux.HandleFunc("GET /api/thread/{userID}", handlers.RequireAuth(handlers.ThreadHandler))
	mux.HandleFunc("GET /api/crumbs", handlers.RequireAuth(handlers.CrumbsHandler))
	mux.HandleFunc("POST /api/crumbs", handlers.RequireAuth(handlers.PostCrumbHandler))

	mux.HandleFunc("POST /api/upload/image", handlers.RequireAuth(handlers.UploadImageHandler))
	mux.HandleFunc("GET /objects/{path...}", handlers.GetObjectHandler)

	mux.HandleFunc("POST /api/push/subscribe", handlers.RequireAuth(handlers.PushSubscribeHandler))

	// Realtime change feed and presence channels
	mux.HandleFunc("/api/realtime", rtServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
