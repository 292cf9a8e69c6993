package platform

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBProfile struct {
	ID        string `msgpack:"id"`
	UserID    string `msgpack:"userId"`
	Username  string `msgpack:"username"`
	ChatID    string `msgpack:"chatId"`
	AvatarURL string `msgpack:"avatarUrl"`
	IsOnline  bool   `msgpack:"isOnline"`
	LastSeen  int64  `msgpack:"lastSeen"`
	CreatedAt int64  `msgpack:"createdAt"`
	UpdatedAt int64  `msgpack:"updatedAt"`
}

func (p *DBProfile) Key() []byte {
	return []byte(p.UserID)
}

func (p *DBProfile) MarshalBinary() (data []byte, err error) {
	type alias DBProfile
	return msgpack.Marshal((*alias)(p))
}

func (p *DBProfile) UnmarshalBinary(data []byte) error {
	type alias DBProfile
	return msgpack.Unmarshal(data, (*alias)(p))
}

type DBCredentials struct {
	UserID       string `msgpack:"userId"`
	Email        string `msgpack:"email"`
	PasswordHash []byte `msgpack:"passwordHash"`
}

func (c *DBCredentials) Key() []byte {
	return []byte(c.Email)
}

func (c *DBCredentials) MarshalBinary() (data []byte, err error) {
	type alias DBCredentials
	return msgpack.Marshal((*alias)(c))
}

func (c *DBCredentials) UnmarshalBinary(data []byte) error {
	type alias DBCredentials
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	ID          string `msgpack:"id"`
	SenderID    string `msgpack:"senderId"`
	ReceiverID  string `msgpack:"receiverId"`
	Content     string `msgpack:"content"`
	ImageURL    string `msgpack:"imageUrl"`
	IsPrivate   bool   `msgpack:"isPrivate"`
	CreatedAt   int64  `msgpack:"createdAt"`
	ClientToken string `msgpack:"clientToken"`
}

// Key orders messages by creation time; the id suffix breaks ties between
// rows created in the same nanosecond.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8, 8+len(m.ID))
	binary.BigEndian.PutUint64(key, uint64(m.CreatedAt))
	return append(key, m.ID...)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBCrumb struct {
	ID        string `msgpack:"id"`
	UserID    string `msgpack:"userId"`
	Content   string `msgpack:"content"`
	ImageURL  string `msgpack:"imageUrl"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (c *DBCrumb) Key() []byte {
	key := make([]byte, 8, 8+len(c.ID))
	binary.BigEndian.PutUint64(key, uint64(c.CreatedAt))
	return append(key, c.ID...)
}

func (c *DBCrumb) MarshalBinary() (data []byte, err error) {
	type alias DBCrumb
	return msgpack.Marshal((*alias)(c))
}

func (c *DBCrumb) UnmarshalBinary(data []byte) error {
	type alias DBCrumb
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBObject struct {
	Path        string `msgpack:"path"`
	ContentType string `msgpack:"contentType"`
	Size        int64  `msgpack:"size"`
	CreatedAt   int64  `msgpack:"createdAt"`
}

func (o *DBObject) Key() []byte {
	return []byte(o.Path)
}

func (o *DBObject) MarshalBinary() (data []byte, err error) {
	type alias DBObject
	return msgpack.Marshal((*alias)(o))
}

func (o *DBObject) UnmarshalBinary(data []byte) error {
	type alias DBObject
	return msgpack.Unmarshal(data, (*alias)(o))
}

type DBPushSubscription struct {
	UserID   string `msgpack:"userId"`
	Endpoint string `msgpack:"endpoint"`
	P256dh   string `msgpack:"p256dh"`
	Auth     string `msgpack:"auth"`
}

func (s *DBPushSubscription) Key() []byte {
	return []byte(s.UserID + "|" + s.Endpoint)
}

func (s *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}
