package types

import (
	"time"
)

type User struct {
	Id           int        `json:"id"`
	Username     string     `json:"username"`
	EmailAddress string     `json:"email_address,omitempty"`
	Password     string     `json:"-"`
	Status       string     `json:"status,omitempty"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	CreatedAt    time.Time  `json:"created_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at,omitempty"`
}

const (
	UserStatusOnline  = "online"
	UserStatusOffline = "offline"
)

const (
	ChatTypeDirect = "direct"
	ChatTypeGroup  = "group"
)

type Chat struct {
	Id          int          `json:"id"`
	ExternalId  string       `json:"external_id"`
	Type        string       `json:"type"`
	Name        string       `json:"name,omitempty"`
	OwnerId     int          `json:"owner_id"`
	Members     []ChatMember `json:"members,omitempty"`
	LastMessage *Message     `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at,omitempty"`
}

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

type ChatMember struct {
	UserId     int        `json:"user_id"`
	Username   string     `json:"username,omitempty"`
	Role       string     `json:"role"`
	JoinedAt   time.Time  `json:"joined_at,omitempty"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
	IsPresent  bool       `json:"is_present,omitempty"`
}

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
	MessageTypeAudio = "audio"
	MessageTypeVideo = "video"
)

func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio, MessageTypeVideo:
		return true
	}
	return false
}

type Message struct {
	Id        string     `json:"id"`
	ChatId    string     `json:"chat_id"`
	SenderId  int        `json:"sender_id"`
	Content   string     `json:"content"`
	Type      string     `json:"type"`
	FileUrl   string     `json:"file_url,omitempty"`
	ReplyToId string     `json:"reply_to_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

const (
	ContactPending  = "pending"
	ContactAccepted = "accepted"
	ContactBlocked  = "blocked"
)

type Contact struct {
	Id          int       `json:"id"`
	RequesterId int       `json:"requester_id"`
	AddresseeId int       `json:"addressee_id"`
	Status      string    `json:"status"`
	User        User      `json:"user"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}
