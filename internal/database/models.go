package database

import (
	"database/sql"
	"time"
)

type Account struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	Status       string
	LastSeen     sql.NullTime
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Contact struct {
	Id          int
	RequesterId int
	AddresseeId int
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Counterpart is the other account in the relationship, populated by
	// list queries relative to the requesting account.
	Counterpart Account
}

type Chat struct {
	Id         int
	ExternalId string
	Type       string
	Name       string
	OwnerId    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Members    []ChatMember
}

type ChatMember struct {
	Id         int
	ChatId     int
	AccountId  int
	Username   string
	Role       string
	LastReadAt sql.NullTime
	CreatedAt  time.Time
}

type Message struct {
	Id             string
	ChatId         int
	ChatExternalId string
	SenderId       int
	Content        string
	Type           string
	FileUrl        string
	ReplyToId      sql.NullString
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      sql.NullTime
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type UpdateAccountParams struct {
	AccountId    int
	Username     string
	PasswordHash string
}

type CreateChatParams struct {
	Type       string
	Name       string
	OwnerId    int
	ExternalId string
	MemberIds  []int
}

type CreateMessageParams struct {
	Id        string
	ChatId    int
	SenderId  int
	Content   string
	Type      string
	FileUrl   string
	ReplyToId string
	CreatedAt time.Time
}
