package database

import "time"

type Repository interface {
	Ping() error

	CreateAccount(params CreateAccountParams) (Account, error)
	UpdateAccount(params UpdateAccountParams) (Account, error)
	GetAccountById(accountId int) (Account, error)
	GetAccountByEmail(email string) (Account, error)
	SearchAccounts(query string, excludeId, limit int) ([]Account, error)
	SetAccountPresence(accountId int, status string, lastSeen time.Time) error

	GetContactById(id int) (Contact, error)
	GetContactByPair(accountA, accountB int) (Contact, error)
	CreateContact(requesterId, addresseeId int) (Contact, error)
	UpdateContactStatus(id int, status string) (Contact, error)
	DeleteContact(id int) error
	ListContacts(accountId int) ([]Contact, error)
	ListPendingContacts(accountId int) ([]Contact, error)
	AcceptedContactIds(accountId int) ([]int, error)
	BlockedAccountIds(accountId int) ([]int, error)

	CreateChat(params CreateChatParams) (Chat, error)
	GetChatByExternalId(externalId string) (Chat, error)
	GetChatWithMembers(chatId int) (*Chat, error)
	FindDirectChat(accountA, accountB int) (Chat, error)
	ListChatsForAccount(accountId int) ([]Chat, error)
	UpdateChatName(id int, name string, at time.Time) (Chat, error)
	DeleteChat(id int) error

	AddChatMember(chatId, accountId int, role string) (ChatMember, error)
	RemoveChatMember(chatId, accountId int) error
	MemberExists(chatId, accountId int) bool
	UpdateLastRead(chatId, accountId int, at time.Time) error
	UnreadCount(chatId, accountId int) (int, error)

	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessageById(id string) (Message, error)
	UpdateMessageContent(id string, content string, at time.Time) (Message, error)
	SoftDeleteMessage(id string, at time.Time) error
	GetMessages(chatId int, cursorAt time.Time, cursorId string, limit int) ([]Message, error)
	LastMessage(chatId int) (*Message, error)
	SearchMessages(accountId, chatId int, term string, limit int) ([]Message, error)

	UpsertReadReceipt(messageId string, accountId int, at time.Time) error
	RecordDelivery(messageId string, accountId int, at time.Time) error
}
