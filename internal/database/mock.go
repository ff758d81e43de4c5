package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	args := m.Called(params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockRepository) UpdateAccount(params UpdateAccountParams) (Account, error) {
	args := m.Called(params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockRepository) GetAccountById(accountId int) (Account, error) {
	args := m.Called(accountId)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockRepository) GetAccountByEmail(email string) (Account, error) {
	args := m.Called(email)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockRepository) SearchAccounts(query string, excludeId, limit int) ([]Account, error) {
	args := m.Called(query, excludeId, limit)
	return args.Get(0).([]Account), args.Error(1)
}
func (m *MockRepository) SetAccountPresence(accountId int, status string, lastSeen time.Time) error {
	args := m.Called(accountId, status, lastSeen)
	return args.Error(0)
}
func (m *MockRepository) GetContactById(id int) (Contact, error) {
	args := m.Called(id)
	return args.Get(0).(Contact), args.Error(1)
}
func (m *MockRepository) GetContactByPair(accountA, accountB int) (Contact, error) {
	args := m.Called(accountA, accountB)
	return args.Get(0).(Contact), args.Error(1)
}
func (m *MockRepository) CreateContact(requesterId, addresseeId int) (Contact, error) {
	args := m.Called(requesterId, addresseeId)
	return args.Get(0).(Contact), args.Error(1)
}
func (m *MockRepository) UpdateContactStatus(id int, status string) (Contact, error) {
	args := m.Called(id, status)
	return args.Get(0).(Contact), args.Error(1)
}
func (m *MockRepository) DeleteContact(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockRepository) ListContacts(accountId int) ([]Contact, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Contact), args.Error(1)
}
func (m *MockRepository) ListPendingContacts(accountId int) ([]Contact, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Contact), args.Error(1)
}
func (m *MockRepository) AcceptedContactIds(accountId int) ([]int, error) {
	args := m.Called(accountId)
	return args.Get(0).([]int), args.Error(1)
}
func (m *MockRepository) BlockedAccountIds(accountId int) ([]int, error) {
	args := m.Called(accountId)
	return args.Get(0).([]int), args.Error(1)
}
func (m *MockRepository) CreateChat(params CreateChatParams) (Chat, error) {
	args := m.Called(params)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockRepository) GetChatByExternalId(externalId string) (Chat, error) {
	args := m.Called(externalId)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockRepository) GetChatWithMembers(chatId int) (*Chat, error) {
	args := m.Called(chatId)
	if chat, ok := args.Get(0).(*Chat); ok {
		return chat, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) FindDirectChat(accountA, accountB int) (Chat, error) {
	args := m.Called(accountA, accountB)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockRepository) ListChatsForAccount(accountId int) ([]Chat, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Chat), args.Error(1)
}
func (m *MockRepository) UpdateChatName(id int, name string, at time.Time) (Chat, error) {
	args := m.Called(id, name, at)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockRepository) DeleteChat(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockRepository) AddChatMember(chatId, accountId int, role string) (ChatMember, error) {
	args := m.Called(chatId, accountId, role)
	return args.Get(0).(ChatMember), args.Error(1)
}
func (m *MockRepository) RemoveChatMember(chatId, accountId int) error {
	args := m.Called(chatId, accountId)
	return args.Error(0)
}
func (m *MockRepository) MemberExists(chatId, accountId int) bool {
	args := m.Called(chatId, accountId)
	return args.Bool(0)
}
func (m *MockRepository) UpdateLastRead(chatId, accountId int, at time.Time) error {
	args := m.Called(chatId, accountId, at)
	return args.Error(0)
}
func (m *MockRepository) UnreadCount(chatId, accountId int) (int, error) {
	args := m.Called(chatId, accountId)
	return args.Int(0), args.Error(1)
}
func (m *MockRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessageById(id string) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) UpdateMessageContent(id string, content string, at time.Time) (Message, error) {
	args := m.Called(id, content, at)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) SoftDeleteMessage(id string, at time.Time) error {
	args := m.Called(id, at)
	return args.Error(0)
}
func (m *MockRepository) GetMessages(chatId int, cursorAt time.Time, cursorId string, limit int) ([]Message, error) {
	args := m.Called(chatId, cursorAt, cursorId, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) LastMessage(chatId int) (*Message, error) {
	args := m.Called(chatId)
	if msg, ok := args.Get(0).(*Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) SearchMessages(accountId, chatId int, term string, limit int) ([]Message, error) {
	args := m.Called(accountId, chatId, term, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) UpsertReadReceipt(messageId string, accountId int, at time.Time) error {
	args := m.Called(messageId, accountId, at)
	return args.Error(0)
}
func (m *MockRepository) RecordDelivery(messageId string, accountId int, at time.Time) error {
	args := m.Called(messageId, accountId, at)
	return args.Error(0)
}
