package database

import (
	"database/sql"
	"fmt"
	"time"
)

const accountCols = "id, username, email, status, last_seen, created_at, updated_at"

func scanAccount(row *sql.Row) (Account, error) {
	var a Account
	err := row.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
		&a.Status,
		&a.LastSeen,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

func (db *PgRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	row := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING "+accountCols,
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	return scanAccount(row)
}

func (db *PgRepository) UpdateAccount(params UpdateAccountParams) (Account, error) {
	row := db.conn.QueryRow(
		"UPDATE accounts SET username = $2, password_hash = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING "+accountCols,
		params.AccountId,
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	)

	return scanAccount(row)
}

func (db *PgRepository) GetAccountById(accountId int) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT "+accountCols+" FROM accounts WHERE id = $1 LIMIT 1",
		accountId,
	)

	return scanAccount(row)
}

func (db *PgRepository) GetAccountByEmail(email string) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, status, last_seen, created_at, updated_at "+
			"FROM accounts WHERE email = $1 LIMIT 1",
		email,
	)

	var a Account
	err := row.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
		&a.PasswordHash,
		&a.Status,
		&a.LastSeen,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, err
}

func (db *PgRepository) SearchAccounts(query string, excludeId, limit int) ([]Account, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(
		"SELECT "+accountCols+" FROM accounts "+
			"WHERE id <> $1 AND (username ILIKE '%' || $2 || '%' OR email ILIKE '%' || $2 || '%') "+
			"ORDER BY username LIMIT $3",
		excludeId,
		query,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err = rows.Scan(&a.Id, &a.Username, &a.EmailAddress, &a.Status, &a.LastSeen, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}

func (db *PgRepository) SetAccountPresence(accountId int, status string, lastSeen time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE accounts SET status = $2, last_seen = $3 WHERE id = $1",
		accountId,
		status,
		lastSeen,
	)

	return err
}

const contactCols = "id, requester_id, addressee_id, status, created_at, updated_at"

func scanContact(row *sql.Row) (Contact, error) {
	var c Contact
	err := row.Scan(
		&c.Id,
		&c.RequesterId,
		&c.AddresseeId,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

func (db *PgRepository) GetContactById(id int) (Contact, error) {
	row := db.conn.QueryRow(
		"SELECT "+contactCols+" FROM contacts WHERE id = $1 LIMIT 1",
		id,
	)

	return scanContact(row)
}

func (db *PgRepository) GetContactByPair(accountA, accountB int) (Contact, error) {
	row := db.conn.QueryRow(
		"SELECT "+contactCols+" FROM contacts "+
			"WHERE LEAST(requester_id, addressee_id) = LEAST($1, $2) "+
			"AND GREATEST(requester_id, addressee_id) = GREATEST($1, $2) LIMIT 1",
		accountA,
		accountB,
	)

	return scanContact(row)
}

func (db *PgRepository) CreateContact(requesterId, addresseeId int) (Contact, error) {
	row := db.conn.QueryRow(
		"INSERT INTO contacts (requester_id, addressee_id, status, created_at, updated_at) "+
			"VALUES ($1, $2, 'pending', $3, $3) RETURNING "+contactCols,
		requesterId,
		addresseeId,
		time.Now().UTC(),
	)

	return scanContact(row)
}

func (db *PgRepository) UpdateContactStatus(id int, status string) (Contact, error) {
	row := db.conn.QueryRow(
		"UPDATE contacts SET status = $2, updated_at = $3 WHERE id = $1 RETURNING "+contactCols,
		id,
		status,
		time.Now().UTC(),
	)

	return scanContact(row)
}

func (db *PgRepository) DeleteContact(id int) error {
	_, err := db.conn.Exec("DELETE FROM contacts WHERE id = $1", id)
	return err
}

func (db *PgRepository) listContactsWithCounterpart(query string, accountId int) ([]Contact, error) {
	rows, err := db.conn.Query(query, accountId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err = rows.Scan(
			&c.Id,
			&c.RequesterId,
			&c.AddresseeId,
			&c.Status,
			&c.CreatedAt,
			&c.UpdatedAt,
			&c.Counterpart.Id,
			&c.Counterpart.Username,
			&c.Counterpart.EmailAddress,
			&c.Counterpart.Status,
			&c.Counterpart.LastSeen,
		); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}

	return contacts, rows.Err()
}

func (db *PgRepository) ListContacts(accountId int) ([]Contact, error) {
	query := "SELECT c.id, c.requester_id, c.addressee_id, c.status, c.created_at, c.updated_at, " +
		"a.id, a.username, a.email, a.status, a.last_seen " +
		"FROM contacts c JOIN accounts a " +
		"ON a.id = CASE WHEN c.requester_id = $1 THEN c.addressee_id ELSE c.requester_id END " +
		"WHERE (c.requester_id = $1 OR c.addressee_id = $1) AND c.status = 'accepted' " +
		"ORDER BY c.created_at DESC"

	return db.listContactsWithCounterpart(query, accountId)
}

func (db *PgRepository) ListPendingContacts(accountId int) ([]Contact, error) {
	query := "SELECT c.id, c.requester_id, c.addressee_id, c.status, c.created_at, c.updated_at, " +
		"a.id, a.username, a.email, a.status, a.last_seen " +
		"FROM contacts c JOIN accounts a ON a.id = c.requester_id " +
		"WHERE c.addressee_id = $1 AND c.status = 'pending' " +
		"ORDER BY c.created_at DESC"

	return db.listContactsWithCounterpart(query, accountId)
}

func (db *PgRepository) contactIdsByStatus(accountId int, status string) ([]int, error) {
	rows, err := db.conn.Query(
		"SELECT CASE WHEN requester_id = $1 THEN addressee_id ELSE requester_id END "+
			"FROM contacts WHERE (requester_id = $1 OR addressee_id = $1) AND status = $2",
		accountId,
		status,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (db *PgRepository) AcceptedContactIds(accountId int) ([]int, error) {
	return db.contactIdsByStatus(accountId, "accepted")
}

func (db *PgRepository) BlockedAccountIds(accountId int) ([]int, error) {
	return db.contactIdsByStatus(accountId, "blocked")
}

const chatCols = "id, external_id, type, name, owner_id, created_at, updated_at"

func scanChat(row *sql.Row) (Chat, error) {
	var c Chat
	err := row.Scan(
		&c.Id,
		&c.ExternalId,
		&c.Type,
		&c.Name,
		&c.OwnerId,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

func (db *PgRepository) CreateChat(params CreateChatParams) (Chat, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	row := tx.QueryRow(
		"INSERT INTO chats (external_id, type, name, owner_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING "+chatCols,
		params.ExternalId,
		params.Type,
		params.Name,
		params.OwnerId,
		time.Now().UTC(),
	)

	var chat Chat
	err = row.Scan(
		&chat.Id,
		&chat.ExternalId,
		&chat.Type,
		&chat.Name,
		&chat.OwnerId,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return Chat{}, err
	}

	members := append([]int{params.OwnerId}, params.MemberIds...)
	for i, accountId := range members {
		role := "member"
		if i == 0 {
			role = "admin"
		}

		_, err = tx.Exec(
			"INSERT INTO chat_members (chat_id, account_id, role, created_at) VALUES ($1, $2, $3, $4) "+
				"ON CONFLICT (chat_id, account_id) DO NOTHING",
			chat.Id,
			accountId,
			role,
			time.Now().UTC(),
		)
		if err != nil {
			return Chat{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return Chat{}, err
	}

	return chat, nil
}

func (db *PgRepository) GetChatByExternalId(externalId string) (Chat, error) {
	row := db.conn.QueryRow(
		"SELECT "+chatCols+" FROM chats WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	return scanChat(row)
}

func (db *PgRepository) UpdateChatName(id int, name string, at time.Time) (Chat, error) {
	row := db.conn.QueryRow(
		"UPDATE chats SET name = $2, updated_at = $3 WHERE id = $1 RETURNING "+chatCols,
		id,
		name,
		at,
	)

	return scanChat(row)
}

func (db *PgRepository) GetChatWithMembers(chatId int) (*Chat, error) {
	query := `
		SELECT
				c.id,
				c.external_id,
				c.type,
				c.name,
				c.owner_id,
				c.created_at,
				c.updated_at,
				m.id,
				m.account_id,
				a.username,
				m.role,
				m.last_read_at,
				m.created_at
		FROM chats c
		LEFT JOIN chat_members m ON c.id = m.chat_id
		LEFT JOIN accounts a ON m.account_id = a.id
		WHERE c.id = $1;
`

	rows, err := db.conn.Query(query, chatId)
	if err != nil {
		return nil, fmt.Errorf("fetch chat with members: %w", err)
	}
	defer rows.Close()

	var chat *Chat
	for rows.Next() {
		var (
			c               Chat
			memberId        sql.NullInt64
			memberAccountId sql.NullInt64
			memberUsername  sql.NullString
			memberRole      sql.NullString
			memberLastRead  sql.NullTime
			memberCreatedAt sql.NullTime
		)

		err := rows.Scan(
			&c.Id,
			&c.ExternalId,
			&c.Type,
			&c.Name,
			&c.OwnerId,
			&c.CreatedAt,
			&c.UpdatedAt,
			&memberId,
			&memberAccountId,
			&memberUsername,
			&memberRole,
			&memberLastRead,
			&memberCreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if chat == nil {
			c.Members = make([]ChatMember, 0)
			chat = &c
		}

		if memberAccountId.Valid {
			chat.Members = append(chat.Members, ChatMember{
				Id:         int(memberId.Int64),
				ChatId:     chat.Id,
				AccountId:  int(memberAccountId.Int64),
				Username:   memberUsername.String,
				Role:       memberRole.String,
				LastReadAt: memberLastRead,
				CreatedAt:  memberCreatedAt.Time,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if chat == nil {
		return nil, sql.ErrNoRows
	}

	return chat, nil
}

func (db *PgRepository) FindDirectChat(accountA, accountB int) (Chat, error) {
	row := db.conn.QueryRow(
		"SELECT c.id, c.external_id, c.type, c.name, c.owner_id, c.created_at, c.updated_at "+
			"FROM chats c "+
			"JOIN chat_members m1 ON m1.chat_id = c.id AND m1.account_id = $1 "+
			"JOIN chat_members m2 ON m2.chat_id = c.id AND m2.account_id = $2 "+
			"WHERE c.type = 'direct' LIMIT 1",
		accountA,
		accountB,
	)

	return scanChat(row)
}

func (db *PgRepository) ListChatsForAccount(accountId int) ([]Chat, error) {
	rows, err := db.conn.Query(
		"SELECT c.id, c.external_id, c.type, c.name, c.owner_id, c.created_at, c.updated_at "+
			"FROM chat_members m JOIN chats c ON c.id = m.chat_id "+
			"WHERE m.account_id = $1 ORDER BY c.updated_at DESC",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err = rows.Scan(&c.Id, &c.ExternalId, &c.Type, &c.Name, &c.OwnerId, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}

	return chats, rows.Err()
}

func (db *PgRepository) DeleteChat(id int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM message_deliveries WHERE message_id IN (SELECT id FROM messages WHERE chat_id = $1)", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM message_reads WHERE message_id IN (SELECT id FROM messages WHERE chat_id = $1)", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("UPDATE messages SET reply_to_id = NULL WHERE chat_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM messages WHERE chat_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM chat_members WHERE chat_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM chats WHERE id = $1", id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgRepository) AddChatMember(chatId, accountId int, role string) (ChatMember, error) {
	row := db.conn.QueryRow(
		"INSERT INTO chat_members (chat_id, account_id, role, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, chat_id, account_id, role, last_read_at, created_at",
		chatId,
		accountId,
		role,
		time.Now().UTC(),
	)

	var m ChatMember
	err := row.Scan(
		&m.Id,
		&m.ChatId,
		&m.AccountId,
		&m.Role,
		&m.LastReadAt,
		&m.CreatedAt,
	)

	return m, err
}

func (db *PgRepository) RemoveChatMember(chatId, accountId int) error {
	_, err := db.conn.Exec(
		"DELETE FROM chat_members WHERE chat_id = $1 AND account_id = $2",
		chatId,
		accountId,
	)

	return err
}

func (db *PgRepository) MemberExists(chatId, accountId int) bool {
	row := db.conn.QueryRow(
		"SELECT id FROM chat_members WHERE chat_id = $1 AND account_id = $2 LIMIT 1",
		chatId,
		accountId,
	)

	var id int
	return row.Scan(&id) == nil
}

func (db *PgRepository) UpdateLastRead(chatId, accountId int, at time.Time) error {
	// GREATEST keeps the watermark monotonic under racing updates
	_, err := db.conn.Exec(
		"UPDATE chat_members SET last_read_at = GREATEST(COALESCE(last_read_at, 'epoch'::timestamptz), $3) "+
			"WHERE chat_id = $1 AND account_id = $2",
		chatId,
		accountId,
		at,
	)

	return err
}

func (db *PgRepository) UnreadCount(chatId, accountId int) (int, error) {
	row := db.conn.QueryRow(
		"SELECT COUNT(*) FROM messages m "+
			"JOIN chat_members cm ON cm.chat_id = m.chat_id AND cm.account_id = $2 "+
			"WHERE m.chat_id = $1 AND m.sender_id <> $2 AND m.deleted_at IS NULL "+
			"AND m.created_at > COALESCE(cm.last_read_at, 'epoch'::timestamptz)",
		chatId,
		accountId,
	)

	var count int
	err := row.Scan(&count)
	return count, err
}

const messageCols = "m.id, m.chat_id, c.external_id, m.sender_id, m.content, m.type, m.file_url, m.reply_to_id, m.created_at, m.updated_at, m.deleted_at"

func scanMessage(row *sql.Row) (Message, error) {
	var m Message
	err := row.Scan(
		&m.Id,
		&m.ChatId,
		&m.ChatExternalId,
		&m.SenderId,
		&m.Content,
		&m.Type,
		&m.FileUrl,
		&m.ReplyToId,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.DeletedAt,
	)
	return m, err
}

func (db *PgRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"INSERT INTO messages (id, chat_id, sender_id, content, type, file_url, reply_to_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $8)",
		params.Id,
		params.ChatId,
		params.SenderId,
		params.Content,
		params.Type,
		params.FileUrl,
		params.ReplyToId,
		params.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	_, err = tx.Exec(
		"UPDATE chats SET updated_at = $2 WHERE id = $1",
		params.ChatId,
		params.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return db.GetMessageById(params.Id)
}

func (db *PgRepository) GetMessageById(id string) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT "+messageCols+" FROM messages m JOIN chats c ON c.id = m.chat_id WHERE m.id = $1 LIMIT 1",
		id,
	)

	return scanMessage(row)
}

func (db *PgRepository) UpdateMessageContent(id string, content string, at time.Time) (Message, error) {
	row := db.conn.QueryRow(
		"UPDATE messages m SET content = $2, updated_at = $3 FROM chats c "+
			"WHERE m.id = $1 AND c.id = m.chat_id AND m.deleted_at IS NULL RETURNING "+messageCols,
		id,
		content,
		at,
	)

	return scanMessage(row)
}

func (db *PgRepository) SoftDeleteMessage(id string, at time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE messages SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL",
		id,
		at,
	)

	return err
}

// GetMessages pages a chat's history newest-first. The cursor is the
// (created_at, id) of the oldest message on the previous page; zero values
// start from the latest message.
func (db *PgRepository) GetMessages(chatId int, cursorAt time.Time, cursorId string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + messageCols + " FROM messages m JOIN chats c ON c.id = m.chat_id " +
		"WHERE m.chat_id = $1 AND m.deleted_at IS NULL"
	args := []any{chatId}

	if !cursorAt.IsZero() {
		query += " AND (m.created_at, m.id) < ($2, $3::uuid)"
		args = append(args, cursorAt, cursorId)
	}

	query += fmt.Sprintf(" ORDER BY m.created_at DESC, m.id DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err = rows.Scan(
			&m.Id,
			&m.ChatId,
			&m.ChatExternalId,
			&m.SenderId,
			&m.Content,
			&m.Type,
			&m.FileUrl,
			&m.ReplyToId,
			&m.CreatedAt,
			&m.UpdatedAt,
			&m.DeletedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (db *PgRepository) LastMessage(chatId int) (*Message, error) {
	row := db.conn.QueryRow(
		"SELECT "+messageCols+" FROM messages m JOIN chats c ON c.id = m.chat_id "+
			"WHERE m.chat_id = $1 AND m.deleted_at IS NULL ORDER BY m.created_at DESC, m.id DESC LIMIT 1",
		chatId,
	)

	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// SearchMessages matches message content case-insensitively across the
// chats the account is a member of. A non-zero chatId narrows the search
// to that chat.
func (db *PgRepository) SearchMessages(accountId, chatId int, term string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}

	query := "SELECT " + messageCols + " FROM messages m " +
		"JOIN chats c ON c.id = m.chat_id " +
		"JOIN chat_members cm ON cm.chat_id = m.chat_id AND cm.account_id = $1 " +
		"WHERE m.deleted_at IS NULL AND m.content ILIKE '%' || $2 || '%'"
	args := []any{accountId, term}

	if chatId != 0 {
		query += " AND m.chat_id = $3"
		args = append(args, chatId)
	}

	query += fmt.Sprintf(" ORDER BY m.created_at DESC, m.id DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err = rows.Scan(
			&m.Id,
			&m.ChatId,
			&m.ChatExternalId,
			&m.SenderId,
			&m.Content,
			&m.Type,
			&m.FileUrl,
			&m.ReplyToId,
			&m.CreatedAt,
			&m.UpdatedAt,
			&m.DeletedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (db *PgRepository) UpsertReadReceipt(messageId string, accountId int, at time.Time) error {
	_, err := db.conn.Exec(
		"INSERT INTO message_reads (message_id, account_id, read_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (message_id, account_id) DO UPDATE SET read_at = EXCLUDED.read_at",
		messageId,
		accountId,
		at,
	)

	return err
}

func (db *PgRepository) RecordDelivery(messageId string, accountId int, at time.Time) error {
	// delivery means the message reached a live connection; reads are tracked separately
	_, err := db.conn.Exec(
		"INSERT INTO message_deliveries (message_id, account_id, delivered_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (message_id, account_id) DO NOTHING",
		messageId,
		accountId,
		at,
	)

	return err
}
