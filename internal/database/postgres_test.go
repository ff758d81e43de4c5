package database

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/dhui/dktest"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pigeon-chat/pigeon/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pgImage    = "postgres:16-alpine"
	pgPassword = "pigeon"
)

var pgOpts = dktest.Options{
	Env:          map[string]string{"POSTGRES_PASSWORD": pgPassword},
	PortRequired: true,
	ReadyTimeout: time.Minute,
	ReadyFunc:    pgReady,
}

func pgConnString(c dktest.ContainerInfo) (string, error) {
	ip, port, err := c.FirstPort()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("postgres://postgres:%s@%s:%s/postgres?sslmode=disable", pgPassword, ip, port), nil
}

func pgReady(ctx context.Context, c dktest.ContainerInfo) bool {
	dsn, err := pgConnString(c)
	if err != nil {
		return false
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return false
	}
	defer db.Close()

	return db.PingContext(ctx) == nil
}

func newPgTestRepository(t *testing.T, c dktest.ContainerInfo) *PgRepository {
	t.Helper()

	dsn, err := pgConnString(c)
	require.NoError(t, err, "expected the container to expose a port")

	db, err := NewPgRepository(dsn)
	require.NoError(t, err, "expected to connect to the test database")
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(), "expected migrations to apply")
	return db
}

func seedAccount(t *testing.T, db *PgRepository, username string) Account {
	t.Helper()

	a, err := db.CreateAccount(CreateAccountParams{
		Username:     username,
		EmailAddress: username + "@example.com",
		PasswordHash: "not-a-real-hash",
	})
	require.NoError(t, err, "expected the account to be created")
	return a
}

func seedGroupChat(t *testing.T, db *PgRepository, externalId string, owner Account, members ...Account) Chat {
	t.Helper()

	memberIds := make([]int, len(members))
	for i, m := range members {
		memberIds[i] = m.Id
	}

	chat, err := db.CreateChat(CreateChatParams{
		Type:       types.ChatTypeGroup,
		Name:       "loft",
		OwnerId:    owner.Id,
		ExternalId: externalId,
		MemberIds:  memberIds,
	})
	require.NoError(t, err, "expected the chat to be created")
	return chat
}

func seedMessage(t *testing.T, db *PgRepository, chat Chat, sender Account, content string, at time.Time) Message {
	t.Helper()

	msg, err := db.CreateMessage(CreateMessageParams{
		Id:        uuid.NewString(),
		ChatId:    chat.Id,
		SenderId:  sender.Id,
		Content:   content,
		Type:      types.MessageTypeText,
		CreatedAt: at,
	})
	require.NoError(t, err, "expected the message to be created")
	return msg
}

// TestPgRepository runs the queries whose behavior lives in SQL against a
// containerized Postgres.
func TestPgRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping containerized database tests in short mode")
	}

	dktest.Run(t, pgImage, pgOpts, func(t *testing.T, c dktest.ContainerInfo) {
		db := newPgTestRepository(t, c)
		base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)

		t.Run("last read watermark is monotonic", func(t *testing.T) {
			owner := seedAccount(t, db, "watermark-owner")
			reader := seedAccount(t, db, "watermark-reader")
			chat := seedGroupChat(t, db, "wm1234", owner, reader)

			later := base.Add(10 * time.Minute)
			earlier := base.Add(5 * time.Minute)

			require.NoError(t, db.UpdateLastRead(chat.Id, reader.Id, later))
			// a stale update must not move the watermark backwards
			require.NoError(t, db.UpdateLastRead(chat.Id, reader.Id, earlier))

			var lastRead time.Time
			err := db.conn.QueryRow(
				"SELECT last_read_at FROM chat_members WHERE chat_id = $1 AND account_id = $2",
				chat.Id,
				reader.Id,
			).Scan(&lastRead)
			require.NoError(t, err, "expected a watermark row")
			assert.WithinDuration(t, later, lastRead, time.Millisecond, "expected the watermark to keep the later time")
		})

		t.Run("unread count without a watermark counts from the epoch", func(t *testing.T) {
			owner := seedAccount(t, db, "unread-owner")
			reader := seedAccount(t, db, "unread-reader")
			chat := seedGroupChat(t, db, "ur1234", owner, reader)

			first := seedMessage(t, db, chat, owner, "first", base.Add(time.Minute))
			seedMessage(t, db, chat, owner, "second", base.Add(2*time.Minute))
			// the reader's own message never counts as unread
			seedMessage(t, db, chat, reader, "mine", base.Add(3*time.Minute))

			unread, err := db.UnreadCount(chat.Id, reader.Id)
			require.NoError(t, err)
			assert.Equal(t, 2, unread, "expected every other member's message unread before any watermark")

			require.NoError(t, db.UpdateLastRead(chat.Id, reader.Id, first.CreatedAt))

			unread, err = db.UnreadCount(chat.Id, reader.Id)
			require.NoError(t, err)
			assert.Equal(t, 1, unread, "expected only the message past the watermark")
		})

		t.Run("read receipt upsert is idempotent", func(t *testing.T) {
			owner := seedAccount(t, db, "receipt-owner")
			reader := seedAccount(t, db, "receipt-reader")
			chat := seedGroupChat(t, db, "rr1234", owner, reader)
			msg := seedMessage(t, db, chat, owner, "receipted", base.Add(time.Minute))

			firstRead := base.Add(2 * time.Minute)
			secondRead := base.Add(3 * time.Minute)

			require.NoError(t, db.UpsertReadReceipt(msg.Id, reader.Id, firstRead))
			require.NoError(t, db.UpsertReadReceipt(msg.Id, reader.Id, secondRead))

			var count int
			var readAt time.Time
			err := db.conn.QueryRow(
				"SELECT COUNT(*), MAX(read_at) FROM message_reads WHERE message_id = $1 AND account_id = $2",
				msg.Id,
				reader.Id,
			).Scan(&count, &readAt)
			require.NoError(t, err)
			assert.Equal(t, 1, count, "expected a single receipt row after re-reading")
			assert.WithinDuration(t, secondRead, readAt, time.Millisecond, "expected the receipt to carry the latest read time")
		})

		t.Run("delivery record keeps the first timestamp", func(t *testing.T) {
			owner := seedAccount(t, db, "delivery-owner")
			receiver := seedAccount(t, db, "delivery-receiver")
			chat := seedGroupChat(t, db, "dl1234", owner, receiver)
			msg := seedMessage(t, db, chat, owner, "delivered", base.Add(time.Minute))

			firstDelivery := base.Add(2 * time.Minute)

			require.NoError(t, db.RecordDelivery(msg.Id, receiver.Id, firstDelivery))
			require.NoError(t, db.RecordDelivery(msg.Id, receiver.Id, base.Add(3*time.Minute)))

			var count int
			var deliveredAt time.Time
			err := db.conn.QueryRow(
				"SELECT COUNT(*), MAX(delivered_at) FROM message_deliveries WHERE message_id = $1 AND account_id = $2",
				msg.Id,
				receiver.Id,
			).Scan(&count, &deliveredAt)
			require.NoError(t, err)
			assert.Equal(t, 1, count, "expected a single delivery row")
			assert.WithinDuration(t, firstDelivery, deliveredAt, time.Millisecond, "expected the original delivery time kept")
		})
	})
}
