package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/weiawesome/alumni-chat/internal/config"
	"github.com/weiawesome/alumni-chat/internal/domain"
)

// CassandraSchema creates the tables CassandraMessageRepository reads and
// writes. message_id is a ULID, so clustering by it orders by creation time.
var CassandraSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages_by_conversation (
		conversation_key text,
		message_id text,
		sender_id text,
		recipient_id text,
		content text,
		message_type text,
		created_at timestamp,
		is_read boolean,
		read_at timestamp,
		PRIMARY KEY ((conversation_key), message_id)
	) WITH CLUSTERING ORDER BY (message_id DESC)`,
	`CREATE TABLE IF NOT EXISTS message_locator (
		message_id text PRIMARY KEY,
		conversation_key text
	)`,
	`CREATE TABLE IF NOT EXISTS unread_messages (
		recipient_id text,
		sender_id text,
		message_id text,
		PRIMARY KEY ((recipient_id), sender_id, message_id)
	)`,
}

const messageColumns = `message_id, sender_id, recipient_id, content, message_type, created_at, is_read, read_at`

// CassandraMessageRepository implements MessageRepository on Cassandra.
type CassandraMessageRepository struct {
	session *gocql.Session
}

// NewCassandraMessageRepository connects to the cluster described by cfg.
func NewCassandraMessageRepository(cfg config.CassandraConfig) (*CassandraMessageRepository, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.Timeout
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	return &CassandraMessageRepository{session: session}, nil
}

// EnsureSchema applies CassandraSchema.
func (r *CassandraMessageRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range CassandraSchema {
		if err := r.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply cassandra schema: %w", err)
		}
	}
	return nil
}

func (r *CassandraMessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	key := domain.PairKey(msg.SenderID, msg.RecipientID)

	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO messages_by_conversation (
			conversation_key, message_id, sender_id, recipient_id, content, message_type, created_at, is_read
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key, msg.ID, msg.SenderID, msg.RecipientID, msg.Content, string(msg.MessageType), msg.CreatedAt, false)
	batch.Query(`INSERT INTO message_locator (message_id, conversation_key) VALUES (?, ?)`, msg.ID, key)
	batch.Query(`INSERT INTO unread_messages (recipient_id, sender_id, message_id) VALUES (?, ?, ?)`,
		msg.RecipientID, msg.SenderID, msg.ID)

	if err := r.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (r *CassandraMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var key string
	err := r.session.Query(`SELECT conversation_key FROM message_locator WHERE message_id = ?`, id).
		WithContext(ctx).Scan(&key)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to locate message: %w", err)
	}

	iter := r.session.Query(
		`SELECT `+messageColumns+` FROM messages_by_conversation WHERE conversation_key = ? AND message_id = ?`,
		key, id,
	).WithContext(ctx).Iter()

	msgs, err := scanMessages(iter, 0)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrMessageNotFound
	}
	return msgs[0], nil
}

func (r *CassandraMessageRepository) ListConversation(ctx context.Context, a, b string, offset, limit int) ([]*domain.Message, int64, error) {
	key := domain.PairKey(a, b)

	var total int64
	if err := r.session.Query(`SELECT COUNT(*) FROM messages_by_conversation WHERE conversation_key = ?`, key).
		WithContext(ctx).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	// No OFFSET in CQL: read offset+limit rows newest first and skip.
	iter := r.session.Query(
		`SELECT `+messageColumns+` FROM messages_by_conversation WHERE conversation_key = ? LIMIT ?`,
		key, offset+limit,
	).WithContext(ctx).PageSize(limit).Iter()

	msgs, err := scanMessages(iter, offset)
	if err != nil {
		return nil, 0, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, total, nil
}

func (r *CassandraMessageRepository) LastMessage(ctx context.Context, a, b string) (*domain.Message, error) {
	iter := r.session.Query(
		`SELECT `+messageColumns+` FROM messages_by_conversation WHERE conversation_key = ? LIMIT 1`,
		domain.PairKey(a, b),
	).WithContext(ctx).Iter()

	msgs, err := scanMessages(iter, 0)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

func (r *CassandraMessageRepository) MarkConversationRead(ctx context.Context, readerID, senderID string, at time.Time) (int64, error) {
	iter := r.session.Query(
		`SELECT message_id FROM unread_messages WHERE recipient_id = ? AND sender_id = ?`,
		readerID, senderID,
	).WithContext(ctx).Iter()

	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to list unread messages: %w", err)
	}

	key := domain.PairKey(readerID, senderID)
	var changed int64
	for _, id := range ids {
		ok, err := r.markOne(ctx, key, readerID, senderID, id, at)
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

func (r *CassandraMessageRepository) MarkRead(ctx context.Context, readerID string, ids []string, at time.Time) (int64, error) {
	var changed int64
	for _, id := range ids {
		msg, err := r.GetByID(ctx, id)
		if err == ErrMessageNotFound {
			continue
		}
		if err != nil {
			return changed, err
		}
		if msg.RecipientID != readerID || msg.Read {
			continue
		}
		ok, err := r.markOne(ctx, domain.PairKey(msg.SenderID, msg.RecipientID), readerID, msg.SenderID, id, at)
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

// markOne flips a message to read with a lightweight transaction so
// read_at is written once, then drops its unread index row.
func (r *CassandraMessageRepository) markOne(ctx context.Context, key, readerID, senderID, id string, at time.Time) (bool, error) {
	applied, err := r.session.Query(
		`UPDATE messages_by_conversation SET is_read = true, read_at = ?
		 WHERE conversation_key = ? AND message_id = ? IF is_read = false`,
		at, key, id,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("failed to mark message read: %w", err)
	}

	if err := r.session.Query(
		`DELETE FROM unread_messages WHERE recipient_id = ? AND sender_id = ? AND message_id = ?`,
		readerID, senderID, id,
	).WithContext(ctx).Exec(); err != nil {
		return applied, fmt.Errorf("failed to clear unread index: %w", err)
	}
	return applied, nil
}

func (r *CassandraMessageRepository) CountUnread(ctx context.Context, recipientID, senderID string) (int64, error) {
	var count int64
	var err error
	if senderID == "" {
		err = r.session.Query(`SELECT COUNT(*) FROM unread_messages WHERE recipient_id = ?`, recipientID).
			WithContext(ctx).Scan(&count)
	} else {
		err = r.session.Query(`SELECT COUNT(*) FROM unread_messages WHERE recipient_id = ? AND sender_id = ?`,
			recipientID, senderID).WithContext(ctx).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

func (r *CassandraMessageRepository) Close() error {
	r.session.Close()
	return nil
}

func scanMessages(iter *gocql.Iter, skip int) ([]*domain.Message, error) {
	var (
		out                                   []*domain.Message
		id, sender, recipient, content, mtype string
		createdAt, readAt                     time.Time
		read                                  bool
		seen                                  int
	)
	for iter.Scan(&id, &sender, &recipient, &content, &mtype, &createdAt, &read, &readAt) {
		seen++
		if seen <= skip {
			continue
		}
		msg := &domain.Message{
			ID:          id,
			SenderID:    sender,
			RecipientID: recipient,
			Content:     content,
			MessageType: domain.MessageType(mtype),
			CreatedAt:   createdAt,
			Read:        read,
		}
		if read && !readAt.IsZero() {
			t := readAt
			msg.ReadAt = &t
		}
		out = append(out, msg)
		readAt = time.Time{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return out, nil
}

// parseConsistency converts a string consistency level to gocql.Consistency.
func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ONE":
		return gocql.One
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "EACH_QUORUM":
		return gocql.EachQuorum
	default:
		return gocql.LocalQuorum
	}
}

var _ MessageRepository = (*CassandraMessageRepository)(nil)
