package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			wallet_address TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_wallet ON chats(wallet_address)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL REFERENCES chats(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			payment_status TEXT NOT NULL DEFAULT 'free',
			transaction_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id),
			name TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			data_url TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id)`,
		`CREATE TABLE IF NOT EXISTS payments (
			transaction_id TEXT PRIMARY KEY,
			network TEXT NOT NULL,
			amount INTEGER NOT NULL,
			payer TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_payer ON payments(payer)`,
		`CREATE TABLE IF NOT EXISTS usage_stats (
			wallet_address TEXT PRIMARY KEY,
			message_count INTEGER NOT NULL DEFAULT 0,
			total_spent INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateChat(ctx context.Context, c Chat) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, wallet_address, title, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.WalletAddress, c.Title, c.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, wallet_address, title, created_at FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.WalletAddress, &c.Title, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &c, nil
}

func (s *SQLiteStore) CountMessages(ctx context.Context, chatID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, model, payment_status, transaction_id, created_at
		 FROM messages WHERE chat_id = ? ORDER BY created_at ASC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var created string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.Model, &m.PaymentStatus, &m.TransactionID, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, m Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, content, model, payment_status, transaction_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.Role, m.Content, m.Model, m.PaymentStatus, m.TransactionID,
		m.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveAttachment(ctx context.Context, a Attachment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (id, message_id, name, mime_type, size, data_url)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.MessageID, a.Name, a.MimeType, a.Size, a.DataURL)
	if err != nil {
		return fmt.Errorf("save attachment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAttachments(ctx context.Context, messageID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, name, mime_type, size, data_url FROM attachments WHERE message_id = ?`,
		messageID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Name, &a.MimeType, &a.Size, &a.DataURL); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordPayment(ctx context.Context, p Payment) error {
	amount, err := strconv.ParseInt(p.Amount, 10, 64)
	if err != nil {
		return fmt.Errorf("record payment: bad amount %q: %w", p.Amount, err)
	}
	// INSERT OR IGNORE: replaying a settlement receipt is harmless.
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO payments (transaction_id, network, amount, payer, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.Transaction, p.Network, amount, p.Payer, p.Model,
		p.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) BumpUsage(ctx context.Context, wallet string, amount string) error {
	spent, err := strconv.ParseInt(amount, 10, 64)
	if err != nil {
		return fmt.Errorf("bump usage: bad amount %q: %w", amount, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO usage_stats (wallet_address, message_count, total_spent, updated_at)
		 VALUES (?, 1, ?, ?)
		 ON CONFLICT(wallet_address) DO UPDATE SET
			message_count = message_count + 1,
			total_spent = total_spent + excluded.total_spent,
			updated_at = excluded.updated_at`,
		wallet, spent, now)
	if err != nil {
		return fmt.Errorf("bump usage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
