// Package store persists chats, messages, attachments, payment receipts,
// and per-wallet usage aggregates. The rest of the system treats it as an
// opaque collaborator keyed by ids; only this package mutates durable state.
package store

import (
	"context"
	"time"
)

// PaymentStatus marks whether a stored message was paid for. A message row
// is only ever written with StatusPaid after a successful settlement.
type PaymentStatus string

const (
	StatusFree PaymentStatus = "free" // assistant/system rows, no charge
	StatusPaid PaymentStatus = "paid"
)

// Chat is one conversation owned by a wallet.
type Chat struct {
	ID            string
	WalletAddress string
	Title         string
	CreatedAt     time.Time
}

// Message is one stored turn. TransactionID is the durable settlement
// receipt for paid user messages.
type Message struct {
	ID            string
	ChatID        string
	Role          string
	Content       string
	Model         string
	PaymentStatus PaymentStatus
	TransactionID string
	CreatedAt     time.Time
}

// Attachment is one file attached to a stored message. DataURL retains the
// original data:<mime>;base64 form so vision history can be reconstructed.
type Attachment struct {
	ID        string
	MessageID string
	Name      string
	MimeType  string
	Size      int64
	DataURL   string
}

// Payment is a durable settlement record.
type Payment struct {
	Transaction string
	Network     string
	Amount      string
	Payer       string
	Model       string
	CreatedAt   time.Time
}

// Store is the persistence contract. Implementations must be safe for
// concurrent use.
type Store interface {
	Migrate(ctx context.Context) error

	CreateChat(ctx context.Context, c Chat) error
	GetChat(ctx context.Context, id string) (*Chat, error)
	CountMessages(ctx context.Context, chatID string) (int, error)
	ListMessages(ctx context.Context, chatID string, limit int) ([]Message, error)
	SaveMessage(ctx context.Context, m Message) error
	SaveAttachment(ctx context.Context, a Attachment) error
	ListAttachments(ctx context.Context, messageID string) ([]Attachment, error)

	RecordPayment(ctx context.Context, p Payment) error
	BumpUsage(ctx context.Context, wallet string, amount string) error

	Close() error
}
