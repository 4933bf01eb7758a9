package models

import (
	"time"
)

// Transaction kinds recorded in the token ledger.
const (
	KindPurchase        = "purchase"
	KindBid             = "bid"
	KindRefund          = "refund"
	KindBonus           = "bonus"
	KindReward          = "reward"
	KindAdminAdjustment = "admin_adjustment"
)

// Bid statuses. Transitions past "active" are owned by the settlement worker.
const (
	BidStatusActive    = "active"
	BidStatusSettled   = "settled"
	BidStatusCancelled = "cancelled"
)

type TokenBalance struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TokenTransaction is an immutable, append-only record of a balance change.
// Amount is signed: positive = credit, negative = debit.
type TokenTransaction struct {
	ID          string            `json:"id" db:"id"`
	UserID      string            `json:"user_id" db:"user_id"`
	Amount      int64             `json:"amount" db:"amount"`
	Kind        string            `json:"kind" db:"kind"`
	Description string            `json:"description" db:"description"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"metadata"`
	PaymentRef  string            `json:"paymentRef,omitempty" db:"payment_ref"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// Bid ties a debit to a catalog item. One row per (user, song); a repeated
// bid replaces the previous one rather than stacking.
type Bid struct {
	UserID    string    `json:"user_id" db:"user_id"`
	SongID    string    `json:"songId" db:"song_id"`
	EventID   string    `json:"eventId,omitempty" db:"event_id"`
	Amount    int64     `json:"amount" db:"amount"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TokenAuditEntry records an admin adjustment with before/after balances.
type TokenAuditEntry struct {
	ID           string    `json:"id" db:"id"`
	ActorID      string    `json:"actor_id" db:"actor_id"`
	TargetUserID string    `json:"target_user_id" db:"target_user_id"`
	OldBalance   int64     `json:"old_balance" db:"old_balance"`
	NewBalance   int64     `json:"new_balance" db:"new_balance"`
	Reason       string    `json:"reason" db:"reason"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
