package audit

import (
	"time"

	"github.com/rs/zerolog"
)

// Event is a structured record of a ledger mutation or failure. Events are
// emitted to the process log stream; admin adjustments additionally persist
// a token_audit_log row, owned by the ledger service.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id,omitempty"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount,omitempty"`
	Status        string    `json:"status"`
	Details       any       `json:"details,omitempty"`
}

type Logger struct {
	log zerolog.Logger
}

func NewLogger(log zerolog.Logger) *Logger {
	return &Logger{log: log}
}

// LogMutation records a committed balance change.
func (a *Logger) LogMutation(transactionID, userID, kind string, amount, newBalance int64) {
	a.emit(Event{
		Timestamp:     time.Now(),
		EventType:     kind,
		TransactionID: transactionID,
		UserID:        userID,
		Amount:        amount,
		Status:        "SUCCESS",
		Details:       map[string]int64{"new_balance": newBalance},
	})
}

// LogAdjustment records an admin adjustment with the acting admin.
func (a *Logger) LogAdjustment(actorID, targetUserID string, oldBalance, newBalance int64, reason string) {
	a.emit(Event{
		Timestamp: time.Now(),
		EventType: "ADMIN_ADJUSTMENT",
		UserID:    targetUserID,
		Status:    "SUCCESS",
		Details: map[string]any{
			"actor_id":    actorID,
			"old_balance": oldBalance,
			"new_balance": newBalance,
			"reason":      reason,
		},
	})
}

// LogError records a failed ledger operation.
func (a *Logger) LogError(transactionID, userID string, err error) {
	a.emit(Event{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		TransactionID: transactionID,
		UserID:        userID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	})
}

func (a *Logger) emit(event Event) {
	a.log.Info().
		Str("audit_event", event.EventType).
		Str("transaction_id", event.TransactionID).
		Str("user_id", event.UserID).
		Int64("amount", event.Amount).
		Str("status", event.Status).
		Interface("details", event.Details).
		Msg("AUDIT")
}
