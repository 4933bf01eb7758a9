package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/djei/backend/internal/audit"
	"github.com/djei/backend/internal/models"
)

// TxLogRetryQueue is the Redis list holding transaction-log appends that
// failed after their balance mutation committed. A recovery worker drains it.
const TxLogRetryQueue = "ledger:txlog:retry"

// InsufficientFundsError rejects a debit that exceeds the current balance.
// No mutation happens when it is returned.
type InsufficientFundsError struct {
	Current  int64
	Required int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient tokens: have %d, need %d", e.Current, e.Required)
}

// CreditResult distinguishes "balance committed, log append failed" from
// full success. LogErr is non-nil when the transaction log could not be
// written; the balance mutation is authoritative either way.
type CreditResult struct {
	NewBalance       int64
	AmountAdded      int64
	AlreadyProcessed bool
	LogErr           error
}

// TokenLedgerService owns token balances and the append-only transaction
// log. Balance mutations are never performed as unguarded read-then-write
// pairs: debits are a single conditional UPDATE, admin adjustments lock the
// balance row for the duration of the read-modify-write.
type TokenLedgerService struct {
	db     *sql.DB
	redis  *redis.Client
	audit  *audit.Logger
	logger zerolog.Logger
}

func NewTokenLedgerService(db *sql.DB, redisClient *redis.Client, logger zerolog.Logger) *TokenLedgerService {
	return &TokenLedgerService{
		db:     db,
		redis:  redisClient,
		audit:  audit.NewLogger(logger),
		logger: logger,
	}
}

// GetBalance returns the current balance, 0 for accounts never credited.
func (s *TokenLedgerService) GetBalance(userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(`SELECT balance FROM token_balances WHERE user_id = $1`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to fetch balance: %w", err)
	}
	return balance, nil
}

// Credit adds amount to the account, creating the balance row lazily. When
// paymentRef is set it acts as a dedup key: a credit carrying an already
// processed reference is a no-op returning the current balance. The probe,
// the balance upsert and the transaction-log insert share one DB transaction,
// so two concurrent credits racing past the probe cannot both land — the
// UNIQUE index on payment_ref aborts the loser and rolls its increment back.
//
// A log append that fails for any reason other than a duplicate reference
// does not fail the credit; the balance mutation is reapplied on its own and
// the missing entry is surfaced in the result, logged, and queued for retry.
func (s *TokenLedgerService) Credit(userID string, amount int64, kind, description string, metadata map[string]string, paymentRef string) (*CreditResult, error) {
	if amount <= 0 {
		return nil, errors.New("credit amount must be positive")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if paymentRef != "" {
		var existingID string
		err := tx.QueryRow(`SELECT id FROM token_transactions WHERE payment_ref = $1`, paymentRef).Scan(&existingID)
		if err == nil {
			return s.duplicateCreditResult(userID, paymentRef)
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to check payment reference: %w", err)
		}
	}

	var newBalance int64
	err = tx.QueryRow(`
		INSERT INTO token_balances (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET balance = token_balances.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING balance`, userID, amount).Scan(&newBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to credit balance: %w", err)
	}

	txn := models.TokenTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		Metadata:    metadata,
		PaymentRef:  paymentRef,
		CreatedAt:   time.Now(),
	}

	result := &CreditResult{NewBalance: newBalance, AmountAdded: amount}
	if err := s.appendTransaction(tx, &txn); err != nil {
		tx.Rollback()

		if isUniqueViolation(err) {
			// A concurrent credit with the same reference won the race; its
			// increment stands, ours was rolled back.
			return s.duplicateCreditResult(userID, paymentRef)
		}

		// The credit itself must not be lost to a log failure: reapply the
		// balance mutation alone and hand the entry to the recovery worker.
		err2 := s.db.QueryRow(`
			INSERT INTO token_balances (user_id, balance, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (user_id)
			DO UPDATE SET balance = token_balances.balance + EXCLUDED.balance, updated_at = NOW()
			RETURNING balance`, userID, amount).Scan(&result.NewBalance)
		if err2 != nil {
			return nil, fmt.Errorf("failed to credit balance: %w", err2)
		}
		result.LogErr = err
		s.audit.LogError(txn.ID, userID, err)
		s.queueTxLogRetry(&txn)
		return result, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit credit: %w", err)
	}

	s.audit.LogMutation(txn.ID, userID, kind, amount, newBalance)
	return result, nil
}

func (s *TokenLedgerService) duplicateCreditResult(userID, paymentRef string) (*CreditResult, error) {
	balance, err := s.GetBalance(userID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", userID).Str("payment_ref", paymentRef).Msg("Duplicate purchase reference, skipping credit")
	return &CreditResult{NewBalance: balance, AmountAdded: 0, AlreadyProcessed: true}, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Debit subtracts amount from the account or fails with
// InsufficientFundsError without mutating anything. The sufficiency check
// and the write are one conditional statement, so concurrent debits can
// never drive the balance negative.
func (s *TokenLedgerService) Debit(userID string, amount int64, kind, description string, metadata map[string]string) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("debit amount must be positive")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	newBalance, err := s.debitTx(tx, userID, amount)
	if err != nil {
		return 0, err
	}

	txn := models.TokenTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      -amount,
		Kind:        kind,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}
	if err := s.appendTransaction(tx, &txn); err != nil {
		return 0, fmt.Errorf("failed to record transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit debit: %w", err)
	}

	s.audit.LogMutation(txn.ID, userID, kind, -amount, newBalance)
	return newBalance, nil
}

// AdjustAsAdmin applies a signed adjustment clamped at zero, records a
// transaction carrying the amount actually applied, and writes an audit row
// naming the acting admin. Elevated privilege is verified by the caller.
func (s *TokenLedgerService) AdjustAsAdmin(actorID, targetUserID string, adjustment int64, reason string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRow(`SELECT balance FROM token_balances WHERE user_id = $1 FOR UPDATE`, targetUserID).Scan(&current)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO token_balances (user_id, balance, updated_at) VALUES ($1, 0, NOW())`, targetUserID); err != nil {
			return 0, fmt.Errorf("failed to initialize balance: %w", err)
		}
		current = 0
	} else if err != nil {
		return 0, fmt.Errorf("failed to lock balance: %w", err)
	}

	newBalance := current + adjustment
	if newBalance < 0 {
		newBalance = 0
	}
	applied := newBalance - current

	if _, err := tx.Exec(`UPDATE token_balances SET balance = $1, updated_at = NOW() WHERE user_id = $2`, newBalance, targetUserID); err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	txn := models.TokenTransaction{
		ID:          uuid.NewString(),
		UserID:      targetUserID,
		Amount:      applied,
		Kind:        models.KindAdminAdjustment,
		Description: reason,
		Metadata:    map[string]string{"actor_id": actorID},
		CreatedAt:   time.Now(),
	}
	if err := s.appendTransaction(tx, &txn); err != nil {
		return 0, fmt.Errorf("failed to record adjustment: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO token_audit_log (id, actor_id, target_user_id, old_balance, new_balance, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		uuid.NewString(), actorID, targetUserID, current, newBalance, reason); err != nil {
		return 0, fmt.Errorf("failed to write audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit adjustment: %w", err)
	}

	s.audit.LogAdjustment(actorID, targetUserID, current, newBalance, reason)
	return newBalance, nil
}

// ListTransactions returns one page of the transaction log, newest first,
// ties broken by insertion order. hasMore reports whether a further page
// exists.
func (s *TokenLedgerService) ListTransactions(userID string, page, pageSize int) ([]models.TokenTransaction, bool, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.db.Query(`
		SELECT id, user_id, amount, kind, description, metadata, COALESCE(payment_ref, ''), created_at
		FROM token_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, pageSize+1, offset)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.TokenTransaction{}
	for rows.Next() {
		var txn models.TokenTransaction
		var metadataRaw []byte
		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Amount, &txn.Kind, &txn.Description, &metadataRaw, &txn.PaymentRef, &txn.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &txn.Metadata); err != nil {
				s.logger.Warn().Err(err).Str("transaction_id", txn.ID).Msg("Malformed transaction metadata")
			}
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to read transactions: %w", err)
	}

	hasMore := len(transactions) > pageSize
	if hasMore {
		transactions = transactions[:pageSize]
	}
	return transactions, hasMore, nil
}

// PlaceBid debits bidAmount and upserts the bid keyed by (user, song): a
// repeated bid on the same song replaces the prior one rather than stacking.
// An insufficient-funds debit leaves the bid table untouched.
func (s *TokenLedgerService) PlaceBid(userID, songID, eventID string, bidAmount int64) (int64, *models.Bid, error) {
	if bidAmount <= 0 {
		return 0, nil, errors.New("bid amount must be positive")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	newBalance, err := s.debitTx(tx, userID, bidAmount)
	if err != nil {
		return 0, nil, err
	}

	txn := models.TokenTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      -bidAmount,
		Kind:        models.KindBid,
		Description: fmt.Sprintf("Bid on song %s", songID),
		Metadata:    map[string]string{"song_id": songID, "event_id": eventID},
		CreatedAt:   time.Now(),
	}
	if err := s.appendTransaction(tx, &txn); err != nil {
		return 0, nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	bid := models.Bid{
		UserID:  userID,
		SongID:  songID,
		EventID: eventID,
		Amount:  bidAmount,
		Status:  models.BidStatusActive,
	}
	err = tx.QueryRow(`
		INSERT INTO bids (user_id, song_id, event_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (user_id, song_id)
		DO UPDATE SET amount = EXCLUDED.amount, event_id = EXCLUDED.event_id, status = EXCLUDED.status, updated_at = NOW()
		RETURNING created_at, updated_at`,
		userID, songID, eventID, bidAmount, models.BidStatusActive).Scan(&bid.CreatedAt, &bid.UpdatedAt)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to upsert bid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("failed to commit bid: %w", err)
	}

	s.audit.LogMutation(txn.ID, userID, models.KindBid, -bidAmount, newBalance)
	return newBalance, &bid, nil
}

// debitTx performs the conditional debit inside tx. The WHERE clause is the
// sufficiency check; zero rows updated means insufficient funds and nothing
// was written.
func (s *TokenLedgerService) debitTx(tx *sql.Tx, userID string, amount int64) (int64, error) {
	var newBalance int64
	err := tx.QueryRow(`
		UPDATE token_balances
		SET balance = balance - $1, updated_at = NOW()
		WHERE user_id = $2 AND balance >= $1
		RETURNING balance`, amount, userID).Scan(&newBalance)
	if err == sql.ErrNoRows {
		var current int64
		if err := tx.QueryRow(`SELECT COALESCE((SELECT balance FROM token_balances WHERE user_id = $1), 0)`, userID).Scan(&current); err != nil {
			return 0, fmt.Errorf("failed to fetch balance: %w", err)
		}
		return 0, &InsufficientFundsError{Current: current, Required: amount}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to debit balance: %w", err)
	}
	return newBalance, nil
}

type execQueryer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *TokenLedgerService) appendTransaction(db execQueryer, txn *models.TokenTransaction) error {
	metadata := txn.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	var paymentRef any
	if txn.PaymentRef != "" {
		paymentRef = txn.PaymentRef
	}

	_, err = db.Exec(`
		INSERT INTO token_transactions (id, user_id, amount, kind, description, metadata, payment_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		txn.ID, txn.UserID, txn.Amount, txn.Kind, txn.Description, metadataJSON, paymentRef, txn.CreatedAt)
	return err
}

func (s *TokenLedgerService) queueTxLogRetry(txn *models.TokenTransaction) {
	if s.redis == nil {
		s.logger.Error().Str("transaction_id", txn.ID).Msg("Transaction log append failed and no retry queue available")
		return
	}
	data, err := json.Marshal(txn)
	if err != nil {
		s.logger.Error().Err(err).Str("transaction_id", txn.ID).Msg("Failed to marshal transaction for retry queue")
		return
	}
	if err := s.redis.RPush(context.Background(), TxLogRetryQueue, data).Err(); err != nil {
		s.logger.Error().Err(err).Str("transaction_id", txn.ID).Msg("Failed to queue transaction log retry")
	}
}
