package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/djei/backend/internal/middleware"
	"github.com/djei/backend/internal/models"
)

func newTokenServiceForTest(t *testing.T) (*TokenService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	ledger := NewTokenLedgerService(db, nil, zerolog.Nop())
	return NewTokenService(ledger, zerolog.Nop()), mock, db
}

func authenticatedRequest(method, target string, body []byte, userID string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, userID)
	return req.WithContext(ctx)
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestTokenService_GetBalance(t *testing.T) {
	service, mock, db := newTokenServiceForTest(t)
	defer db.Close()

	t.Run("returns balance", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM token_balances").
			WithArgs("user_1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(150))

		rec := httptest.NewRecorder()
		service.GetBalance(rec, authenticatedRequest(http.MethodGet, "/api/v1/tokens/balance", nil, "user_1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeResponse(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(150), body["balance"])
	})

	t.Run("rejects unauthenticated request", func(t *testing.T) {
		rec := httptest.NewRecorder()
		service.GetBalance(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tokens/balance", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenService_Purchase(t *testing.T) {
	service, mock, db := newTokenServiceForTest(t)
	defer db.Close()

	t.Run("credits the purchased package", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM token_transactions WHERE payment_ref").
			WithArgs("pi_abc").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("INSERT INTO token_balances").
			WithArgs("user_1", int64(100)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(100))
		mock.ExpectExec("INSERT INTO token_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		payload := []byte(`{"amount":100,"packageType":"100","paymentIntentId":"pi_abc"}`)
		rec := httptest.NewRecorder()
		service.Purchase(rec, authenticatedRequest(http.MethodPost, "/api/v1/tokens/purchase", payload, "user_1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeResponse(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(100), body["newBalance"])
		assert.Equal(t, float64(100), body["amountAdded"])
	})

	t.Run("rejects unknown package type", func(t *testing.T) {
		payload := []byte(`{"amount":100,"packageType":"123","paymentIntentId":"pi_abc"}`)
		rec := httptest.NewRecorder()
		service.Purchase(rec, authenticatedRequest(http.MethodPost, "/api/v1/tokens/purchase", payload, "user_1"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeResponse(t, rec)
		assert.Equal(t, false, body["success"])
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		payload := []byte(`{"amount":100,"packageType":"100","paymentIntentId":"pi_abc","admin":true}`)
		rec := httptest.NewRecorder()
		service.Purchase(rec, authenticatedRequest(http.MethodPost, "/api/v1/tokens/purchase", payload, "user_1"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenService_Bid(t *testing.T) {
	service, mock, db := newTokenServiceForTest(t)
	defer db.Close()

	now := time.Now()

	t.Run("places a bid", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE token_balances").
			WithArgs(int64(25), "user_1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(75))
		mock.ExpectExec("INSERT INTO token_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("INSERT INTO bids").
			WithArgs("user_1", "song_1", "", int64(25), models.BidStatusActive).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectCommit()

		payload := []byte(`{"songId":"song_1","bidAmount":25}`)
		rec := httptest.NewRecorder()
		service.Bid(rec, authenticatedRequest(http.MethodPost, "/api/v1/tokens/bid", payload, "user_1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeResponse(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(75), body["newBalance"])
		assert.Equal(t, "song_1", body["songId"])
	})

	t.Run("reports insufficient tokens with balance details", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE token_balances").
			WithArgs(int64(500), "user_1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT COALESCE").
			WithArgs("user_1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(75))
		mock.ExpectRollback()

		payload := []byte(`{"songId":"song_1","bidAmount":500}`)
		rec := httptest.NewRecorder()
		service.Bid(rec, authenticatedRequest(http.MethodPost, "/api/v1/tokens/bid", payload, "user_1"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeResponse(t, rec)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "Insufficient tokens", body["error"])
		assert.Equal(t, float64(75), body["currentBalance"])
		assert.Equal(t, float64(500), body["required"])
	})

	t.Run("rejects bid above cap", func(t *testing.T) {
		payload := []byte(`{"songId":"song_1","bidAmount":5000}`)
		rec := httptest.NewRecorder()
		service.Bid(rec, authenticatedRequest(http.MethodPost, "/api/v1/tokens/bid", payload, "user_1"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenService_ListTransactions(t *testing.T) {
	service, mock, db := newTokenServiceForTest(t)
	defer db.Close()

	t.Run("applies default pagination", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, amount, kind, description, metadata").
			WithArgs("user_1", 21, 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "kind", "description", "metadata", "payment_ref", "created_at"}).
				AddRow("tx_1", "user_1", 100, "purchase", "Token package purchase", []byte(`{}`), "pi_1", time.Now()))

		rec := httptest.NewRecorder()
		service.ListTransactions(rec, authenticatedRequest(http.MethodGet, "/api/v1/tokens/transactions", nil, "user_1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeResponse(t, rec)
		pagination := body["pagination"].(map[string]any)
		assert.Equal(t, float64(1), pagination["page"])
		assert.Equal(t, float64(20), pagination["limit"])
		assert.Equal(t, false, pagination["hasMore"])
	})

	t.Run("rejects limit above 100", func(t *testing.T) {
		rec := httptest.NewRecorder()
		service.ListTransactions(rec, authenticatedRequest(http.MethodGet, "/api/v1/tokens/transactions?limit=500", nil, "user_1"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenService_AdminAdjust(t *testing.T) {
	service, mock, db := newTokenServiceForTest(t)
	defer db.Close()

	t.Run("applies adjustment", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT balance FROM token_balances").
			WithArgs("user_2").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(50))
		mock.ExpectExec("UPDATE token_balances SET balance").
			WithArgs(int64(150), "user_2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO token_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO token_audit_log").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		payload := []byte(`{"userId":"user_2","adjustment":100,"reason":"promo compensation"}`)
		rec := httptest.NewRecorder()
		service.AdminAdjust(rec, authenticatedRequest(http.MethodPost, "/api/v1/tokens/admin/adjust", payload, "admin_1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeResponse(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(150), body["newBalance"])
	})

	t.Run("rejects short reason", func(t *testing.T) {
		payload := []byte(`{"userId":"user_2","adjustment":100,"reason":"ok"}`)
		rec := httptest.NewRecorder()
		service.AdminAdjust(rec, authenticatedRequest(http.MethodPost, "/api/v1/tokens/admin/adjust", payload, "admin_1"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
