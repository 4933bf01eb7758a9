package services

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/djei/backend/internal/middleware"
	"github.com/djei/backend/internal/models"
)

// TokenService exposes the token-ledger HTTP surface. All routes require an
// authenticated caller; the admin adjustment additionally requires the admin
// role, enforced by middleware.
type TokenService struct {
	ledger    *TokenLedgerService
	validator *ValidationHelper
	logger    zerolog.Logger
}

type PurchaseRequest struct {
	Amount          int64  `json:"amount" validate:"required,min=1,max=10000"`
	PackageType     string `json:"packageType" validate:"required,oneof=50 100 250 500"`
	PaymentIntentID string `json:"paymentIntentId" validate:"required"`
}

type BidRequest struct {
	SongID    string `json:"songId" validate:"required"`
	BidAmount int64  `json:"bidAmount" validate:"required,min=1,max=1000"`
	EventID   string `json:"eventId,omitempty" validate:"omitempty"`
}

type AdminAdjustRequest struct {
	UserID     string `json:"userId" validate:"required"`
	Adjustment int64  `json:"adjustment" validate:"required"`
	Reason     string `json:"reason" validate:"required,min=3,max=500"`
}

func NewTokenService(ledger *TokenLedgerService, logger zerolog.Logger) *TokenService {
	return &TokenService{
		ledger:    ledger,
		validator: NewValidationHelper(),
		logger:    logger,
	}
}

// GetBalance returns the caller's token balance
// @Summary Get token balance
// @Description Retrieve the authenticated user's current token balance
// @Tags tokens
// @Produce json
// @Success 200 {object} object{success=bool,balance=int64}
// @Failure 401 {object} ErrorResponse
// @Router /tokens/balance [get]
func (ts *TokenService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := ts.ledger.GetBalance(userID)
	if err != nil {
		ts.logger.Error().Err(err).Str("user_id", userID).Msg("Balance lookup failed")
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"balance": balance,
	})
}

// Purchase credits tokens after a completed payment
// @Summary Purchase tokens
// @Description Credit purchased tokens to the authenticated user's balance. Repeat calls with the same paymentIntentId do not double-credit.
// @Tags tokens
// @Accept json
// @Produce json
// @Param request body PurchaseRequest true "Purchase details"
// @Success 200 {object} object{success=bool,newBalance=int64,amountAdded=int64}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /tokens/purchase [post]
func (ts *TokenService) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req PurchaseRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := ts.ledger.Credit(userID, req.Amount, models.KindPurchase,
		"Token package purchase",
		map[string]string{"package_type": req.PackageType, "payment_intent_id": req.PaymentIntentID},
		req.PaymentIntentID)
	if err != nil {
		ts.logger.Error().Err(err).Str("user_id", userID).Msg("Purchase credit failed")
		SendErrorResponse(w, "Failed to process purchase", http.StatusInternalServerError, nil)
		return
	}
	if result.LogErr != nil {
		ts.logger.Error().Err(result.LogErr).Str("user_id", userID).Msg("Purchase committed but transaction log append failed")
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"success":     true,
		"newBalance":  result.NewBalance,
		"amountAdded": result.AmountAdded,
	})
}

// Bid places a token bid on a song
// @Summary Bid tokens on a song
// @Description Debit the bid amount and record an active bid. A repeated bid on the same song replaces the previous one.
// @Tags tokens
// @Accept json
// @Produce json
// @Param request body BidRequest true "Bid details"
// @Success 200 {object} object{success=bool,newBalance=int64,bidAmount=int64,songId=string}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /tokens/bid [post]
func (ts *TokenService) Bid(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req BidRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	newBalance, bid, err := ts.ledger.PlaceBid(userID, req.SongID, req.EventID, req.BidAmount)
	if err != nil {
		var insufficient *InsufficientFundsError
		if errors.As(err, &insufficient) {
			SendJSONResponse(w, http.StatusBadRequest, map[string]any{
				"success":        false,
				"error":          "Insufficient tokens",
				"currentBalance": insufficient.Current,
				"required":       insufficient.Required,
			})
			return
		}
		ts.logger.Error().Err(err).Str("user_id", userID).Str("song_id", req.SongID).Msg("Bid failed")
		SendErrorResponse(w, "Failed to place bid", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"success":    true,
		"newBalance": newBalance,
		"bidAmount":  bid.Amount,
		"songId":     bid.SongID,
	})
}

// ListTransactions returns the caller's transaction history
// @Summary List token transactions
// @Description Paginated transaction history, newest first
// @Tags tokens
// @Produce json
// @Param page query int false "Page number (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Success 200 {object} object{success=bool,transactions=[]models.TokenTransaction,pagination=object}
// @Failure 401 {object} ErrorResponse
// @Router /tokens/transactions [get]
func (ts *TokenService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Page  int `validate:"min=1"`
		Limit int `validate:"min=1,max=100"`
	}
	req.Page = 1
	req.Limit = 20

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil {
			req.Page = p
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			req.Limit = l
		}
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	transactions, hasMore, err := ts.ledger.ListTransactions(userID, req.Page, req.Limit)
	if err != nil {
		ts.logger.Error().Err(err).Str("user_id", userID).Msg("Transaction listing failed")
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"success":      true,
		"transactions": transactions,
		"pagination": map[string]any{
			"page":    req.Page,
			"limit":   req.Limit,
			"hasMore": hasMore,
		},
	})
}

// AdminAdjust applies a signed balance adjustment
// @Summary Adjust a user's balance (admin)
// @Description Apply a signed token adjustment to any account, clamped at zero. Requires the admin role.
// @Tags tokens
// @Accept json
// @Produce json
// @Param request body AdminAdjustRequest true "Adjustment details"
// @Success 200 {object} object{success=bool,newBalance=int64,adjustment=int64}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /tokens/admin/adjust [post]
func (ts *TokenService) AdminAdjust(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req AdminAdjustRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	newBalance, err := ts.ledger.AdjustAsAdmin(actorID, req.UserID, req.Adjustment, req.Reason)
	if err != nil {
		ts.logger.Error().Err(err).Str("actor_id", actorID).Str("target", req.UserID).Msg("Admin adjustment failed")
		SendErrorResponse(w, "Failed to adjust balance", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"success":    true,
		"newBalance": newBalance,
		"adjustment": req.Adjustment,
	})
}

