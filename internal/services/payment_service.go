package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/djei/backend/internal/middleware"
)

// PaymentService creates payment intents at the external payment provider.
// No processor logic lives here: the route is a guarded pass-through, and
// the resulting paymentIntentId is what the purchase route dedups on.
type PaymentService struct {
	client    *http.Client
	validator *ValidationHelper
	logger    zerolog.Logger
	baseURL   string
	secretKey string
}

type CreateIntentRequest struct {
	Amount      int64  `json:"amount" validate:"required,min=1,max=10000"`
	PackageType string `json:"packageType" validate:"required,oneof=50 100 250 500"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
}

func NewPaymentService(logger zerolog.Logger) *PaymentService {
	viper.SetDefault("payments.base_url", "https://api.payment-provider.example.com/v1")

	return &PaymentService{
		client:    &http.Client{Timeout: 15 * time.Second},
		validator: NewValidationHelper(),
		logger:    logger,
		baseURL:   viper.GetString("payments.base_url"),
		secretKey: viper.GetString("payments.secret_key"),
	}
}

// CreateIntent creates a payment intent for a token package
// @Summary Create a payment intent
// @Description Create a payment intent at the payment provider for a token package purchase
// @Tags payments
// @Accept json
// @Produce json
// @Param request body CreateIntentRequest true "Intent details"
// @Success 200 {object} object{success=bool,intentId=string,clientSecret=string}
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /payments/intent [post]
func (p *PaymentService) CreateIntent(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateIntentRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := p.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Currency == "" {
		req.Currency = "usd"
	}

	payload, _ := json.Marshal(map[string]any{
		"amount":   req.Amount,
		"currency": req.Currency,
		"metadata": map[string]string{
			"user_id":      userID,
			"package_type": req.PackageType,
		},
	})

	upstream, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.baseURL+"/payment_intents", bytes.NewReader(payload))
	if err != nil {
		SendErrorResponse(w, "Failed to create payment intent", http.StatusInternalServerError, nil)
		return
	}
	upstream.Header.Set("Content-Type", "application/json")
	upstream.Header.Set("Authorization", "Bearer "+p.secretKey)

	resp, err := p.client.Do(upstream)
	if err != nil {
		p.logger.Error().Err(err).Str("user_id", userID).Msg("Payment provider unreachable")
		SendErrorResponse(w, "Payment provider unavailable", http.StatusBadGateway, nil)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		p.logger.Error().Int("status", resp.StatusCode).Str("user_id", userID).Msg("Payment provider rejected intent")
		SendErrorResponse(w, fmt.Sprintf("Payment provider returned status %d", resp.StatusCode), http.StatusBadGateway, nil)
		return
	}

	var result struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		p.logger.Error().Err(err).Msg("Failed to decode payment provider response")
		SendErrorResponse(w, "Payment provider unavailable", http.StatusBadGateway, nil)
		return
	}

	p.logger.Info().Str("user_id", userID).Str("intent_id", result.ID).Msg("Payment intent created")
	SendJSONResponse(w, http.StatusOK, map[string]any{
		"success":      true,
		"intentId":     result.ID,
		"clientSecret": result.ClientSecret,
	})
}
