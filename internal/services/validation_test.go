package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	helper := NewValidationHelper()

	t.Run("accepts a valid purchase", func(t *testing.T) {
		req := PurchaseRequest{Amount: 100, PackageType: "100", PaymentIntentID: "pi_1"}
		assert.NoError(t, helper.ValidateStruct(&req))
	})

	t.Run("rejects out-of-range amount", func(t *testing.T) {
		req := PurchaseRequest{Amount: 50000, PackageType: "100", PaymentIntentID: "pi_1"}
		assert.Error(t, helper.ValidateStruct(&req))
	})
}

func TestDecodeJSONBody(t *testing.T) {
	newReq := func(body string) (*httptest.ResponseRecorder, *http.Request) {
		return httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	}

	t.Run("decodes a single object", func(t *testing.T) {
		rec, req := newReq(`{"songId":"song_1","bidAmount":25}`)
		var dst BidRequest
		assert.True(t, decodeJSONBody(rec, req, &dst))
		assert.Equal(t, "song_1", dst.SongID)
		assert.Equal(t, int64(25), dst.BidAmount)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		rec, req := newReq(`{"songId":"song_1","bidAmount":25,"admin":true}`)
		var dst BidRequest
		assert.False(t, decodeJSONBody(rec, req, &dst))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects trailing content", func(t *testing.T) {
		rec, req := newReq(`{"songId":"song_1","bidAmount":25}{"songId":"song_2"}`)
		var dst BidRequest
		assert.False(t, decodeJSONBody(rec, req, &dst))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		rec, req := newReq(`{"songId":`)
		var dst BidRequest
		assert.False(t, decodeJSONBody(rec, req, &dst))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error envelope", func(t *testing.T) {
		rec := httptest.NewRecorder()
		SendErrorResponse(rec, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		body := decodeResponse(t, rec)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "Something went wrong", body["error"])
		assert.NotContains(t, body, "details")
	})

	t.Run("includes field details for validation errors", func(t *testing.T) {
		helper := NewValidationHelper()
		err := helper.ValidateStruct(&BidRequest{SongID: "", BidAmount: 0})
		assert.Error(t, err)

		rec := httptest.NewRecorder()
		SendErrorResponse(rec, "Validation failed", http.StatusBadRequest, err)

		body := decodeResponse(t, rec)
		details := body["details"].(map[string]any)
		assert.Contains(t, details, "SongID")
		assert.Contains(t, details, "BidAmount")
	})
}
