package services

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newProfileServiceForTest(t *testing.T) (*ProfileService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	return NewProfileService(db, zerolog.Nop()), mock, db
}

func profileRouter(service *ProfileService) chi.Router {
	r := chi.NewRouter()
	r.Post("/profiles/{role}", service.AssignRole)
	r.Get("/profiles/me", service.GetMyProfile)
	r.Patch("/profiles/me", service.UpdateMyProfile)
	return r
}

func TestProfileService_AssignRole(t *testing.T) {
	service, mock, db := newProfileServiceForTest(t)
	defer db.Close()
	router := profileRouter(service)

	now := time.Now()

	t.Run("assigns dj role with defaults", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT role FROM").
			WithArgs("user_1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("INSERT INTO dj_profiles").
			WithArgs("user_1", "DJ Nova", "Open-format sets", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectCommit()

		payload := []byte(`{"stageName":"DJ Nova","bio":"Open-format sets","genres":["house","techno"]}`)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/profiles/dj", payload, "user_1"))

		assert.Equal(t, http.StatusCreated, rec.Code)
		body := decodeResponse(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "dj", body["role"])

		profile := body["profile"].(map[string]any)
		assert.Equal(t, "DJ Nova", profile["stageName"])
		assert.Equal(t, float64(0), profile["yearsExperience"])
		assert.Equal(t, float64(0), profile["ratingsCount"])
		assert.Equal(t, false, profile["verified"])
	})

	t.Run("second assignment conflicts with current role", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT role FROM").
			WithArgs("user_1").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("dj"))
		mock.ExpectRollback()

		payload := []byte(`{"venueName":"The Basement","address":"12 Pier St","city":"Oakland","capacity":250}`)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/profiles/venue", payload, "user_1"))

		assert.Equal(t, http.StatusConflict, rec.Code)
		body := decodeResponse(t, rec)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "Role already assigned", body["error"])
		assert.Equal(t, "dj", body["currentRole"])
	})

	t.Run("rejects unknown role", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/profiles/promoter", []byte(`{}`), "user_1"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects invalid venue capacity", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT role FROM").
			WithArgs("user_2").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		payload := []byte(`{"venueName":"The Basement","address":"12 Pier St","city":"Oakland","capacity":0}`)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/profiles/venue", payload, "user_2"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileService_GetMyProfile(t *testing.T) {
	service, mock, db := newProfileServiceForTest(t)
	defer db.Close()
	router := profileRouter(service)

	now := time.Now()

	t.Run("returns attendee profile", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id, display_name, city, favorite_genres").
			WithArgs("user_1").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "display_name", "city", "favorite_genres", "created_at", "updated_at"}).
				AddRow("user_1", "Sam", "Oakland", []byte(`{house,disco}`), now, now))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/profiles/me", nil, "user_1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeResponse(t, rec)
		assert.Equal(t, "attendee", body["role"])

		profile := body["profile"].(map[string]any)
		assert.Equal(t, "Sam", profile["displayName"])
		assert.Equal(t, []any{"house", "disco"}, profile["favoriteGenres"])
	})

	t.Run("404 when no role assigned", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id, display_name, city, favorite_genres").
			WithArgs("user_2").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT user_id, stage_name, bio, genres").
			WithArgs("user_2").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT user_id, venue_name, address, city, capacity").
			WithArgs("user_2").
			WillReturnError(sql.ErrNoRows)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/profiles/me", nil, "user_2"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileService_UpdateMyProfile(t *testing.T) {
	service, mock, db := newProfileServiceForTest(t)
	defer db.Close()
	router := profileRouter(service)

	now := time.Now()

	t.Run("merges supplied fields only", func(t *testing.T) {
		mock.ExpectQuery("SELECT role FROM").
			WithArgs("user_1").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("attendee"))
		mock.ExpectExec("UPDATE attendee_profiles SET city").
			WithArgs("Berlin", "user_1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT user_id, display_name, city, favorite_genres").
			WithArgs("user_1").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "display_name", "city", "favorite_genres", "created_at", "updated_at"}).
				AddRow("user_1", "Sam", "Berlin", []byte(`{house}`), now, now))

		payload := []byte(`{"city":"Berlin"}`)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodPatch, "/profiles/me", payload, "user_1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeResponse(t, rec)
		profile := body["profile"].(map[string]any)
		assert.Equal(t, "Berlin", profile["city"])
		assert.Equal(t, "Sam", profile["displayName"])
	})

	t.Run("rejects empty patch", func(t *testing.T) {
		mock.ExpectQuery("SELECT role FROM").
			WithArgs("user_1").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("attendee"))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodPatch, "/profiles/me", []byte(`{}`), "user_1"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("404 when no role assigned", func(t *testing.T) {
		mock.ExpectQuery("SELECT role FROM").
			WithArgs("user_3").
			WillReturnError(sql.ErrNoRows)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodPatch, "/profiles/me", []byte(`{"city":"Berlin"}`), "user_3"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
