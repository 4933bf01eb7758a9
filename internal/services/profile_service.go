package services

import (
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/djei/backend/internal/middleware"
	"github.com/djei/backend/internal/models"
)

// ProfileService owns role assignment and per-role profile data. A user
// holds at most one role, assigned exactly once; each role has its own
// table, request schema and defaults.
type ProfileService struct {
	db        *sql.DB
	validator *ValidationHelper
	logger    zerolog.Logger
}

type AttendeeProfileRequest struct {
	DisplayName    string   `json:"displayName" validate:"required,min=2,max=50"`
	City           string   `json:"city" validate:"omitempty,max=100"`
	FavoriteGenres []string `json:"favoriteGenres" validate:"omitempty,max=10,dive,min=2,max=30"`
}

type DJProfileRequest struct {
	StageName string   `json:"stageName" validate:"required,min=2,max=50"`
	Bio       string   `json:"bio" validate:"omitempty,max=1000"`
	Genres    []string `json:"genres" validate:"omitempty,max=10,dive,min=2,max=30"`
}

type VenueProfileRequest struct {
	VenueName string `json:"venueName" validate:"required,min=2,max=100"`
	Address   string `json:"address" validate:"required,max=200"`
	City      string `json:"city" validate:"required,max=100"`
	Capacity  int    `json:"capacity" validate:"required,min=1,max=100000"`
}

// Update requests use pointer fields: only supplied fields are merged, with
// field-level validation only.
type AttendeeUpdateRequest struct {
	DisplayName    *string   `json:"displayName" validate:"omitempty,min=2,max=50"`
	City           *string   `json:"city" validate:"omitempty,max=100"`
	FavoriteGenres *[]string `json:"favoriteGenres" validate:"omitempty,max=10,dive,min=2,max=30"`
}

type DJUpdateRequest struct {
	StageName *string   `json:"stageName" validate:"omitempty,min=2,max=50"`
	Bio       *string   `json:"bio" validate:"omitempty,max=1000"`
	Genres    *[]string `json:"genres" validate:"omitempty,max=10,dive,min=2,max=30"`
}

type VenueUpdateRequest struct {
	VenueName *string `json:"venueName" validate:"omitempty,min=2,max=100"`
	Address   *string `json:"address" validate:"omitempty,max=200"`
	City      *string `json:"city" validate:"omitempty,max=100"`
	Capacity  *int    `json:"capacity" validate:"omitempty,min=1,max=100000"`
}

func NewProfileService(db *sql.DB, logger zerolog.Logger) *ProfileService {
	return &ProfileService{
		db:        db,
		validator: NewValidationHelper(),
		logger:    logger,
	}
}

// AssignRole creates the caller's role profile
// @Summary Assign a role
// @Description One-time role assignment with role-specific profile payload. Fails with 409 when the account already holds a role.
// @Tags profiles
// @Accept json
// @Produce json
// @Param role path string true "Role (attendee, dj, venue)"
// @Success 201 {object} object{success=bool,role=string,profile=object}
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /profiles/{role} [post]
func (ps *ProfileService) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	role := chi.URLParam(r, "role")
	if !models.IsValidRole(role) {
		SendErrorResponse(w, "Unknown role", http.StatusBadRequest, nil)
		return
	}

	tx, err := ps.db.Begin()
	if err != nil {
		ps.logger.Error().Err(err).Msg("Failed to begin transaction")
		SendErrorResponse(w, "Failed to assign role", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	currentRole, err := ps.findRoleTx(tx, userID)
	if err != nil {
		ps.logger.Error().Err(err).Str("user_id", userID).Msg("Role lookup failed")
		SendErrorResponse(w, "Failed to assign role", http.StatusInternalServerError, nil)
		return
	}
	if currentRole != "" {
		SendJSONResponse(w, http.StatusConflict, map[string]any{
			"success":     false,
			"error":       "Role already assigned",
			"currentRole": currentRole,
		})
		return
	}

	var profile any
	switch role {
	case models.RoleAttendee:
		profile, err = ps.createAttendee(tx, w, r, userID)
	case models.RoleDJ:
		profile, err = ps.createDJ(tx, w, r, userID)
	case models.RoleVenue:
		profile, err = ps.createVenue(tx, w, r, userID)
	}
	if err != nil {
		// Response already written by the create helper.
		return
	}

	if err := tx.Commit(); err != nil {
		ps.logger.Error().Err(err).Str("user_id", userID).Msg("Role assignment commit failed")
		SendErrorResponse(w, "Failed to assign role", http.StatusInternalServerError, nil)
		return
	}

	ps.logger.Info().Str("user_id", userID).Str("role", role).Msg("Role assigned")
	SendJSONResponse(w, http.StatusCreated, map[string]any{
		"success": true,
		"role":    role,
		"profile": profile,
	})
}

// GetMyProfile returns the caller's role and profile
// @Summary Get own profile
// @Tags profiles
// @Produce json
// @Success 200 {object} object{success=bool,role=string,profile=object}
// @Failure 404 {object} ErrorResponse
// @Router /profiles/me [get]
func (ps *ProfileService) GetMyProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	role, profile, err := ps.fetchProfile(userID)
	if err != nil {
		ps.logger.Error().Err(err).Str("user_id", userID).Msg("Profile fetch failed")
		SendErrorResponse(w, "Failed to fetch profile", http.StatusInternalServerError, nil)
		return
	}
	if role == "" {
		SendErrorResponse(w, "No profile found", http.StatusNotFound, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"role":    role,
		"profile": profile,
	})
}

// UpdateMyProfile partially updates the caller's profile
// @Summary Update own profile
// @Description Merge supplied fields into the existing role profile. Field-level validation only; the role itself cannot change.
// @Tags profiles
// @Accept json
// @Produce json
// @Success 200 {object} object{success=bool,role=string,profile=object}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /profiles/me [patch]
func (ps *ProfileService) UpdateMyProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	role, err := ps.findRole(userID)
	if err != nil {
		ps.logger.Error().Err(err).Str("user_id", userID).Msg("Role lookup failed")
		SendErrorResponse(w, "Failed to update profile", http.StatusInternalServerError, nil)
		return
	}
	if role == "" {
		SendErrorResponse(w, "No profile found", http.StatusNotFound, nil)
		return
	}

	var ok2 bool
	switch role {
	case models.RoleAttendee:
		ok2 = ps.updateAttendee(w, r, userID)
	case models.RoleDJ:
		ok2 = ps.updateDJ(w, r, userID)
	case models.RoleVenue:
		ok2 = ps.updateVenue(w, r, userID)
	}
	if !ok2 {
		return
	}

	_, profile, err := ps.fetchProfile(userID)
	if err != nil {
		ps.logger.Error().Err(err).Str("user_id", userID).Msg("Profile refetch failed")
		SendErrorResponse(w, "Failed to fetch profile", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"role":    role,
		"profile": profile,
	})
}

// Role lookup spans the three role tables; at most one row exists.

func (ps *ProfileService) findRole(userID string) (string, error) {
	return ps.findRoleQuery(ps.db.QueryRow, userID)
}

func (ps *ProfileService) findRoleTx(tx *sql.Tx, userID string) (string, error) {
	return ps.findRoleQuery(tx.QueryRow, userID)
}

func (ps *ProfileService) findRoleQuery(queryRow func(string, ...any) *sql.Row, userID string) (string, error) {
	var role string
	err := queryRow(`
		SELECT role FROM (
			SELECT 'attendee' AS role FROM attendee_profiles WHERE user_id = $1
			UNION ALL
			SELECT 'dj' FROM dj_profiles WHERE user_id = $1
			UNION ALL
			SELECT 'venue' FROM venue_profiles WHERE user_id = $1
		) roles LIMIT 1`, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up role: %w", err)
	}
	return role, nil
}

func (ps *ProfileService) createAttendee(tx *sql.Tx, w http.ResponseWriter, r *http.Request, userID string) (any, error) {
	var req AttendeeProfileRequest
	if !ps.decodeAndValidate(w, r, &req) {
		return nil, fmt.Errorf("invalid request")
	}

	profile := models.AttendeeProfile{
		UserID:         userID,
		DisplayName:    req.DisplayName,
		City:           req.City,
		FavoriteGenres: req.FavoriteGenres,
	}
	if profile.FavoriteGenres == nil {
		profile.FavoriteGenres = []string{}
	}

	err := tx.QueryRow(`
		INSERT INTO attendee_profiles (user_id, display_name, city, favorite_genres, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at`,
		userID, profile.DisplayName, profile.City, pq.Array(profile.FavoriteGenres)).Scan(&profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		ps.logger.Error().Err(err).Str("user_id", userID).Msg("Attendee profile insert failed")
		SendErrorResponse(w, "Failed to assign role", http.StatusInternalServerError, nil)
		return nil, err
	}
	return profile, nil
}

func (ps *ProfileService) createDJ(tx *sql.Tx, w http.ResponseWriter, r *http.Request, userID string) (any, error) {
	var req DJProfileRequest
	if !ps.decodeAndValidate(w, r, &req) {
		return nil, fmt.Errorf("invalid request")
	}

	// DJ defaults: no experience, no ratings, unverified.
	profile := models.DJProfile{
		UserID:          userID,
		StageName:       req.StageName,
		Bio:             req.Bio,
		Genres:          req.Genres,
		YearsExperience: 0,
		RatingsCount:    0,
		RatingAverage:   0,
		Verified:        false,
	}
	if profile.Genres == nil {
		profile.Genres = []string{}
	}

	err := tx.QueryRow(`
		INSERT INTO dj_profiles (user_id, stage_name, bio, genres, years_experience, ratings_count, rating_average, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, 0, FALSE, NOW(), NOW())
		RETURNING created_at, updated_at`,
		userID, profile.StageName, profile.Bio, pq.Array(profile.Genres)).Scan(&profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		ps.logger.Error().Err(err).Str("user_id", userID).Msg("DJ profile insert failed")
		SendErrorResponse(w, "Failed to assign role", http.StatusInternalServerError, nil)
		return nil, err
	}
	return profile, nil
}

func (ps *ProfileService) createVenue(tx *sql.Tx, w http.ResponseWriter, r *http.Request, userID string) (any, error) {
	var req VenueProfileRequest
	if !ps.decodeAndValidate(w, r, &req) {
		return nil, fmt.Errorf("invalid request")
	}

	profile := models.VenueProfile{
		UserID:    userID,
		VenueName: req.VenueName,
		Address:   req.Address,
		City:      req.City,
		Capacity:  req.Capacity,
		Verified:  false,
	}

	err := tx.QueryRow(`
		INSERT INTO venue_profiles (user_id, venue_name, address, city, capacity, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, NOW(), NOW())
		RETURNING created_at, updated_at`,
		userID, profile.VenueName, profile.Address, profile.City, profile.Capacity).Scan(&profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		ps.logger.Error().Err(err).Str("user_id", userID).Msg("Venue profile insert failed")
		SendErrorResponse(w, "Failed to assign role", http.StatusInternalServerError, nil)
		return nil, err
	}
	return profile, nil
}

func (ps *ProfileService) fetchProfile(userID string) (string, any, error) {
	var attendee models.AttendeeProfile
	err := ps.db.QueryRow(`
		SELECT user_id, display_name, city, favorite_genres, created_at, updated_at
		FROM attendee_profiles WHERE user_id = $1`, userID).
		Scan(&attendee.UserID, &attendee.DisplayName, &attendee.City, &attendee.FavoriteGenres, &attendee.CreatedAt, &attendee.UpdatedAt)
	if err == nil {
		return models.RoleAttendee, attendee, nil
	}
	if err != sql.ErrNoRows {
		return "", nil, err
	}

	var dj models.DJProfile
	err = ps.db.QueryRow(`
		SELECT user_id, stage_name, bio, genres, years_experience, ratings_count, rating_average, verified, created_at, updated_at
		FROM dj_profiles WHERE user_id = $1`, userID).
		Scan(&dj.UserID, &dj.StageName, &dj.Bio, &dj.Genres, &dj.YearsExperience, &dj.RatingsCount, &dj.RatingAverage, &dj.Verified, &dj.CreatedAt, &dj.UpdatedAt)
	if err == nil {
		return models.RoleDJ, dj, nil
	}
	if err != sql.ErrNoRows {
		return "", nil, err
	}

	var venue models.VenueProfile
	err = ps.db.QueryRow(`
		SELECT user_id, venue_name, address, city, capacity, verified, created_at, updated_at
		FROM venue_profiles WHERE user_id = $1`, userID).
		Scan(&venue.UserID, &venue.VenueName, &venue.Address, &venue.City, &venue.Capacity, &venue.Verified, &venue.CreatedAt, &venue.UpdatedAt)
	if err == nil {
		return models.RoleVenue, venue, nil
	}
	if err != sql.ErrNoRows {
		return "", nil, err
	}

	return "", nil, nil
}

func (ps *ProfileService) updateAttendee(w http.ResponseWriter, r *http.Request, userID string) bool {
	var req AttendeeUpdateRequest
	if !ps.decodeAndValidate(w, r, &req) {
		return false
	}

	sets := []string{}
	args := []any{}
	idx := 1
	if req.DisplayName != nil {
		sets = append(sets, fmt.Sprintf("display_name = $%d", idx))
		args = append(args, *req.DisplayName)
		idx++
	}
	if req.City != nil {
		sets = append(sets, fmt.Sprintf("city = $%d", idx))
		args = append(args, *req.City)
		idx++
	}
	if req.FavoriteGenres != nil {
		sets = append(sets, fmt.Sprintf("favorite_genres = $%d", idx))
		args = append(args, pq.Array(*req.FavoriteGenres))
		idx++
	}
	return ps.applyUpdate(w, "attendee_profiles", sets, args, idx, userID)
}

func (ps *ProfileService) updateDJ(w http.ResponseWriter, r *http.Request, userID string) bool {
	var req DJUpdateRequest
	if !ps.decodeAndValidate(w, r, &req) {
		return false
	}

	sets := []string{}
	args := []any{}
	idx := 1
	if req.StageName != nil {
		sets = append(sets, fmt.Sprintf("stage_name = $%d", idx))
		args = append(args, *req.StageName)
		idx++
	}
	if req.Bio != nil {
		sets = append(sets, fmt.Sprintf("bio = $%d", idx))
		args = append(args, *req.Bio)
		idx++
	}
	if req.Genres != nil {
		sets = append(sets, fmt.Sprintf("genres = $%d", idx))
		args = append(args, pq.Array(*req.Genres))
		idx++
	}
	return ps.applyUpdate(w, "dj_profiles", sets, args, idx, userID)
}

func (ps *ProfileService) updateVenue(w http.ResponseWriter, r *http.Request, userID string) bool {
	var req VenueUpdateRequest
	if !ps.decodeAndValidate(w, r, &req) {
		return false
	}

	sets := []string{}
	args := []any{}
	idx := 1
	if req.VenueName != nil {
		sets = append(sets, fmt.Sprintf("venue_name = $%d", idx))
		args = append(args, *req.VenueName)
		idx++
	}
	if req.Address != nil {
		sets = append(sets, fmt.Sprintf("address = $%d", idx))
		args = append(args, *req.Address)
		idx++
	}
	if req.City != nil {
		sets = append(sets, fmt.Sprintf("city = $%d", idx))
		args = append(args, *req.City)
		idx++
	}
	if req.Capacity != nil {
		sets = append(sets, fmt.Sprintf("capacity = $%d", idx))
		args = append(args, *req.Capacity)
		idx++
	}
	return ps.applyUpdate(w, "venue_profiles", sets, args, idx, userID)
}

func (ps *ProfileService) applyUpdate(w http.ResponseWriter, table string, sets []string, args []any, idx int, userID string) bool {
	if len(sets) == 0 {
		SendErrorResponse(w, "No fields to update", http.StatusBadRequest, nil)
		return false
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, userID)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE user_id = $%d", table, strings.Join(sets, ", "), idx)
	if _, err := ps.db.Exec(query, args...); err != nil {
		ps.logger.Error().Err(err).Str("user_id", userID).Str("table", table).Msg("Profile update failed")
		SendErrorResponse(w, "Failed to update profile", http.StatusInternalServerError, nil)
		return false
	}
	return true
}

func (ps *ProfileService) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !decodeJSONBody(w, r, dst) {
		return false
	}
	if err := ps.validator.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}
