package models

import (
	"time"

	"github.com/lib/pq"
)

// Roles an account can hold. At most one per account, assigned once.
const (
	RoleAttendee = "attendee"
	RoleDJ       = "dj"
	RoleVenue    = "venue"
)

func IsValidRole(role string) bool {
	switch role {
	case RoleAttendee, RoleDJ, RoleVenue:
		return true
	}
	return false
}

type AttendeeProfile struct {
	UserID         string         `json:"user_id" db:"user_id"`
	DisplayName    string         `json:"displayName" db:"display_name"`
	City           string         `json:"city,omitempty" db:"city"`
	FavoriteGenres pq.StringArray `json:"favoriteGenres" db:"favorite_genres"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

type DJProfile struct {
	UserID          string         `json:"user_id" db:"user_id"`
	StageName       string         `json:"stageName" db:"stage_name"`
	Bio             string         `json:"bio,omitempty" db:"bio"`
	Genres          pq.StringArray `json:"genres" db:"genres"`
	YearsExperience int            `json:"yearsExperience" db:"years_experience"`
	RatingsCount    int            `json:"ratingsCount" db:"ratings_count"`
	RatingAverage   float64        `json:"ratingAverage" db:"rating_average"`
	Verified        bool           `json:"verified" db:"verified"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

type VenueProfile struct {
	UserID    string    `json:"user_id" db:"user_id"`
	VenueName string    `json:"venueName" db:"venue_name"`
	Address   string    `json:"address" db:"address"`
	City      string    `json:"city" db:"city"`
	Capacity  int       `json:"capacity" db:"capacity"`
	Verified  bool      `json:"verified" db:"verified"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
