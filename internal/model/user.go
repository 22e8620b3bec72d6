package model

import (
	"slices"
	"time"
)

// Occupation is the self-declared role of a dashboard user.
type Occupation string

const (
	OccupationFarmer             Occupation = "farmer"
	OccupationResearcher         Occupation = "researcher"
	OccupationGovernmentOfficial Occupation = "government_official"
	OccupationStudent            Occupation = "student"
	OccupationNGOWorker          Occupation = "ngo_worker"
	OccupationOther              Occupation = "other"
)

// Occupations lists every accepted occupation in display order.
var Occupations = []Occupation{
	OccupationFarmer,
	OccupationResearcher,
	OccupationGovernmentOfficial,
	OccupationStudent,
	OccupationNGOWorker,
	OccupationOther,
}

// Valid reports whether o is one of the accepted occupations.
func (o Occupation) Valid() bool {
	return slices.Contains(Occupations, o)
}

// User is a stored dashboard account. PasswordHash never leaves the server.
type User struct {
	ID           int64      `json:"user_id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Occupation   Occupation `json:"occupation"`
	Location     *string    `json:"location"`
	CreatedAt    time.Time  `json:"-"`
}

// UserProfile is the public projection of a User.
type UserProfile struct {
	ID         int64      `json:"user_id"`
	Username   string     `json:"username"`
	Occupation Occupation `json:"occupation"`
	Location   *string    `json:"location"`
}

// Profile returns the public projection of u.
func (u User) Profile() UserProfile {
	return UserProfile{
		ID:         u.ID,
		Username:   u.Username,
		Occupation: u.Occupation,
		Location:   u.Location,
	}
}
