package model

// StationStatus is the four-level fill classification plus Inactive.
type StationStatus string

const (
	StatusHigh     StationStatus = "High"
	StatusNormal   StationStatus = "Normal"
	StatusLow      StationStatus = "Low"
	StatusCritical StationStatus = "Critical"
	StatusInactive StationStatus = "Inactive"
)

// Trend compares the two most recent water levels of a station.
type Trend string

const (
	TrendUp   Trend = "Up"
	TrendDown Trend = "Down"
	TrendFlat Trend = "Flat"
)

// StationCard is the display-ready summary returned by GET /home.
type StationCard struct {
	StationID             int64         `json:"station_id"`
	LocationName          string        `json:"locationName"`
	Latitude              float64       `json:"latitude"`
	Longitude             float64       `json:"longitude"`
	AquiferType           string        `json:"aquiferType"`
	Status                StationStatus `json:"status"`
	WaterLevel            *float64      `json:"waterLevel"`
	WaterLevelTrend       Trend         `json:"waterLevelTrend"`
	LastUpdated           string        `json:"lastUpdated"`
	IsActive              bool          `json:"isActive"`
	AquiferFillPercentage float64       `json:"aquiferFillPercentage"`
	MaxDepth              float64       `json:"maxDepth"`
}

// DistrictRef is a district entry in the grouped districts listing.
type DistrictRef struct {
	ID   int64  `json:"district_id"`
	Name string `json:"district_name"`
}

// DistrictListing groups districts by state for dropdown selection.
type DistrictListing struct {
	States    []string                 `json:"states"`
	Districts map[string][]DistrictRef `json:"districts"`
}
