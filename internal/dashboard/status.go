// Package dashboard derives the station status cards and district listing
// served by the read API.
package dashboard

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sells-group/groundwater/internal/model"
)

// NoData is the lastUpdated value for a station without readings.
const NoData = "No data"

// Status thresholds on the fill ratio. Each is inclusive on its lower bound.
const (
	HighThreshold   = 0.9
	NormalThreshold = 0.5
	LowThreshold    = 0.2
)

// TrendOf compares the two newest readings. readings must be ordered newest
// first; fewer than two readings is Flat.
func TrendOf(readings []model.WaterLevelReading) model.Trend {
	if len(readings) < 2 {
		return model.TrendFlat
	}
	latest, previous := readings[0].WaterLevel, readings[1].WaterLevel
	switch {
	case latest > previous:
		return model.TrendUp
	case latest < previous:
		return model.TrendDown
	default:
		return model.TrendFlat
	}
}

// FillRatio is the fraction of the well submerged, treating the water level
// as a signed offset from ground level. A dry well gives 0 and a level at
// ground gives 1. The result is not clamped.
func FillRatio(latest *model.WaterLevelReading, wellDepth *float64) float64 {
	if latest == nil || wellDepth == nil || *wellDepth <= 0 {
		return 0
	}
	return (latest.WaterLevel + *wellDepth) / *wellDepth
}

// Classify maps a fill ratio to a status. Stations without a reading are
// Inactive regardless of fill.
func Classify(fill float64, hasReading bool) model.StationStatus {
	switch {
	case !hasReading:
		return model.StatusInactive
	case fill >= HighThreshold:
		return model.StatusHigh
	case fill >= NormalThreshold:
		return model.StatusNormal
	case fill >= LowThreshold:
		return model.StatusLow
	default:
		return model.StatusCritical
	}
}

// MaxDepth is the well depth shown on the card, 1 when unknown.
func MaxDepth(wellDepth *float64) float64 {
	if wellDepth == nil {
		return 1
	}
	return *wellDepth
}

// LastUpdated renders ts relative to now, e.g. "3 days ago".
func LastUpdated(latest *model.WaterLevelReading, now time.Time) string {
	if latest == nil {
		return NoData
	}
	return humanize.RelTime(latest.Timestamp, now, "ago", "from now")
}

// BuildCard assembles the card for st from its newest-first readings.
func BuildCard(st model.Station, readings []model.WaterLevelReading, now time.Time) model.StationCard {
	var latest *model.WaterLevelReading
	if len(readings) > 0 {
		latest = &readings[0]
	}

	fill := FillRatio(latest, st.WellDepth)
	card := model.StationCard{
		StationID:             st.ID,
		LocationName:          st.Name,
		Latitude:              st.Latitude,
		Longitude:             st.Longitude,
		AquiferType:           st.AquiferType,
		Status:                Classify(fill, latest != nil),
		WaterLevelTrend:       TrendOf(readings),
		LastUpdated:           LastUpdated(latest, now),
		IsActive:              latest != nil,
		AquiferFillPercentage: fill,
		MaxDepth:              MaxDepth(st.WellDepth),
	}
	if latest != nil {
		level := latest.WaterLevel
		card.WaterLevel = &level
	}
	return card
}
