package model

import "time"

// District is an administrative area identified by (name, state).
type District struct {
	ID    int64  `json:"district_id"`
	Name  string `json:"district_name"`
	State string `json:"state"`
}

// Station is a groundwater monitoring well owned by exactly one District.
type Station struct {
	ID                  int64    `json:"station_id"`
	Name                string   `json:"station_name"`
	DistrictID          int64    `json:"district_id"`
	Latitude            float64  `json:"latitude"`
	Longitude           float64  `json:"longitude"`
	AquiferType         string   `json:"aquifer_type"`
	SpecificYield       float64  `json:"specific_yield"`
	WellDepth           *float64 `json:"well_depth,omitempty"` // meters below ground to well bottom
	StationStatus       string   `json:"station_status"`
	StationType         string   `json:"station_type"`
	AgencyName          string   `json:"agency_name"`
	DataAcquisitionMode string   `json:"data_acquisition_mode"`
	WellType            string   `json:"well_type"`
}

// WaterLevelReading is one observation for a station at an instant.
// WaterLevel is a signed offset from ground level; negative is below ground.
type WaterLevelReading struct {
	StationID   int64     `json:"station_id"`
	Timestamp   time.Time `json:"timestamp"`
	WaterLevel  float64   `json:"water_level"`
	Rainfall    float64   `json:"rainfall"`
	Temperature float64   `json:"temperature"`
	Season      *string   `json:"season,omitempty"`
}

// RainfallReading is a rainfall observation keyed by (station_code, data_time).
type RainfallReading struct {
	ID          int64     `json:"rainfall_id,omitempty"`
	StationCode string    `json:"station_code"`
	StationName string    `json:"station_name"`
	State       string    `json:"state"`
	District    string    `json:"district"`
	DataTime    time.Time `json:"data_time"`
	RainfallMM  float64   `json:"rainfall_mm"`
}
