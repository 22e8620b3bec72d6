package model

import "time"

// IngestStatus represents the state of an ingestion run.
type IngestStatus string

const (
	IngestStatusRunning  IngestStatus = "running"
	IngestStatusComplete IngestStatus = "complete"
	IngestStatusFailed   IngestStatus = "failed"
)

// EntityKind names one of the four ingested entity kinds.
type EntityKind string

const (
	KindDistrict   EntityKind = "districts"
	KindStation    EntityKind = "stations"
	KindWaterLevel EntityKind = "water_levels"
	KindRainfall   EntityKind = "rainfall"
)

// StageCounts summarizes one stage of an ingestion run.
type StageCounts struct {
	Candidates int   `json:"candidates"`
	Upserted   int   `json:"upserted"`
	Inserted   int64 `json:"inserted"`
	Ignored    int64 `json:"ignored"`
	Unresolved int   `json:"unresolved"`
	Skipped    int   `json:"skipped"`
}

// IngestRun is a row of the ingestion run log.
type IngestRun struct {
	ID          string                     `json:"id"`
	Status      IngestStatus               `json:"status"`
	StartedAt   time.Time                  `json:"started_at"`
	CompletedAt *time.Time                 `json:"completed_at,omitempty"`
	Counts      map[EntityKind]StageCounts `json:"counts,omitempty"`
	Error       string                     `json:"error,omitempty"`
}
