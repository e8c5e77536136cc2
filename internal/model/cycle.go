package model

import "time"

// RefreshError identifies one instrument that failed during a refresh
// cycle, with a human-readable reason.
type RefreshError struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// RefreshReport summarizes one refresh cycle for the caller.
type RefreshReport struct {
	Refreshed int            `json:"refreshed"`
	Total     int            `json:"total"`
	Errors    []RefreshError `json:"errors,omitempty"`
}

// RefreshCycle is one journaled refresh cycle: how it was triggered, when
// it ran, and how it went.
type RefreshCycle struct {
	ID         int64          `json:"id"`
	Trigger    string         `json:"trigger"` // scheduled, manual, single
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Total      int            `json:"total"`
	Refreshed  int            `json:"refreshed"`
	ErrorCount int            `json:"error_count"`
	Errors     []RefreshError `json:"errors,omitempty"`
}

// Refresh cycle trigger labels.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerSingle    = "single"
)
