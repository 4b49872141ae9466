package models

import "time"

// Event types
const (
	EventTypeReportRequested = "REPORT_REQUESTED"
	EventTypeReportGenerated = "REPORT_GENERATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ReportRequestedEvent asks a worker to recompute and cache a report
type ReportRequestedEvent struct {
	BaseEvent
	Kind       string       `json:"kind"`
	Filter     ReportFilter `json:"filter"`
	PeriodDays int          `json:"period_days,omitempty"`
}

// ReportGeneratedEvent published after a report was computed from the warehouse
type ReportGeneratedEvent struct {
	BaseEvent
	Kind            string `json:"kind"`
	FilterKey       string `json:"filter_key"`
	Rows            int    `json:"rows"`
	Skipped         int    `json:"skipped"`
	DegenerateTotal bool   `json:"degenerate_total,omitempty"`
	DurationMillis  int64  `json:"duration_ms"`
}
