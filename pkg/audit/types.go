package audit

import (
	"time"

	"github.com/platinummonkey/hubcap/pkg/repository"
)

// Status is the outcome of an inspection.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Entry is one recorded inspection.
type Entry struct {
	ID           int64         `json:"id"`
	GenerationID string        `json:"generation_id,omitempty"`
	Kind         string        `json:"kind"`
	Source       string        `json:"source"`
	Status       Status        `json:"status"`
	Records      int           `json:"records"`
	Skipped      int           `json:"skipped"`
	Failures     int           `json:"failures"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
	InspectedAt  time.Time     `json:"inspected_at"`
	Details      *Details      `json:"details,omitempty"`
}

// Details lists what a successful inspection left out.
type Details struct {
	Skipped  []repository.SkippedType `json:"skipped,omitempty"`
	Failures []repository.Failure     `json:"failures,omitempty"`
}

// Filter selects entries for Search. Zero fields match everything.
type Filter struct {
	Kind   string
	Source string
	Status Status
	Since  *time.Time
	// Limit caps the number of entries, newest first. Zero means DefaultLimit.
	Limit int
}

// DefaultLimit is the number of entries Search returns when Filter.Limit is zero.
const DefaultLimit = 100

// EntryFromEvent converts an inspection event.
func EntryFromEvent(ev repository.Event) *Entry {
	e := &Entry{
		Kind:     ev.Kind,
		Source:   ev.Source,
		Duration: ev.Duration,
	}
	if ev.Err != nil || ev.Generation == nil {
		e.Status = StatusFailure
		if ev.Err != nil {
			e.Error = ev.Err.Error()
		}
		e.InspectedAt = time.Now().UTC()
		return e
	}

	gen := ev.Generation
	e.Status = StatusSuccess
	e.GenerationID = gen.ID.String()
	e.Records = len(gen.Records)
	e.Skipped = len(gen.Skipped)
	e.Failures = len(gen.Failures)
	e.InspectedAt = gen.InspectedAt
	if len(gen.Skipped) > 0 || len(gen.Failures) > 0 {
		e.Details = &Details{Skipped: gen.Skipped, Failures: gen.Failures}
	}
	return e
}
