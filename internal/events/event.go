// Package events carries change events from per-user pollers to the
// coordinator.
//
// Contract:
//   - Event is a closed set: LoginStatus, NewGrade, GradeUpdate, PollAdvisory.
//   - Producers never block on Push.
//   - The queue is bounded; on overflow the oldest event is dropped and counted.
package events

import (
	"gradebot/internal/grades"
)

// Source identifies the user an event belongs to. Session is the id of the
// tracker session that produced the event; it is empty for synthetic events.
type Source struct {
	Channel  string
	Username string
	Session  string
}

func (s Source) source() Source { return s }

// Event is implemented only by the variants in this package.
type Event interface {
	source() Source
	Type() string
}

// SourceOf returns the channel and username carried by e.
func SourceOf(e Event) Source { return e.source() }

// Status is the outcome of a credential check.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusInvalidLogin     Status = "invalid_login"
	StatusNotAStudent      Status = "not_a_student"
	StatusTransportFailure Status = "transport_failure"
)

func (s Status) OK() bool { return s == StatusSuccess }

type LoginStatus struct {
	Source
	Status Status
}

type NewGrade struct {
	Source
	Record grades.Record
}

type GradeUpdate struct {
	Source
	Record grades.Record
}

// PollAdvisory reports that a poller has failed Failures checks in a row.
type PollAdvisory struct {
	Source
	Failures int
	Err      string
}

func (LoginStatus) Type() string  { return "login_status" }
func (NewGrade) Type() string     { return "new_grade" }
func (GradeUpdate) Type() string  { return "grade_update" }
func (PollAdvisory) Type() string { return "poll_advisory" }

// FromChange converts a snapshot change into its event.
func FromChange(src Source, c grades.Change) Event {
	if c.Kind == grades.Updated {
		return GradeUpdate{Source: src, Record: c.Record}
	}
	return NewGrade{Source: src, Record: c.Record}
}
