package coordinator

import (
	"database/sql"
	"strconv"

	"gradebot/internal/grades"
	"gradebot/internal/tracker"
)

var errConnDone = sql.ErrConnDone

type nopTracker struct{}

func (nopTracker) Start(tracker.Key, string, []grades.Record) {}
func (nopTracker) Stop(tracker.Key) bool                      { return false }
func (nopTracker) State(tracker.Key) (tracker.State, bool) {
	return tracker.StateUnauthenticated, false
}
func (nopTracker) Current(tracker.Key) (string, bool) { return "", false }

// scriptedTracker records calls and hands out session ids s1, s2, ...
// without running any session.
type scriptedTracker struct {
	starts  int
	stops   int
	secrets []string
	seeds   [][]grades.Record
	latest  map[tracker.Key]string
}

func newScriptedTracker() *scriptedTracker {
	return &scriptedTracker{latest: map[tracker.Key]string{}}
}

func (s *scriptedTracker) Start(key tracker.Key, secret string, seed []grades.Record) {
	s.starts++
	s.secrets = append(s.secrets, secret)
	s.seeds = append(s.seeds, seed)
	s.latest[key] = "s" + strconv.Itoa(s.starts)
}

func (s *scriptedTracker) Stop(key tracker.Key) bool {
	s.stops++
	_, ok := s.latest[key]
	delete(s.latest, key)
	return ok
}

func (s *scriptedTracker) State(key tracker.Key) (tracker.State, bool) {
	if _, ok := s.latest[key]; ok {
		return tracker.StateAuthenticating, true
	}
	return tracker.StateUnauthenticated, false
}

func (s *scriptedTracker) Current(key tracker.Key) (string, bool) {
	id, ok := s.latest[key]
	return id, ok
}
