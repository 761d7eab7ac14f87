// Package grades defines the tracked grade record, its identity key, the
// snapshot diff used by pollers, and the chat renderings of records.
package grades

import "strings"

// Record is one row of a student's academic record as rendered by the
// remote service. Values are kept verbatim as strings.
type Record struct {
	Subject      string `db:"subject"`
	CourseCode   string `db:"course_code"`
	Section      string `db:"section"`
	Grade        string `db:"grade"`
	Letter       string `db:"letter"`
	Session      string `db:"session"`
	Term         string `db:"term"`
	Program      string `db:"program"`
	Year         string `db:"year"`
	TotalCredits string `db:"total_credits"`
	Credits      string `db:"credits"`
	Average      string `db:"average"`
	Standing     string `db:"standing"`
}

// Key identifies a record within one user's record set.
type Key struct {
	Subject    string
	CourseCode string
}

func (k Key) String() string { return k.Subject + " " + k.CourseCode }

func (r Record) Key() Key { return Key{Subject: r.Subject, CourseCode: r.CourseCode} }

// Course renders the subject and course code as shown on the remote, e.g. "CPSC 100".
func (r Record) Course() string { return r.Subject + " " + r.CourseCode }

// EarnedCredits returns the earned credits, "0" when the remote left the cell empty.
func (r Record) EarnedCredits() string {
	if strings.TrimSpace(r.Credits) == "" {
		return "0"
	}
	return r.Credits
}

// CreditsRatio renders credits as earned/total.
func (r Record) CreditsRatio() string { return r.EarnedCredits() + "/" + r.TotalCredits }

// SplitCourse splits a "SUBJ 123" course label into subject and course code.
// Labels without a space yield an empty course code.
func SplitCourse(course string) (subject, code string) {
	fields := strings.Fields(course)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
