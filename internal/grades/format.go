package grades

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	"gradebot/pkg/tgui"
)

// ParseMode is the transport parse mode the renderings below are written for.
const ParseMode = tgui.ParseMode

var tableHeaders = []string{
	"Course", "Section", "Grade", "Letter", "Session", "Term",
	"Program", "Year", "Credits", "Average", "Standing",
}

// Summary renders a single record for a change notification.
func Summary(r Record) string {
	return tgui.Lines(
		tgui.B(r.Course()),
		tgui.Field("Grade", r.Grade+" ("+r.Letter+")"),
		tgui.Field("Average", r.Average),
		tgui.Field("Credits", r.CreditsRatio()),
	).String()
}

// NewGradeMessage and UpdatedGradeMessage are the notification bodies sent
// for NewGrade and GradeUpdate events.
func NewGradeMessage(r Record) string     { return "New Grade:\n" + Summary(r) }
func UpdatedGradeMessage(r Record) string { return "Updated Grade:\n" + Summary(r) }

func tableRow(r Record) []string {
	return []string{
		r.Course(), r.Section, r.Grade, r.Letter, r.Session, r.Term,
		r.Program, r.Year, r.CreditsRatio(), r.Average, r.Standing,
	}
}

// Table renders records as an aligned plain-text table, rows in the given order.
func Table(records []Record) string {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	writeRow(tw, tableHeaders)
	sep := make([]string, len(tableHeaders))
	for i, h := range tableHeaders {
		sep[i] = strings.Repeat("-", len(h))
	}
	writeRow(tw, sep)
	for _, r := range records {
		writeRow(tw, tableRow(r))
	}
	_ = tw.Flush()
	return strings.TrimRight(buf.String(), "\n")
}

func writeRow(tw *tabwriter.Writer, cells []string) {
	_, _ = fmt.Fprintln(tw, strings.Join(cells, "\t"))
}

// TableMessage wraps Table in a preformatted block, optionally titled.
func TableMessage(title string, records []Record) string {
	body := tgui.Pre(Table(records))
	if title == "" {
		return body.String()
	}
	return tgui.Lines(tgui.B(title), body).String()
}
