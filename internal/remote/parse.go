package remote

import (
	"fmt"
	"io"
	"strings"

	"gradebot/internal/grades"

	"github.com/PuerkitoBio/goquery"
)

// recordCells is the number of td cells in one academic record row.
const recordCells = 11

func parseLoginToken(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("%w: login page: %w", ErrParse, err)
	}
	tok, ok := doc.Find(`input[name="execution"]`).First().Attr("value")
	if !ok || strings.TrimSpace(tok) == "" {
		return "", fmt.Errorf("%w: login page has no execution token", ErrParse)
	}
	return tok, nil
}

// parseRecords extracts records from the "all sessions" tab, in page order.
func parseRecords(r io.Reader) ([]grades.Record, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: record page: %w", ErrParse, err)
	}
	tab := doc.Find("#tabs-all")
	if tab.Length() == 0 {
		return nil, fmt.Errorf("%w: record page has no #tabs-all", ErrParse)
	}

	out := []grades.Record{}
	tab.Find("tr.listRow").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() < recordCells {
			return
		}
		text := func(i int) string { return strings.TrimSpace(cells.Eq(i).Text()) }

		subject, code := grades.SplitCourse(text(0))
		if subject == "" {
			return
		}
		total, _ := cells.Eq(2).Attr("credits")
		out = append(out, grades.Record{
			Subject:      subject,
			CourseCode:   code,
			Section:      text(1),
			Grade:        text(2),
			TotalCredits: strings.TrimSpace(total),
			Letter:       text(3),
			Session:      text(4),
			Term:         text(5),
			Program:      text(6),
			Year:         text(7),
			Credits:      text(8),
			Average:      text(9),
			Standing:     text(10),
		})
	})
	return out, nil
}
