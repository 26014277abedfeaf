// Package slots finds bookable slots for a start time in the resource grid.
package slots

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/example/court-scheduler/internal/domain/booking"
	"github.com/example/court-scheduler/internal/locator"
)

var intervalRe = regexp.MustCompile(`^(\d{1,2}:\d{2})\s*[-–]\s*(\d{1,2}:\d{2})$`)

// Skipped is a candidate the scan could not use.
type Skipped struct {
	Index  int
	Text   string
	Reason string
}

// Result lists matching slots in document order. Slot.Index is the
// candidate's position among every element matching the candidate selector,
// which is how slots are later bound to live elements.
type Result struct {
	Slots   []booking.Slot
	Skipped []Skipped
}

// Courts returns the court ids in attempt order.
func (r Result) Courts() []string {
	out := make([]string, len(r.Slots))
	for i, s := range r.Slots {
		out[i] = s.Court
	}
	return out
}

// Scan parses grid HTML and returns the bookable slots starting exactly at
// start. No court appears twice; the first candidate for a court wins.
func Scan(html string, grid locator.Grid, start string) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, fmt.Errorf("parse grid: %w", err)
	}

	var res Result
	seen := make(map[string]bool)
	doc.Find(grid.Candidate).Each(func(i int, s *goquery.Selection) {
		if !eligible(s, grid) {
			return
		}
		text := normalize(s.Text())
		m := intervalRe.FindStringSubmatch(text)
		if m == nil {
			res.Skipped = append(res.Skipped, Skipped{Index: i, Text: text, Reason: "unparsable interval"})
			return
		}
		if m[1] != start {
			return
		}
		court := courtOf(s, grid)
		if court == "" {
			res.Skipped = append(res.Skipped, Skipped{Index: i, Text: text, Reason: "no court header"})
			return
		}
		if seen[court] {
			return
		}
		seen[court] = true
		res.Slots = append(res.Slots, booking.Slot{Court: court, Start: m[1], End: m[2], Index: i})
	})
	return res, nil
}

func eligible(s *goquery.Selection, grid locator.Grid) bool {
	for _, c := range grid.RequiredClasses {
		if !s.HasClass(c) {
			return false
		}
	}
	for _, c := range grid.ExcludedClasses {
		if s.HasClass(c) {
			return false
		}
	}
	return true
}

// courtOf walks up to the enclosing column and reads its header. A column
// without a header selector is treated as a table cell and named by the
// header cell in the same position.
func courtOf(s *goquery.Selection, grid locator.Grid) string {
	col := s.Closest(grid.Column)
	if col.Length() == 0 {
		return ""
	}
	if grid.Header != "" {
		if h := normalize(col.Find(grid.Header).First().Text()); h != "" {
			return h
		}
	} else if goquery.NodeName(col) == "td" || goquery.NodeName(col) == "th" {
		if h := tableHeader(col); h != "" {
			return h
		}
	}
	if grid.HeaderAttr != "" {
		if v, ok := col.Attr(grid.HeaderAttr); ok {
			return normalize(v)
		}
		if v, ok := s.Attr(grid.HeaderAttr); ok {
			return normalize(v)
		}
	}
	return ""
}

func tableHeader(cell *goquery.Selection) string {
	idx := cell.Index()
	table := cell.Closest("table")
	header := table.Find("thead tr").First()
	if header.Length() == 0 {
		header = table.Find("tr").First()
	}
	th := header.Children().Eq(idx)
	if th.Length() == 0 || th.Get(0) == cell.Get(0) {
		return ""
	}
	return normalize(th.Text())
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
