// Package period parses and builds the period tags used by the commission
// and closing ledgers, and maps them to half-open date ranges in UTC.
package period

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/goldnet/ledger-engine/internal/model"
)

// Tag formats.
//
//	monthly: 2026-01
//	yearly:  2026-YEARLY (a bare 2026 is accepted on input)
var (
	monthlyRegex = regexp.MustCompile(`^(\d{4})-(0[1-9]|1[0-2])$`)
	yearlyRegex  = regexp.MustCompile(`^(\d{4})(-YEARLY)?$`)
)

var (
	ErrInvalidTag   = errors.New("period: invalid tag format")
	ErrTypeMismatch = errors.New("period: tag does not match period type")
)

// Period is a parsed tag plus its [Start, End) range.
type Period struct {
	Type  model.PeriodType `json:"type"`
	Tag   string           `json:"tag"`
	Start time.Time        `json:"start"`
	End   time.Time        `json:"end"`
}

// Parse accepts a monthly or yearly tag.
func Parse(tag string) (Period, error) {
	if m := monthlyRegex.FindStringSubmatch(tag); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		return Monthly(time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)), nil
	}
	if m := yearlyRegex.FindStringSubmatch(tag); m != nil {
		year, _ := strconv.Atoi(m[1])
		return Yearly(time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)), nil
	}
	return Period{}, fmt.Errorf("%w: %q (expected YYYY-MM or YYYY-YEARLY)", ErrInvalidTag, tag)
}

// ParseAs parses a tag and requires it to be of the given type.
func ParseAs(tag string, pt model.PeriodType) (Period, error) {
	p, err := Parse(tag)
	if err != nil {
		return Period{}, err
	}
	if p.Type != pt {
		return Period{}, fmt.Errorf("%w: %q is not %s", ErrTypeMismatch, tag, pt)
	}
	return p, nil
}

// Monthly returns the calendar month containing t.
func Monthly(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Type:  model.PeriodMonthly,
		Tag:   start.Format("2006-01"),
		Start: start,
		End:   start.AddDate(0, 1, 0),
	}
}

// Yearly returns the calendar year containing t.
func Yearly(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Type:  model.PeriodYearly,
		Tag:   fmt.Sprintf("%d-YEARLY", start.Year()),
		Start: start,
		End:   start.AddDate(1, 0, 0),
	}
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}
