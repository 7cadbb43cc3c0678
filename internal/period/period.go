// Package period models week/month/year aggregation buckets and their
// calendar arithmetic. Weeks follow ISO-8601: Monday-first, week 1 is the
// week containing the year's first Thursday.
package period

import (
	"errors"
	"fmt"
	"time"
)

// Type identifies a period granularity.
type Type string

const (
	TypeWeek  Type = "week"
	TypeMonth Type = "month"
	TypeYear  Type = "year"
)

var (
	// ErrUnknownType indicates a period type outside week/month/year.
	// Reaching it past key validation is an internal invariant violation.
	ErrUnknownType = errors.New("unknown period type")

	// ErrInvalidKey indicates a key missing the field its type requires.
	ErrInvalidKey = errors.New("invalid period key")
)

// Key identifies a single aggregation bucket. Month is set for month
// keys, Week for week keys; for week keys Year is the ISO week-year,
// which can differ from the calendar year at year boundaries.
type Key struct {
	Type  Type
	Year  int
	Month int
	Week  int
}

func (k Key) String() string {
	switch k.Type {
	case TypeWeek:
		return fmt.Sprintf("week %d-W%02d", k.Year, k.Week)
	case TypeMonth:
		return fmt.Sprintf("month %d-%02d", k.Year, k.Month)
	default:
		return fmt.Sprintf("%s %d", k.Type, k.Year)
	}
}

// Validate checks the key carries the field its type requires.
func (k Key) Validate() error {
	switch k.Type {
	case TypeWeek:
		if k.Week < 1 || k.Week > weeksInYear(k.Year) {
			return fmt.Errorf("%w: week %d out of range for %d", ErrInvalidKey, k.Week, k.Year)
		}
	case TypeMonth:
		if k.Month < 1 || k.Month > 12 {
			return fmt.Errorf("%w: month %d out of range", ErrInvalidKey, k.Month)
		}
	case TypeYear:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, k.Type)
	}
	return nil
}

// Range returns the inclusive first and last calendar days of the key,
// both at midnight UTC.
func (k Key) Range() (start, end time.Time, err error) {
	if err := k.Validate(); err != nil {
		return time.Time{}, time.Time{}, err
	}
	switch k.Type {
	case TypeWeek:
		start = isoWeekStart(k.Year, k.Week)
		return start, start.AddDate(0, 0, 6), nil
	case TypeMonth:
		start = time.Date(k.Year, time.Month(k.Month), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, -1), nil
	default: // TypeYear, per Validate
		start = time.Date(k.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, time.Date(k.Year, time.December, 31, 0, 0, 0, 0, time.UTC), nil
	}
}

// Previous returns the immediately preceding key of the same type.
// Week keys step back by seven days and are re-derived through ISOWeek
// so year rollover lands on the right (year, week) pair.
func (k Key) Previous() (Key, error) {
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	switch k.Type {
	case TypeWeek:
		monday := isoWeekStart(k.Year, k.Week).AddDate(0, 0, -7)
		y, w := monday.ISOWeek()
		return Key{Type: TypeWeek, Year: y, Week: w}, nil
	case TypeMonth:
		if k.Month == 1 {
			return Key{Type: TypeMonth, Year: k.Year - 1, Month: 12}, nil
		}
		return Key{Type: TypeMonth, Year: k.Year, Month: k.Month - 1}, nil
	default:
		return Key{Type: TypeYear, Year: k.Year - 1}, nil
	}
}

// WeeksIn returns the number of ISO weeks covered by a period: 1 for a
// week, the count of distinct ISO weeks overlapping the month for a
// month (4 to 6, crossing year boundaries correctly), and 52 or 53 for
// a year. Never less than 1.
func WeeksIn(typ Type, year, month int) (int, error) {
	switch typ {
	case TypeWeek:
		return 1, nil
	case TypeMonth:
		if month == 0 {
			return 0, fmt.Errorf("%w: month period requires a month number", ErrInvalidKey)
		}
		return weeksInMonth(year, month), nil
	case TypeYear:
		return weeksInYear(year), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}

// AffectedPeriods returns the week, month and year keys whose aggregates
// a transaction at t belongs to. The timestamp is normalized to its UTC
// calendar date first; the week key uses the ISO week-year.
func AffectedPeriods(t time.Time) [3]Key {
	d := t.UTC()
	isoYear, isoWeek := d.ISOWeek()
	return [3]Key{
		{Type: TypeWeek, Year: isoYear, Week: isoWeek},
		{Type: TypeMonth, Year: d.Year(), Month: int(d.Month())},
		{Type: TypeYear, Year: d.Year()},
	}
}

// isoWeekStart returns the Monday of the given ISO (week-year, week) at
// midnight UTC. It anchors on Jan 4, which is always inside week 1.
func isoWeekStart(year, week int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	week1Monday := jan4.AddDate(0, 0, 1-weekday)
	return week1Monday.AddDate(0, 0, (week-1)*7)
}

func weeksInMonth(year, month int) int {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	seen := make(map[[2]int]struct{}, 6)
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		y, w := d.ISOWeek()
		seen[[2]int{y, w}] = struct{}{}
	}
	if len(seen) < 1 {
		return 1
	}
	return len(seen)
}

// weeksInYear counts ISO weeks via the Dec 28 rule: Dec 28 always falls
// in the year's last ISO week.
func weeksInYear(year int) int {
	_, w := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return w
}
