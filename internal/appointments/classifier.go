package appointments

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	errBadDate = errors.New("invalid date")
	errBadTime = errors.New("invalid time")
)

// Partition is the result of Classify. Past and Upcoming keep input order.
// Records whose date or time cannot be read land in Invalid instead of
// failing the whole call.
type Partition struct {
	Past     []Appointment `json:"past"`
	Upcoming []Appointment `json:"upcoming"`
	Invalid  []Unparseable `json:"invalid,omitempty"`
}

// Unparseable is an appointment the classifier could not place.
type Unparseable struct {
	Appointment Appointment `json:"appointment"`
	Reason      string      `json:"reason"`
}

// Classifier splits appointments around an instant using a fixed clinic
// timezone, independent of the server's local zone.
type Classifier struct {
	loc *time.Location
}

// NewClassifier returns a classifier for loc. A nil loc means UTC.
func NewClassifier(loc *time.Location) *Classifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Classifier{loc: loc}
}

// Location is the reference zone.
func (c *Classifier) Location() *time.Location { return c.loc }

// StartsAt combines the appointment's calendar day and HH:MM time in the
// clinic zone. Date may be a bare YYYY-MM-DD or an ISO timestamp, in which
// case only the day part is used.
func (c *Classifier) StartsAt(a Appointment) (time.Time, error) {
	day := strings.TrimSpace(a.Date)
	if i := strings.IndexByte(day, 'T'); i >= 0 {
		day = day[:i]
	}
	d, err := time.ParseInLocation("2006-01-02", day, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q", errBadDate, a.Date)
	}

	clock, err := time.Parse("15:04", strings.TrimSpace(a.Time))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q", errBadTime, a.Time)
	}

	return time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), 0, 0, c.loc), nil
}

// Classify partitions appts into past and upcoming relative to now. An
// appointment starting exactly at now is upcoming. The input slice is not
// modified.
func (c *Classifier) Classify(appts []Appointment, now time.Time) Partition {
	now = now.In(c.loc)
	out := Partition{
		Past:     make([]Appointment, 0, len(appts)),
		Upcoming: make([]Appointment, 0, len(appts)),
	}
	for _, a := range appts {
		at, err := c.StartsAt(a)
		if err != nil {
			out.Invalid = append(out.Invalid, Unparseable{Appointment: a, Reason: err.Error()})
			continue
		}
		if at.Before(now) {
			out.Past = append(out.Past, a)
		} else {
			out.Upcoming = append(out.Upcoming, a)
		}
	}
	return out
}
