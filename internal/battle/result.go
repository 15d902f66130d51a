// Package battle holds the metadata extracted during one battle cycle.
package battle

import (
	"time"
)

// Result accumulates metadata while a battle is queued and recorded. It is
// owned by the recorder's single goroutine and replaced wholesale, never
// shared. Zero values mean "not available": an unset Start is the zero time,
// unset labels are "", and kill counts are only meaningful when HasRecord.
type Result struct {
	Start   time.Time
	Match   string
	Rule    string
	Stage   string
	Outcome string

	Kill      int
	Death     int
	Special   int
	HasRecord bool

	Rating Rating
}

// NewResult returns an empty accumulator.
func NewResult() *Result {
	return &Result{}
}

// SetKillRecord stores a complete kill/death/special triple. Partial records
// are never stored.
func (r *Result) SetKillRecord(kill, death, special int) {
	r.Kill = kill
	r.Death = death
	r.Special = special
	r.HasRecord = true
}

// RatingString is the persisted form of the rating, "" when none was seen.
func (r *Result) RatingString() string {
	if r.Rating == nil {
		return ""
	}
	return r.Rating.String()
}
