package battle

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrIncomparable is returned when two ratings of different variants are
// compared. The two scales have no common order and must never be coerced.
var ErrIncomparable = errors.New("ratings of different variants are not comparable")

// Rating is the player's competitive standing when the battle was queued:
// either a numeric power score or an ordinal rank tier.
type Rating interface {
	// Label names the rating system ("XP" or "Rank").
	Label() string
	// Compare returns -1, 0 or 1, or ErrIncomparable across variants.
	Compare(other Rating) (int, error)
	fmt.Stringer
}

// SameRating reports whether two ratings are equal. Ratings of different
// variants (or a nil side) are never the same.
func SameRating(a, b Rating) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	c, err := a.Compare(b)
	return err == nil && c == 0
}

const (
	XPowerMin = 500
	XPowerMax = 5500
)

// XPower is a numeric power score.
type XPower struct {
	value float64
}

// NewXPower validates the plausible score range; OCR noise outside it is
// rejected here rather than stored.
func NewXPower(value float64) (XPower, error) {
	if value < XPowerMin || value > XPowerMax {
		return XPower{}, fmt.Errorf("x-power %v outside [%d, %d]", value, XPowerMin, XPowerMax)
	}
	return XPower{value: value}, nil
}

func (x XPower) Label() string  { return "XP" }
func (x XPower) Value() float64 { return x.value }

func (x XPower) Compare(other Rating) (int, error) {
	o, ok := other.(XPower)
	if !ok {
		return 0, ErrIncomparable
	}
	switch {
	case x.value < o.value:
		return -1, nil
	case x.value > o.value:
		return 1, nil
	default:
		return 0, nil
	}
}

func (x XPower) String() string {
	return strconv.FormatFloat(x.value, 'f', 1, 64)
}

// rankOrder is the closed, totally ordered set of rank tiers.
var rankOrder = map[string]int{
	"C-": 0, "C": 1, "C+": 2,
	"B-": 3, "B": 4, "B+": 5,
	"A-": 6, "A": 7, "A+": 8,
	"S": 9, "S+": 10,
}

// RankTier is an ordinal rank label.
type RankTier struct {
	tier string
}

func NewRankTier(tier string) (RankTier, error) {
	if _, ok := rankOrder[tier]; !ok {
		return RankTier{}, fmt.Errorf("unknown rank tier: %q", tier)
	}
	return RankTier{tier: tier}, nil
}

func (r RankTier) Label() string { return "Rank" }
func (r RankTier) Value() string { return r.tier }

func (r RankTier) Compare(other Rating) (int, error) {
	o, ok := other.(RankTier)
	if !ok {
		return 0, ErrIncomparable
	}
	a, b := rankOrder[r.tier], rankOrder[o.tier]
	switch {
	case a < b:
		return -1, nil
	case a > b:
		return 1, nil
	default:
		return 0, nil
	}
}

func (r RankTier) String() string { return r.tier }

// ParseRating reconstructs a rating from its String form: numeric text is an
// XPower, anything else must be a rank tier.
func ParseRating(s string) (Rating, error) {
	if s == "" {
		return nil, errors.New("empty rating")
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return NewXPower(v)
	}
	return NewRankTier(s)
}
