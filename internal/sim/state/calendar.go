package state

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Calendar maps timesteps to dates: turn 0 starts at Epoch and every turn
// advances by one Frequency period.
type Calendar struct {
	Epoch     string `json:"epoch" yaml:"epoch"`
	Frequency string `json:"frequency" yaml:"frequency"`
}

func DefaultCalendar() Calendar {
	return Calendar{Epoch: "2025-01-01", Frequency: "quarterly"}
}

var frequencies = map[string]struct {
	months int
	days   int
}{
	"daily":     {days: 1},
	"weekly":    {days: 7},
	"monthly":   {months: 1},
	"quarterly": {months: 3},
	"annual":    {months: 12},
}

func ValidFrequency(f string) bool {
	_, ok := frequencies[f]
	return ok
}

// TurnOf converts a calendar date to the first turn whose period starts on
// or after that date. Dates before the epoch map to negative turns.
func (c Calendar) TurnOf(date string) (int, error) {
	epoch, err := time.Parse(dateLayout, c.epochOrDefault())
	if err != nil {
		return 0, fmt.Errorf("calendar epoch %q: %w", c.Epoch, err)
	}
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return 0, fmt.Errorf("date %q: %w", date, err)
	}
	freq := c.Frequency
	if freq == "" {
		freq = DefaultCalendar().Frequency
	}
	f, ok := frequencies[freq]
	if !ok {
		return 0, fmt.Errorf("calendar frequency %q unknown", c.Frequency)
	}
	if f.days > 0 {
		days := int(d.Sub(epoch).Hours() / 24)
		return ceilDiv(days, f.days), nil
	}
	months := (d.Year()-epoch.Year())*12 + int(d.Month()) - int(epoch.Month())
	if d.Day() > epoch.Day() {
		months++
	}
	return ceilDiv(months, f.months), nil
}

// DateOf returns the start date of turn t.
func (c Calendar) DateOf(t int) (string, error) {
	epoch, err := time.Parse(dateLayout, c.epochOrDefault())
	if err != nil {
		return "", fmt.Errorf("calendar epoch %q: %w", c.Epoch, err)
	}
	freq := c.Frequency
	if freq == "" {
		freq = DefaultCalendar().Frequency
	}
	f, ok := frequencies[freq]
	if !ok {
		return "", fmt.Errorf("calendar frequency %q unknown", c.Frequency)
	}
	if f.days > 0 {
		return epoch.AddDate(0, 0, t*f.days).Format(dateLayout), nil
	}
	return epoch.AddDate(0, t*f.months, 0).Format(dateLayout), nil
}

func (c Calendar) epochOrDefault() string {
	if c.Epoch == "" {
		return DefaultCalendar().Epoch
	}
	return c.Epoch
}

func ceilDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a > 0) == (b > 0) {
		q++
	}
	return q
}
