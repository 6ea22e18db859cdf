package excel

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

var (
	// epoch1900 is the base of the 1900 date system. Serial 1 is 1900-01-01,
	// but Excel treats 1900 as a leap year, so from serial 61 onward the
	// effective base moves back a day to 1899-12-30.
	epoch1900 = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

	// epoch1904 is the base of the 1904 date system used by old Mac workbooks.
	epoch1904 = time.Date(1904, time.January, 1, 0, 0, 0, 0, time.UTC)
)

const msPerDay = 24 * 60 * 60 * 1000

// SerialToTime converts an Excel serial date to a UTC time.
// The fractional part is the time of day, rounded to the millisecond.
func SerialToTime(serial float64, date1904 bool) (time.Time, error) {
	if math.IsNaN(serial) || math.IsInf(serial, 0) || serial < 0 {
		return time.Time{}, fmt.Errorf("invalid serial date %v", serial)
	}

	base := epoch1904
	if !date1904 {
		base = epoch1900
		if serial < 61 {
			// Before the phantom 1900-02-29.
			base = base.AddDate(0, 0, 1)
		}
	}

	days := math.Floor(serial)
	ms := math.Round((serial - days) * msPerDay)
	t := base.AddDate(0, 0, int(days))
	return t.Add(time.Duration(ms) * time.Millisecond), nil
}

// ParseSerial parses the stored text of a numeric cell and converts it.
func ParseSerial(raw string, date1904 bool) (time.Time, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid serial date %q: %w", raw, err)
	}
	return SerialToTime(f, date1904)
}

// TimeToSerial converts a time to an Excel serial date in the 1900 system.
func TimeToSerial(t time.Time) float64 {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	days := math.Round(midnight.Sub(epoch1900).Hours() / 24)
	if days < 61 {
		days--
	}
	frac := float64(t.Sub(midnight).Milliseconds()) / msPerDay
	return days + frac
}
