package textutil

import (
	"fmt"
	"math"
)

// FormatClock renders seconds as m:ss.s, e.g. 3:07.4.
func FormatClock(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "0:00.0"
	}
	tenths := int64(math.Round(seconds * 10))
	minutes := tenths / 600
	rest := float64(tenths%600) / 10
	return fmt.Sprintf("%d:%04.1f", minutes, rest)
}

// Round trims a float to the given number of decimal places.
func Round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}
