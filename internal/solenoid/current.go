package solenoid

import "math"

// currentLimiter filters the total current drawn from the supply.
type currentLimiter struct {
	max      float64
	alpha    float64
	filtered float64
}

// sample feeds a raw reading and reports whether the filtered value is above
// the ceiling.
func (l *currentLimiter) sample(raw float64) bool {
	// A failed read keeps the last filtered value.
	if math.IsNaN(raw) {
		return l.tripped()
	}

	if l.alpha > 0 {
		l.filtered = l.filtered*(1-l.alpha) + raw*l.alpha
	} else {
		l.filtered = raw
	}
	return l.tripped()
}

func (l *currentLimiter) tripped() bool {
	return l.filtered > l.max
}

func (l *currentLimiter) reset() {
	l.filtered = 0
}
