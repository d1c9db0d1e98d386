package notify

import (
	"errors"
	"time"
)

// UsagePoint is one historical session-window reading.
type UsagePoint struct {
	Timestamp   time.Time
	UsedPercent float64
}

// Depletion is a projected exhaustion estimate derived from the recent
// burn rate.
type Depletion struct {
	// At is the projected moment used percent reaches 100.
	At time.Time
	// BurnRate is percent per second.
	BurnRate float64
}

// EstimateDepletion fits a line through the usage history and projects
// when the session window runs out. A flat or decreasing trend yields
// ok=false: no depletion in sight.
func EstimateDepletion(history []UsagePoint, now time.Time) (Depletion, bool) {
	slope, _, err := usageSlope(history)
	if err != nil || slope <= 0 {
		return Depletion{}, false
	}

	current := history[len(history)-1].UsedPercent
	remaining := 100 - current
	if remaining <= 0 {
		return Depletion{At: now, BurnRate: slope}, true
	}

	seconds := remaining / slope
	return Depletion{
		At:       now.Add(time.Duration(seconds * float64(time.Second))),
		BurnRate: slope,
	}, true
}

// usageSlope performs linear regression y = a + bx over the history,
// with x in seconds since the first point.
func usageSlope(history []UsagePoint) (slope float64, intercept float64, err error) {
	if len(history) < 2 {
		return 0, 0, errors.New("insufficient history for prediction")
	}

	startTime := history[0].Timestamp.Unix()

	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(history))

	for _, point := range history {
		x := float64(point.Timestamp.Unix() - startTime)
		y := point.UsedPercent
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0, errors.New("no time variation in history")
	}

	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept, nil
}
