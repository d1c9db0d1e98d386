package notify

import (
	"math"
	"testing"
	"time"
)

func TestEstimateDepletionLinearBurn(t *testing.T) {
	now := time.Now()
	// 1% per 10 seconds, currently at 90%: 100 seconds to depletion.
	history := []UsagePoint{
		{Timestamp: now.Add(-20 * time.Second), UsedPercent: 88},
		{Timestamp: now.Add(-10 * time.Second), UsedPercent: 89},
		{Timestamp: now, UsedPercent: 90},
	}

	dep, ok := EstimateDepletion(history, now)
	if !ok {
		t.Fatal("expected a depletion estimate")
	}
	if math.Abs(dep.BurnRate-0.1) > 0.001 {
		t.Errorf("burn rate: got %f, want 0.1", dep.BurnRate)
	}
	wantAt := now.Add(100 * time.Second)
	if diff := dep.At.Sub(wantAt); diff < -time.Second || diff > time.Second {
		t.Errorf("depletion at %v, want ~%v", dep.At, wantAt)
	}
}

func TestEstimateDepletionFlatTrend(t *testing.T) {
	now := time.Now()
	history := []UsagePoint{
		{Timestamp: now.Add(-10 * time.Second), UsedPercent: 50},
		{Timestamp: now, UsedPercent: 50},
	}

	if _, ok := EstimateDepletion(history, now); ok {
		t.Error("flat trend should yield no estimate")
	}
}

func TestEstimateDepletionDecreasingTrend(t *testing.T) {
	// Usage dropping (a window reset mid-history) must not project a
	// depletion.
	now := time.Now()
	history := []UsagePoint{
		{Timestamp: now.Add(-10 * time.Second), UsedPercent: 90},
		{Timestamp: now, UsedPercent: 5},
	}

	if _, ok := EstimateDepletion(history, now); ok {
		t.Error("decreasing trend should yield no estimate")
	}
}

func TestEstimateDepletionAlreadyExhausted(t *testing.T) {
	now := time.Now()
	history := []UsagePoint{
		{Timestamp: now.Add(-10 * time.Second), UsedPercent: 99},
		{Timestamp: now, UsedPercent: 100},
	}

	dep, ok := EstimateDepletion(history, now)
	if !ok {
		t.Fatal("expected a depletion estimate")
	}
	if !dep.At.Equal(now) {
		t.Errorf("exhausted window should deplete now, got %v", dep.At)
	}
}

func TestEstimateDepletionInsufficientHistory(t *testing.T) {
	now := time.Now()
	if _, ok := EstimateDepletion(nil, now); ok {
		t.Error("empty history should yield no estimate")
	}
	if _, ok := EstimateDepletion([]UsagePoint{{Timestamp: now, UsedPercent: 50}}, now); ok {
		t.Error("single point should yield no estimate")
	}
}
