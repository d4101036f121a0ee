package training

import (
	"time"
)

// EpochMetrics holds the per-epoch summary reported after each pass
type EpochMetrics struct {
	Epoch      int
	TrainLoss  float64
	ValidLoss  float64
	Duration   time.Duration
	BatchCount int
}

// epochTime splits a duration into whole minutes and leftover seconds
// for the epoch summary line
func epochTime(d time.Duration) (int, int) {
	secs := int(d.Seconds())
	return secs / 60, secs % 60
}
