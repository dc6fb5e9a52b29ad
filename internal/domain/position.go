package domain

import "time"

// ResumeThresholdMillis is how close to the end a saved position may be before
// resuming is suppressed and the video restarts.
const ResumeThresholdMillis int64 = 1000

type PlaybackPosition struct {
	Key            string    `json:"key"`
	PositionMillis int64     `json:"positionMillis"`
	DurationMillis int64     `json:"durationMillis"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ResumeFrom returns the position playback should start from, given the
// duration reported by the player (0 when unknown).
func (p PlaybackPosition) ResumeFrom(durationMillis int64) int64 {
	if p.PositionMillis <= 0 {
		return 0
	}
	if durationMillis <= 0 {
		durationMillis = p.DurationMillis
	}
	if durationMillis > 0 && p.PositionMillis >= durationMillis-ResumeThresholdMillis {
		return 0
	}
	return p.PositionMillis
}
