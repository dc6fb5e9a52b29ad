package domain

// PlaybackPriority decides which feed instance wins a simultaneous playback
// request. Higher wins.
type PlaybackPriority int

const (
	PriorityNone       PlaybackPriority = 0
	PriorityFeed       PlaybackPriority = 1
	PriorityFullscreen PlaybackPriority = 2
)
