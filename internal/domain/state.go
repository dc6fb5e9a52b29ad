package domain

// PlaybackStatus is the desired state pushed to a player handle.
// PositionMillis is applied only when Seek is set.
type PlaybackStatus struct {
	ShouldPlay     bool    `json:"shouldPlay"`
	Muted          bool    `json:"isMuted"`
	Volume         float64 `json:"volume"`
	PositionMillis int64   `json:"positionMillis,omitempty"`
	Seek           bool    `json:"seek,omitempty"`
}

// Paused is the status of every non-current video: silent first, then stopped.
func Paused() PlaybackStatus {
	return PlaybackStatus{ShouldPlay: false, Muted: true, Volume: 0}
}

func Playing(muted bool) PlaybackStatus {
	volume := 1.0
	if muted {
		volume = 0
	}
	return PlaybackStatus{ShouldPlay: true, Muted: muted, Volume: volume}
}

// PlayerStatus is what a player handle reports back.
type PlayerStatus struct {
	IsLoaded       bool  `json:"isLoaded"`
	IsPlaying      bool  `json:"isPlaying"`
	PositionMillis int64 `json:"positionMillis"`
	DurationMillis int64 `json:"durationMillis"`
	DidJustFinish  bool  `json:"didJustFinish,omitempty"`
}
