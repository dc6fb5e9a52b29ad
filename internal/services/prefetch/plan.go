package prefetch

import "feedstream/internal/domain"

// Window is how many items ahead of the current one are prefetched per
// network class.
type Window struct {
	Wifi     int
	Cellular int
}

func DefaultWindow() Window {
	return Window{Wifi: 5, Cellular: 3}
}

// Ahead returns the prefetch depth for the network status. Unknown networks
// are treated as cellular; nothing is prefetched while disconnected.
func Ahead(status domain.NetworkStatus, w Window) int {
	if !status.IsConnected {
		return 0
	}
	if status.Type == domain.NetworkWifi {
		return max(w.Wifi, 0)
	}
	return max(w.Cellular, 0)
}

// Range returns the inclusive forward range [current+1, current+ahead]
// clamped to a list of total items. ok is false when the range is empty.
func Range[I domain.Index](current I, total, ahead int) (start, end I, ok bool) {
	if ahead <= 0 || total <= 0 {
		return 0, 0, false
	}
	first := max(int(current)+1, 0)
	last := min(int(current)+ahead, total-1)
	if first > last {
		return 0, 0, false
	}
	return I(first), I(last), true
}
