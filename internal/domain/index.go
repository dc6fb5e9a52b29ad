package domain

// RenderIndex addresses the render feed projection.
type RenderIndex int

// VideoIndex addresses the video-only projection used by fullscreen playback.
// It is never interchangeable with RenderIndex; translate through PostID.
type VideoIndex int

type Index interface {
	RenderIndex | VideoIndex
}

// Distance returns |a-b|.
func Distance[I Index](a, b I) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}
