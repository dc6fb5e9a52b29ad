package ports

// Subscribable is an externally owned stream of values. The callback receives
// the current value on subscription and every change after it.
type Subscribable[T any] interface {
	Subscribe(fn func(T)) (cancel func())
}
