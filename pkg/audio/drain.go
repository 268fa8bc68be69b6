package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to keep a producer from blocking when its output is no longer
// needed (e.g., the [Handoff] consumer side during teardown, or a transport's
// message channel after the session was abandoned).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
