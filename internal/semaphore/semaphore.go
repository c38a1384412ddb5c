// Package semaphore bounds the number of goroutines doing some work at once.
package semaphore

type Semaphore chan struct{}

// New creates a semaphore admitting concurrency holders. A value below one
// admits a single holder.
func New(concurrency int) Semaphore {
	if concurrency < 1 {
		concurrency = 1
	}
	return make(chan struct{}, concurrency)
}

func (s Semaphore) Acquire() {
	s <- struct{}{}
}

// TryAcquire acquires the semaphore if a slot is free and reports whether it
// did.
func (s Semaphore) TryAcquire() bool {
	select {
	case s <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s Semaphore) Release() {
	<-s
}
