package offlinecache

import "sync"

// TaskSet tracks fire-and-forget background work, like the cache refreshes
// spawned by the strategies. The owner must keep the process alive until
// in-flight tasks settle, which Wait makes possible at shutdown.
type TaskSet struct {
	wg sync.WaitGroup
}

// Go runs fn on a new goroutine and tracks it until it returns.
func (t *TaskSet) Go(fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

// Wait blocks until every tracked task has settled.
func (t *TaskSet) Wait() {
	t.wg.Wait()
}
