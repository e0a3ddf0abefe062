package socketserver

import "sync"

// Spawner runs connection workers. It is chosen once, when the server is
// constructed.
type Spawner interface {
	// Spawn runs fn as an independent worker
	Spawn(fn func())
	// Wait blocks until every spawned worker has returned
	Wait()
}

// GoroutineSpawner runs every worker in its own goroutine. There is no pool
// and no queue: each accepted connection is served immediately.
type GoroutineSpawner struct {
	wg sync.WaitGroup
}

// NewGoroutineSpawner creates a GoroutineSpawner
func NewGoroutineSpawner() *GoroutineSpawner {
	return &GoroutineSpawner{}
}

// Spawn implements Spawner
func (s *GoroutineSpawner) Spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Wait implements Spawner
func (s *GoroutineSpawner) Wait() {
	s.wg.Wait()
}
