package symbolicator

import "runtime"

// workPool bounds concurrent CPU-bound symfile-parse/symcache-build
// work to GOMAXPROCS, independent of MaxConcurrentModules (which
// bounds the network-bound download fan-out). Sized once per process;
// cmd/symbolicate wires in go.uber.org/automaxprocs so GOMAXPROCS
// already reflects any container CPU quota by the time this runs.
type workPool struct {
	sem chan struct{}
}

func newWorkPool() *workPool {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	return &workPool{sem: make(chan struct{}, n)}
}

// run executes fn with at most GOMAXPROCS other calls running
// concurrently, blocking until a slot is free.
func (p *workPool) run(fn func() ([]byte, error)) ([]byte, error) {
	p.sem <- struct{}{}
	defer func() { <-p.sem }()
	return fn()
}
