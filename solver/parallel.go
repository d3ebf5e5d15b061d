package solver

import (
	"runtime"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// sweepResult collects what one slab chunk produced during a sweep. Chunks
// are merged in slab order so results do not depend on scheduling.
type sweepResult struct {
	full, empty []int

	mass, volume float64
	massSource   float64 // mass added by inflow, removed by outflow
	maxUsqr      float64
	maxU         r3.Vec

	used, interpolated int
	filled, emptied    int

	panicReason string
}

func (r *sweepResult) reset() {
	r.full = r.full[:0]
	r.empty = r.empty[:0]
	r.mass, r.volume, r.massSource, r.maxUsqr = 0, 0, 0, 0
	r.maxU = r3.Vec{}
	r.used, r.interpolated, r.filled, r.emptied = 0, 0, 0, 0
	r.panicReason = ""
}

// trackSpeed records the largest squared speed seen by the chunk.
func (r *sweepResult) trackSpeed(ux, uy, uz float64) {
	usqr := ux*ux + uy*uy + uz*uz
	if usqr > r.maxUsqr {
		r.maxUsqr = usqr
		r.maxU = r3.Vec{X: ux, Y: uy, Z: uz}
	}
}

// workChunk represents a range of slabs for a worker to process.
type workChunk struct {
	index      int
	start, end int
	fn         func(res *sweepResult, start, end int)
}

// parallelState holds the persistent worker pool used by slab sweeps.
type parallelState struct {
	numWorkers int
	threshold  int // minimum slab count to use the pool
	results    []sweepResult

	// Worker pool channels
	workChan chan workChunk // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool           // true if workers are running
}

func newParallelState(workers, threshold int) *parallelState {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &parallelState{
		numWorkers: workers,
		threshold:  threshold,
		results:    make([]sweepResult, workers),
	}
}

// startWorkers launches persistent worker goroutines.
func (p *parallelState) startWorkers() {
	if p.running || p.numWorkers <= 1 {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// stopWorkers signals all workers to exit and waits for them.
func (p *parallelState) stopWorkers() {
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

// worker runs in a goroutine, processing chunks until stopped.
func (p *parallelState) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			chunk.fn(&p.results[chunk.index], chunk.start, chunk.end)
			p.doneChan <- struct{}{}
		}
	}
}

// sweep runs fn over slabs [0, n) and returns the per-chunk results in
// slab order. It returns after every chunk has finished.
func (p *parallelState) sweep(n int, fn func(res *sweepResult, start, end int)) []sweepResult {
	if !p.running || n < p.threshold {
		res := &p.results[0]
		res.reset()
		fn(res, 0, n)
		return p.results[:1]
	}

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers
	dispatched := 0
	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}
		p.results[dispatched].reset()
		p.workChan <- workChunk{index: dispatched, start: start, end: end, fn: fn}
		dispatched++
	}

	for i := 0; i < dispatched; i++ {
		<-p.doneChan
	}
	return p.results[:dispatched]
}
