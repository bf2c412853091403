package utils

// Drain is a bounded in-flight tracker for request/response pipelines. The
// producer calls Launched after handing work out and DrainTo(limit, ...) to
// block until at most limit results remain outstanding, so a fast producer
// cannot out-run slow consumers by more than the configured bound.
type Drain[T any] struct {
	results  <-chan T
	inFlight int
}

func NewDrain[T any](results <-chan T) *Drain[T] {
	return &Drain[T]{results: results}
}

// Launched records one unit of work handed out.
func (d *Drain[T]) Launched() {
	d.inFlight++
}

// InFlight reports the number of outstanding results.
func (d *Drain[T]) InFlight() int {
	return d.inFlight
}

// DrainTo receives results until at most limit remain in flight, invoking
// handle for each. It blocks between results but never waits once the bound
// is satisfied.
func (d *Drain[T]) DrainTo(limit int, handle func(T)) {
	if limit < 0 {
		limit = 0
	}
	for d.inFlight > limit {
		r := <-d.results
		d.inFlight--
		handle(r)
	}
}
