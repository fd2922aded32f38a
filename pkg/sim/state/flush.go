package state

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ScalarRow is one agent's scalar state at one tick, copied out for
// write-behind persistence.
type ScalarRow struct {
	Tick       int
	AgentIndex int
	AgentID    string
	Values     [NumScalarCols]float64
}

// FlushSink receives batches of scalar rows. Sinks run outside the tick
// loop; errors are logged and never propagate back into the simulation.
type FlushSink func(ctx context.Context, rows []ScalarRow) error

// Flusher persists scalar rows write-behind: Enqueue copies rows out of
// the population and hands batches to a background goroutine, dropping
// batches instead of blocking when the sink falls behind. Telemetry
// remains the ground truth for replay either way.
type Flusher struct {
	batchSize int
	sink      FlushSink
	ch        chan []ScalarRow
	wg        sync.WaitGroup
	stopOnce  sync.Once
	dropped   atomic.Int64
}

// NewFlusher starts a flusher delivering batches of at most batchSize
// rows to sink.
func NewFlusher(batchSize int, sink FlushSink) *Flusher {
	if batchSize < 1 {
		batchSize = 256
	}
	f := &Flusher{
		batchSize: batchSize,
		sink:      sink,
		ch:        make(chan []ScalarRow, 8),
	}
	f.wg.Add(1)
	go f.run()
	return f
}

func (f *Flusher) run() {
	defer f.wg.Done()
	for batch := range f.ch {
		if err := f.sink(context.Background(), batch); err != nil {
			slog.Warn("failed to flush scalar rows",
				"rows", len(batch),
				"error", err)
		}
	}
}

// Enqueue copies the population's scalar rows at the given tick and
// queues them in batches. Batches that cannot be queued immediately are
// dropped and counted.
func (f *Flusher) Enqueue(tick int, pop *Population) {
	for start := 0; start < pop.N; start += f.batchSize {
		end := start + f.batchSize
		if end > pop.N {
			end = pop.N
		}
		batch := make([]ScalarRow, 0, end-start)
		for i := start; i < end; i++ {
			row := ScalarRow{Tick: tick, AgentIndex: i, AgentID: pop.IDs[i]}
			copy(row.Values[:], pop.Scalars.Row(i))
			batch = append(batch, row)
		}
		select {
		case f.ch <- batch:
		default:
			f.dropped.Add(1)
		}
	}
}

// Dropped returns how many batches were discarded under backpressure.
func (f *Flusher) Dropped() int64 {
	return f.dropped.Load()
}

// Stop drains queued batches and waits for the sink goroutine to exit.
// The flusher cannot be reused afterwards.
func (f *Flusher) Stop() {
	f.stopOnce.Do(func() {
		close(f.ch)
	})
	f.wg.Wait()
}
