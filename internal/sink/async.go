package sink

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gpsrelay/internal/worker"
)

// Sender is satisfied by Client.
type Sender interface {
	Report(ctx context.Context, r Report) error
}

type job struct {
	report Report
	result *worker.Future[struct{}]
}

// AsyncClient runs reports on a bounded worker pool so a slow endpoint only
// ever occupies pool workers, never the caller.
type AsyncClient struct {
	sender  Sender
	timeout time.Duration
	pool    *worker.Pool[*job]
}

func NewAsyncClient(sender Sender, timeout time.Duration, workers, queueSize int, reg prometheus.Registerer) *AsyncClient {
	a := &AsyncClient{sender: sender, timeout: timeout}

	var opts []worker.Option[*job]
	if reg != nil {
		opts = append(opts, worker.WithMetrics[*job](reg, "gpsrelay_sink_pool"))
	}
	a.pool = worker.NewPool(workers, queueSize, a.process, opts...)
	return a
}

func (a *AsyncClient) Start(ctx context.Context) error {
	return a.pool.Start(ctx)
}

func (a *AsyncClient) Stop(timeout time.Duration) error {
	return a.pool.Stop(timeout)
}

// Submit schedules the report and returns its handle. A full queue or a
// stopped pool fails immediately.
func (a *AsyncClient) Submit(r Report) (*worker.Future[struct{}], error) {
	j := &job{report: r, result: worker.NewFuture[struct{}]()}
	if err := a.pool.Submit(j); err != nil {
		return nil, err
	}
	return j.result, nil
}

func (a *AsyncClient) process(ctx context.Context, j *job) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	err := a.sender.Report(ctx, j.report)
	j.result.Resolve(struct{}{}, err)
	return err
}
