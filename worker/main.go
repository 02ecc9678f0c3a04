package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/concrnt/ccworld-migration/service"
	"github.com/concrnt/ccworld-migration/store"
)

var tracer = otel.Tracer("worker")

// Deliverer posts a serialized entity to the public inbox of a pod.
type Deliverer interface {
	Deliver(ctx context.Context, host string, body []byte) error
}

// Importer imports an archive into a new user.
type Importer interface {
	Import(ctx context.Context, data []byte, username, email string) (*service.Result, error)
}

type Worker struct {
	queue      Queue
	store      *store.Store
	dispatcher *Dispatcher
	deliverer  Deliverer
	importer   Importer
	logger     *slog.Logger

	MaxAttempts int
	PollTimeout time.Duration
}

func NewWorker(
	queue Queue,
	store *store.Store,
	dispatcher *Dispatcher,
	deliverer Deliverer,
	importer Importer,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		queue:       queue,
		store:       store,
		dispatcher:  dispatcher,
		deliverer:   deliverer,
		importer:    importer,
		logger:      logger.With("component", "worker"),
		MaxAttempts: 5,
		PollTimeout: 5 * time.Second,
	}
}

// Run starts one goroutine per queue. They stop when ctx is done.
func (w *Worker) Run(ctx context.Context) {
	go w.loop(ctx, DeliveryQueue, w.deliver)
	go w.loop(ctx, ContactQueue, w.sendContact)
	go w.loop(ctx, ImportQueue, w.runImport)
}

func (w *Worker) loop(ctx context.Context, queue string, handle func(context.Context, []byte) error) {
	logger := w.logger.With("queue", queue)
	logger.Info("start worker")

	for ctx.Err() == nil {
		payload, err := w.queue.Pop(ctx, queue, w.PollTimeout)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("failed to pop job", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		if err := handle(ctx, payload); err != nil {
			jobsFailed.WithLabelValues(queue).Inc()
			logger.Error("job failed", "err", err)
		}
	}

	logger.Info("worker stopped")
}
