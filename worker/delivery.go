package worker

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// deliver posts one delivery job. A failed delivery goes back to the queue
// until it has been tried MaxAttempts times.
func (w *Worker) deliver(ctx context.Context, payload []byte) error {
	ctx, span := tracer.Start(ctx, "Worker.Deliver")
	defer span.End()

	var job DeliveryJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return errors.Wrap(err, "bad delivery job")
	}

	err := w.deliverer.Deliver(ctx, job.Host, job.Body)
	if err == nil {
		deliveries.WithLabelValues("ok").Inc()
		w.logger.Debug("delivered", "host", job.Host, "sender", job.Sender)
		return nil
	}
	span.RecordError(err)

	job.Attempts++
	if job.Attempts >= w.MaxAttempts {
		deliveries.WithLabelValues("dropped").Inc()
		return errors.Wrapf(err, "giving up delivery to %s after %d attempts", job.Host, job.Attempts)
	}

	deliveries.WithLabelValues("retry").Inc()
	w.logger.Warn("delivery failed, requeueing", "host", job.Host, "attempts", job.Attempts, "err", err)
	return w.dispatcher.push(ctx, DeliveryQueue, job)
}
