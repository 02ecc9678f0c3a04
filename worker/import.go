package worker

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

func (w *Worker) runImport(ctx context.Context, payload []byte) error {
	ctx, span := tracer.Start(ctx, "Worker.RunImport")
	defer span.End()

	var job ImportJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return errors.Wrap(err, "bad import job")
	}

	logger := w.logger.With("username", job.Username)
	result, err := w.importer.Import(ctx, job.Archive, job.Username, job.Email)
	if result != nil {
		for _, e := range result.Errors {
			logger.Error("archive error", "error", e)
		}
		for _, warning := range result.Warnings {
			logger.Warn("archive warning", "warning", warning)
		}
	}
	if err != nil {
		span.RecordError(err)
		return errors.Wrapf(err, "import for %s", job.Username)
	}

	logger.Info("queued import finished", "stats", result.Stats, "migrated", result.Migration != nil)
	return nil
}
