package validator

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/concrnt/ccworld-migration/archive"
	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/store"
	"github.com/concrnt/ccworld-migration/types"
)

var tracer = otel.Tracer("validator")

// Discoverer resolves handles to person documents.
type Discoverer interface {
	Discover(ctx context.Context, handle string) (types.PersonDocument, error)
}

// Fetcher fetches public entities from their author's pod.
type Fetcher interface {
	FetchPublic(ctx context.Context, author, kind, guid string) (entities.Object, error)
}

// Input is what every validator inspects.
type Input struct {
	Archive    *archive.Archive
	Resolution *Resolution
}

// Validator checks one aspect of an archive and returns its messages.
// Returning an *archive.KeyError aborts the whole pipeline.
type Validator interface {
	Name() string
	Validate(ctx context.Context, in *Input) ([]string, error)
}

// Report is the outcome of validating an archive. Errors block the import,
// warnings do not.
type Report struct {
	Archive    *archive.Archive
	Errors     []string
	Warnings   []string
	Resolution *Resolution
}

func (r *Report) Valid() bool {
	return len(r.Errors) == 0
}

// Pipeline runs the critical validators, then the non critical ones.
type Pipeline struct {
	Critical    []Validator
	NonCritical []Validator
	logger      *slog.Logger
}

// NewPipeline returns the pipeline with the standard validator sets.
func NewPipeline(
	store *store.Store,
	discoverer Discoverer,
	fetcher Fetcher,
	logger *slog.Logger,
) *Pipeline {
	people := &people{store, discoverer}
	return &Pipeline{
		Critical: []Validator{
			&SchemaValidator{},
			&AuthorPrivateKeyValidator{people},
		},
		NonCritical: []Validator{
			&ContactsValidator{people},
			NewRelayablesValidator(store, fetcher),
			NewOthersRelayablesValidator(store, fetcher),
		},
		logger: logger.With("component", "validator"),
	}
}

// Validate parses and checks an archive. It never fails: every problem ends
// up in the report.
func (p *Pipeline) Validate(ctx context.Context, data []byte) *Report {
	ctx, span := tracer.Start(ctx, "Validator.Pipeline.Validate")
	defer span.End()

	report := &Report{Resolution: NewResolution()}

	a, err := archive.Parse(data)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, archive.ErrBadJSON) {
			report.Errors = append(report.Errors, "Bad JSON provided: "+trimCause(err))
		} else {
			report.Errors = append(report.Errors, "Archive is malformed: "+trimCause(err))
		}
		return report
	}
	report.Archive = a

	in := &Input{Archive: a, Resolution: report.Resolution}
	if err := p.run(ctx, p.Critical, in, &report.Errors); err != nil {
		p.abort(report, err)
		return report
	}
	if err := p.run(ctx, p.NonCritical, in, &report.Warnings); err != nil {
		p.abort(report, err)
		return report
	}

	for _, warning := range report.Warnings {
		p.logger.Warn(warning, "author", a.Author())
	}
	return report
}

func (p *Pipeline) run(ctx context.Context, list []Validator, in *Input, messages *[]string) error {
	for _, v := range list {
		msgs, err := v.Validate(ctx, in)
		if err != nil {
			return errors.Wrap(err, v.Name())
		}
		*messages = append(*messages, msgs...)
	}
	return nil
}

func (p *Pipeline) abort(report *Report, err error) {
	var keyErr *archive.KeyError
	if errors.As(err, &keyErr) {
		report.Errors = append(report.Errors, "Missing mandatory data: "+keyErr.Error())
		return
	}
	p.logger.Error("validation failed", "err", err)
	report.Errors = append(report.Errors, err.Error())
}

// trimCause drops the sentinel from a wrapped parse error.
func trimCause(err error) string {
	msg := err.Error()
	cause := errors.Cause(err).Error()
	if len(msg) > len(cause)+2 {
		return msg[:len(msg)-len(cause)-2]
	}
	return msg
}
