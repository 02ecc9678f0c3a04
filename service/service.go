package service

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/importer"
	"github.com/concrnt/ccworld-migration/migration"
	"github.com/concrnt/ccworld-migration/store"
	"github.com/concrnt/ccworld-migration/types"
	"github.com/concrnt/ccworld-migration/validator"
)

var tracer = otel.Tracer("service")

var (
	ErrArchiveInvalid = errors.New("archive is invalid")
	ErrNotResumable   = errors.New("import cannot be resumed")
)

// Result is everything an operator needs to know about one import. Errors and
// Warnings are filled even when the import fails.
type Result struct {
	User      *types.User             `json:"user,omitempty"`
	Person    *types.Person           `json:"person,omitempty"`
	Migration *types.AccountMigration `json:"migration,omitempty"`
	Stats     types.ImportStats       `json:"stats"`
	Errors    []string                `json:"errors"`
	Warnings  []string                `json:"warnings"`
}

// Service imports archives into new local accounts.
type Service struct {
	store    *store.Store
	pipeline *validator.Pipeline
	importer *importer.Importer
	engine   *migration.Engine
	logger   *slog.Logger
}

func NewService(
	store *store.Store,
	pipeline *validator.Pipeline,
	importer *importer.Importer,
	engine *migration.Engine,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:    store,
		pipeline: pipeline,
		importer: importer,
		engine:   engine,
		logger:   logger.With("component", "service"),
	}
}

// Validate only runs the validators.
func (s *Service) Validate(ctx context.Context, data []byte) *Result {
	ctx, span := tracer.Start(ctx, "Service.Validate")
	defer span.End()

	report := s.pipeline.Validate(ctx, data)
	s.countReport(report)
	return &Result{Errors: report.Errors, Warnings: report.Warnings}
}

func (s *Service) countReport(report *validator.Report) {
	if report.Valid() {
		archivesValidated.WithLabelValues("valid").Inc()
	} else {
		archivesValidated.WithLabelValues("invalid").Inc()
	}
	importWarnings.Add(float64(len(report.Warnings)))
}

// Import validates an archive, creates the user called username, imports the
// archive into it and, when the archive's author is known here as a remote
// person, migrates that person to the new user.
func (s *Service) Import(ctx context.Context, data []byte, username, email string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Service.Import")
	defer span.End()

	report := s.pipeline.Validate(ctx, data)
	s.countReport(report)
	result := &Result{Errors: report.Errors, Warnings: report.Warnings}
	if !report.Valid() {
		return result, ErrArchiveInvalid
	}

	user, person, err := s.importer.CreateUser(ctx, report.Archive, username, email)
	if err != nil {
		span.RecordError(err)
		importsCompleted.WithLabelValues("failed").Inc()
		return result, err
	}
	return s.importInto(ctx, report, user, person, result)
}

// Resume imports an archive into a user created by an earlier Import that
// failed halfway. The user must still be open and must not have been the
// target of a migration yet.
func (s *Service) Resume(ctx context.Context, data []byte, username string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Service.Resume")
	defer span.End()

	report := s.pipeline.Validate(ctx, data)
	s.countReport(report)
	result := &Result{Errors: report.Errors, Warnings: report.Warnings}
	if !report.Valid() {
		return result, ErrArchiveInvalid
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		span.RecordError(err)
		return result, errors.Wrap(err, "failed to load user "+username)
	}
	if user.Locked() {
		return result, errors.Wrap(ErrNotResumable, "user is locked")
	}
	person, err := s.store.GetPersonByOwner(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		return result, err
	}
	_, err = s.store.GetMigrationByNewPerson(ctx, person.ID)
	if err == nil {
		return result, errors.Wrap(ErrNotResumable, "user already took part in a migration")
	}
	if !store.IsNotFound(err) {
		span.RecordError(err)
		return result, err
	}

	return s.importInto(ctx, report, user, person, result)
}

func (s *Service) importInto(ctx context.Context, report *validator.Report, user types.User, person types.Person, result *Result) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Service.ImportInto")
	defer span.End()

	logger := s.logger.With("archive", report.Archive.Author(), "username", user.Username)
	result.User, result.Person = &user, &person

	imported, err := s.importer.Import(ctx, report.Archive, report.Resolution, user)
	if imported != nil {
		result.Stats = imported.Stats
		result.Warnings = append(result.Warnings, imported.Warnings...)
		importWarnings.Add(float64(len(imported.Warnings)))
		countStats(imported.Stats)
	}
	if err != nil {
		span.RecordError(err)
		importsCompleted.WithLabelValues("failed").Inc()
		return result, err
	}
	importsCompleted.WithLabelValues("ok").Inc()

	record, err := s.migrateAuthor(ctx, report.Archive.Author(), report.Archive.User.PrivateKey, person)
	if err != nil {
		span.RecordError(err)
		migrationsPerformed.WithLabelValues("failed").Inc()
		return result, errors.Wrap(err, "failed to migrate archive author")
	}
	if record != nil {
		migrationsPerformed.WithLabelValues("ok").Inc()
		result.Migration = record
	}

	logger.Info("archive import finished", "warnings", len(result.Warnings), "migrated", record != nil)
	return result, nil
}

func (s *Service) migrateAuthor(ctx context.Context, author, privateKey string, person types.Person) (*types.AccountMigration, error) {
	if normalized, err := entities.NormalizeHandle(author); err == nil {
		author = normalized
	}
	old, err := s.store.GetPersonByHandle(ctx, author)
	if store.IsNotFound(err) {
		s.logger.Debug("archive author is not known here, nothing to migrate", "author", author)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !old.Remote() {
		s.logger.Warn("archive author is hosted on this pod, not migrating", "author", author)
		return nil, nil
	}

	key, err := entities.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, errors.Wrap(migration.ErrNoPrivateKeyProvided, err.Error())
	}

	m, err := s.engine.Create(ctx, old.ID, person.ID, key)
	if err != nil {
		return nil, err
	}
	if _, err := s.engine.Perform(ctx, m); err != nil {
		return &m.Record, err
	}
	return &m.Record, nil
}

func countStats(stats types.ImportStats) {
	importedEntities.WithLabelValues("aspect").Add(float64(stats.Aspects))
	importedEntities.WithLabelValues("contact").Add(float64(stats.Contacts))
	importedEntities.WithLabelValues("post").Add(float64(stats.Posts))
	importedEntities.WithLabelValues("relayable").Add(float64(stats.Relayables))
	importedEntities.WithLabelValues("subscription").Add(float64(stats.Subscriptions))
	importedEntities.WithLabelValues("tag_following").Add(float64(stats.TagFollowings))
}
