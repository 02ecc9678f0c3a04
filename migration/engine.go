package migration

import (
	"context"
	"crypto/rsa"
	"log/slog"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/store"
	"github.com/concrnt/ccworld-migration/types"
)

var tracer = otel.Tracer("migration")

var (
	ErrSamePerson           = errors.New("new person can't be the same as old person")
	ErrMigrationExists      = errors.New("person already takes part in a migration")
	ErrAlreadyPerformed     = errors.New("migration already performed")
	ErrNoPrivateKeyProvided = errors.New("can't build sender without old private key defined")
	ErrSignatureNotAccepted = errors.New("signatures are only accepted for users that left this pod")
	ErrSignatureMissing     = errors.New("migration carries no signature")
)

// Dispatcher sends entities to other pods.
type Dispatcher interface {
	Dispatch(ctx context.Context, sender string, entity entities.Entity, recipients []types.Person) error
	DeferDispatch(ctx context.Context, user types.User, contact types.Contact) error
}

// People resolves handles to stored people.
type People interface {
	FindOrFetchPerson(ctx context.Context, handle string) (types.Person, error)
}

// Engine creates and performs account migrations.
type Engine struct {
	store      *store.Store
	people     People
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewEngine(
	store *store.Store,
	people People,
	dispatcher Dispatcher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		store:      store,
		people:     people,
		dispatcher: dispatcher,
		logger:     logger.With("component", "migration"),
	}
}

// Result counts the rows a migration pointed at the new identity.
type Result struct {
	PersonReferences int64 `json:"personReferences"`
	UserReferences   int64 `json:"userReferences"`
}

// Create records a migration from oldPersonID to newPersonID and locks the
// old user, if it lives here. When the user arrived on this pod, oldKey signs
// the migration on behalf of the old identity.
func (e *Engine) Create(ctx context.Context, oldPersonID, newPersonID uint, oldKey *rsa.PrivateKey) (*Migration, error) {
	ctx, span := tracer.Start(ctx, "Migration.Engine.Create")
	defer span.End()

	if oldPersonID == newPersonID {
		return nil, ErrSamePerson
	}

	m, err := e.load(ctx, types.AccountMigration{OldPersonID: oldPersonID, NewPersonID: newPersonID}, oldKey)
	if err != nil {
		return nil, err
	}

	var signature *types.Signature
	if m.UserArrived() {
		body, err := m.signWithOldKey()
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		signature = &types.Signature{Body: body}
	}

	var record types.AccountMigration
	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		var err error
		record, err = tx.CreateAccountMigration(ctx, m.Record, signature)
		if err != nil {
			return err
		}
		if m.OldUser != nil {
			if err := tx.LockUser(ctx, m.OldUser.ID); err != nil {
				return errors.Wrap(err, "failed to lock old user")
			}
		}
		return nil
	})
	if store.IsDuplicate(err) {
		return nil, errors.Wrapf(ErrMigrationExists, "%s -> %s", m.OldPerson.Handle, m.NewPerson.Handle)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	m.Record = record

	e.logger.Info("account migration created", "id", record.ID, "old", m.OldPerson.Handle, "new", m.NewPerson.Handle)
	return m, nil
}

// Load returns a stored migration.
func (e *Engine) Load(ctx context.Context, id uint, oldKey *rsa.PrivateKey) (*Migration, error) {
	ctx, span := tracer.Start(ctx, "Migration.Engine.Load")
	defer span.End()

	record, err := e.store.GetMigrationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.load(ctx, record, oldKey)
}

func (e *Engine) load(ctx context.Context, record types.AccountMigration, oldKey *rsa.PrivateKey) (*Migration, error) {
	m := &Migration{Record: record, OldPrivateKey: oldKey}

	var err error
	m.OldPerson, err = e.store.GetPersonByID(ctx, record.OldPersonID)
	if err != nil {
		return nil, errors.Wrap(err, "old person")
	}
	m.NewPerson, err = e.store.GetPersonByID(ctx, record.NewPersonID)
	if err != nil {
		return nil, errors.Wrap(err, "new person")
	}

	if m.OldUser, err = e.owner(ctx, m.OldPerson); err != nil {
		return nil, err
	}
	if m.NewUser, err = e.owner(ctx, m.NewPerson); err != nil {
		return nil, err
	}
	return m, nil
}

func (e *Engine) owner(ctx context.Context, person types.Person) (*types.User, error) {
	if person.OwnerID == nil {
		return nil, nil
	}
	user, err := e.store.GetUserByID(ctx, *person.OwnerID)
	if err != nil {
		return nil, errors.Wrapf(err, "owner of %s", person.Handle)
	}
	return &user, nil
}

// AttachSignature stores the new identity's signature of a migration whose
// user left this pod.
func (e *Engine) AttachSignature(ctx context.Context, m *Migration, body string) error {
	ctx, span := tracer.Start(ctx, "Migration.Engine.AttachSignature")
	defer span.End()

	if !m.UserLeft() {
		return ErrSignatureNotAccepted
	}

	pub, err := entities.ParsePublicKey(m.NewPerson.SerializedPublicKey)
	if err != nil {
		return errors.Wrap(entities.ErrSignatureVerificationFailed, err.Error())
	}
	if err := entities.Verify(pub, m.signatureData(), body); err != nil {
		span.RecordError(err)
		return err
	}

	signature, err := e.store.AttachSignature(ctx, m.Record.ID, body)
	if err != nil {
		span.RecordError(err)
		return err
	}
	m.Record.SignatureID = &signature.ID
	return nil
}

// Perform moves everything from the old identity to the new one in one
// transaction, then tells other pods about it.
func (e *Engine) Perform(ctx context.Context, m *Migration) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Migration.Engine.Perform")
	defer span.End()

	old, err := e.store.GetPersonByID(ctx, m.OldPerson.ID)
	if err != nil {
		return nil, err
	}
	m.OldPerson = old
	if m.Performed() {
		return nil, ErrAlreadyPerformed
	}
	if m.LocallyInitiated() {
		if _, err := m.senderKey(); err != nil {
			return nil, err
		}
	}

	logger := e.logger.With("id", m.Record.ID, "old", m.OldPerson.Handle, "new", m.NewPerson.Handle)
	result := &Result{}

	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		err := tx.CloseAccount(ctx, m.OldPerson.ID)
		if errors.Is(err, store.ErrAlreadyClosed) {
			return ErrAlreadyPerformed
		}
		if err != nil {
			return err
		}
		if err := tx.ClearProfile(ctx, m.OldPerson.ID); err != nil {
			return err
		}
		if m.UserLeft() {
			if err := tx.CloseUser(ctx, m.OldUser.ID); err != nil {
				return err
			}
		}
		if m.UserChangedIDLocally() {
			if err := tx.TombstoneUser(ctx, m.OldUser.ID); err != nil {
				return err
			}
		}

		logger.Debug("updating person references")
		result.PersonReferences, err = tx.RewriteReferences(ctx, PersonReferences, m.OldPerson.ID, m.NewPerson.ID)
		if err != nil {
			return err
		}
		if m.UserChangedIDLocally() {
			logger.Debug("updating user references")
			result.UserReferences, err = tx.RewriteReferences(ctx, UserReferences, m.OldUser.ID, m.NewUser.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	m.OldPerson.ClosedAccount = true

	logger.Info("account migration performed",
		"personReferences", result.PersonReferences,
		"userReferences", result.UserReferences,
	)

	if m.LocallyInitiated() {
		err = e.dispatch(ctx, m)
	} else {
		err = e.dispatchContacts(ctx, m)
	}
	if err != nil {
		span.RecordError(err)
		logger.Error("failed to dispatch account migration", "err", err)
	}
	return result, nil
}

// Subscribers are the remote people that learn about a locally initiated
// migration: every remote contact of the new user, and the old identity when
// it lives elsewhere.
func (e *Engine) Subscribers(ctx context.Context, m *Migration) ([]types.Person, error) {
	ctx, span := tracer.Start(ctx, "Migration.Engine.Subscribers")
	defer span.End()

	if m.NewUser == nil {
		return nil, errors.New("new person is not hosted on this pod")
	}
	people, err := e.store.GetRemoteContactPeople(ctx, m.NewUser.ID)
	if err != nil {
		return nil, err
	}
	if m.OldPerson.Remote() {
		for _, p := range people {
			if p.ID == m.OldPerson.ID {
				return people, nil
			}
		}
		people = append(people, m.OldPerson)
	}
	return people, nil
}

// Entity builds the federation entity announcing a locally initiated
// migration. It is authored by the new identity and signed by the old one.
func (e *Engine) Entity(ctx context.Context, m *Migration) (*entities.AccountMigration, error) {
	ctx, span := tracer.Start(ctx, "Migration.Engine.Entity")
	defer span.End()

	var body string
	if m.Record.SignatureID != nil {
		signature, err := e.store.GetSignature(ctx, *m.Record.SignatureID)
		if err != nil {
			return nil, err
		}
		body = signature.Body
	} else {
		var err error
		if body, err = m.signWithOldKey(); err != nil {
			return nil, err
		}
	}

	profile, err := e.store.GetProfile(ctx, m.NewPerson.ID)
	if err != nil && !store.IsNotFound(err) {
		return nil, err
	}

	return &entities.AccountMigration{
		Author:      m.NewPerson.Handle,
		OldIdentity: m.OldPerson.Handle,
		Signature:   body,
		Profile: entities.Nested[entities.Profile]{
			EntityType: string(entities.KindProfile),
			EntityData: entities.Profile{
				Author:     m.NewPerson.Handle,
				FirstName:  profile.FirstName,
				LastName:   profile.LastName,
				ImageURL:   profile.ImageURL,
				Bio:        profile.Bio,
				Birthday:   profile.Birthday,
				Gender:     profile.Gender,
				Location:   profile.Location,
				TagString:  profile.TagString,
				Searchable: profile.Searchable,
				Public:     profile.Public,
				NSFW:       profile.NSFW,
			},
		},
	}, nil
}

func (e *Engine) dispatch(ctx context.Context, m *Migration) error {
	entity, err := e.Entity(ctx, m)
	if err != nil {
		return err
	}
	subscribers, err := e.Subscribers(ctx, m)
	if err != nil {
		return err
	}
	return e.dispatcher.Dispatch(ctx, entity.Author, entity, subscribers)
}

// dispatchContacts resends the sharing contacts of local users so the pod
// now hosting the new identity learns them from us.
func (e *Engine) dispatchContacts(ctx context.Context, m *Migration) error {
	contacts, err := e.store.GetSharingContactsOfPerson(ctx, m.NewPerson.ID)
	if err != nil {
		return err
	}
	for _, contact := range contacts {
		user, err := e.store.GetUserByID(ctx, contact.UserID)
		if err != nil {
			return err
		}
		if err := e.dispatcher.DeferDispatch(ctx, user, contact); err != nil {
			return err
		}
	}
	return nil
}

// Receive handles a migration announced by another pod.
func (e *Engine) Receive(ctx context.Context, entity *entities.AccountMigration) (types.AccountMigration, error) {
	ctx, span := tracer.Start(ctx, "Migration.Engine.Receive")
	defer span.End()

	oldPerson, err := e.people.FindOrFetchPerson(ctx, entity.OldHandle())
	if err != nil {
		return types.AccountMigration{}, errors.Wrap(err, "old identity")
	}
	newPerson, err := e.people.FindOrFetchPerson(ctx, entity.NewIdentity())
	if err != nil {
		return types.AccountMigration{}, errors.Wrap(err, "new identity")
	}

	existing, err := e.store.GetMigrationByOldPerson(ctx, oldPerson.ID)
	if err == nil {
		if existing.NewPersonID == newPerson.ID {
			return existing, nil
		}
		return existing, errors.Wrap(ErrMigrationExists, oldPerson.Handle)
	}
	if !store.IsNotFound(err) {
		return types.AccountMigration{}, err
	}

	signer := newPerson
	if entity.OldIdentity != "" {
		signer = oldPerson
	}
	if err := verifyEntity(entity, signer, oldPerson, newPerson); err != nil {
		span.RecordError(err)
		return types.AccountMigration{}, err
	}

	m, err := e.Create(ctx, oldPerson.ID, newPerson.ID, nil)
	if err != nil {
		return types.AccountMigration{}, err
	}
	if m.UserLeft() && signer.ID == newPerson.ID {
		if err := e.AttachSignature(ctx, m, entity.Signature); err != nil {
			return m.Record, err
		}
	}

	if _, err := e.Perform(ctx, m); err != nil {
		return m.Record, err
	}
	return m.Record, nil
}

func verifyEntity(entity *entities.AccountMigration, signer, oldPerson, newPerson types.Person) error {
	if entity.Signature == "" {
		return ErrSignatureMissing
	}
	pub, err := entities.ParsePublicKey(signer.SerializedPublicKey)
	if err != nil {
		return errors.Wrap(entities.ErrSignatureVerificationFailed, err.Error())
	}
	data := entities.MigrationSignatureData(oldPerson.Handle, newPerson.Handle)
	return entities.Verify(pub, data, entity.Signature)
}
