package importer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/concrnt/ccworld-migration/archive"
	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/receive"
	"github.com/concrnt/ccworld-migration/store"
	"github.com/concrnt/ccworld-migration/types"
	"github.com/concrnt/ccworld-migration/validator"
)

var tracer = otel.Tracer("importer")

// Importer fills a local account from a validated archive.
type Importer struct {
	store    *store.Store
	receiver *receive.Service
	pod      types.PodConfig
	logger   *slog.Logger

	// KeyBits is the size of keys generated for new users.
	KeyBits int
}

func NewImporter(
	store *store.Store,
	receiver *receive.Service,
	pod types.PodConfig,
	logger *slog.Logger,
) *Importer {
	return &Importer{
		store:    store,
		receiver: receiver,
		pod:      pod,
		logger:   logger.With("component", "importer"),
		KeyBits:  2048,
	}
}

// Result is the outcome of an import. Warnings name everything that was left
// out.
type Result struct {
	Stats    types.ImportStats
	Warnings []string
}

// run is one import of one archive into one user.
type run struct {
	*Importer
	archive    *archive.Archive
	resolution *validator.Resolution
	user       types.User
	person     types.Person
	result     *Result
	logger     *slog.Logger
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.logger.Warn(msg)
	r.result.Warnings = append(r.result.Warnings, msg)
}

// Import runs every phase in order. Each phase is re-entrant: anything
// already known is left as it is, so an interrupted import can be retried.
func (i *Importer) Import(ctx context.Context, a *archive.Archive, resolution *validator.Resolution, user types.User) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Importer.Import")
	defer span.End()

	person, err := i.store.GetPersonByOwner(ctx, user.ID)
	if err != nil {
		return nil, errors.Wrap(err, "target user has no person")
	}
	if resolution == nil {
		resolution = validator.NewResolution()
	}

	r := &run{
		Importer:   i,
		archive:    a,
		resolution: resolution,
		user:       user,
		person:     person,
		result:     &Result{},
		logger:     i.logger.With("archive", a.Author(), "user", person.Handle),
	}

	phases := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"tag followings", r.importTagFollowings},
		{"aspects", r.importAspects},
		{"contacts", r.importContacts},
		{"posts", r.importPosts},
		{"relayables", r.importRelayables},
		{"subscriptions", r.importSubscriptions},
		{"others relayables", r.importOthersRelayables},
	}
	for _, phase := range phases {
		if err := phase.fn(ctx); err != nil {
			span.RecordError(err)
			return r.result, errors.Wrapf(err, "failed to import %s", phase.name)
		}
	}

	r.logger.Info("archive imported",
		"aspects", r.result.Stats.Aspects,
		"contacts", r.result.Stats.Contacts,
		"posts", r.result.Stats.Posts,
		"relayables", r.result.Stats.Relayables,
		"warnings", len(r.result.Warnings),
	)
	return r.result, nil
}

func (r *run) importTagFollowings(ctx context.Context) error {
	for _, name := range r.archive.User.FollowedTags {
		tag, err := r.store.FindOrCreateTag(ctx, name)
		if err != nil {
			return err
		}
		err = r.store.FollowTag(ctx, r.user.ID, tag.ID)
		if store.IsDuplicate(err) {
			r.logger.Debug("tag already followed", "tag", name)
			continue
		}
		if err != nil {
			return err
		}
		r.result.Stats.TagFollowings++
	}
	return nil
}

func (r *run) importAspects(ctx context.Context) error {
	for n, group := range r.archive.User.ContactGroups {
		if group.Name == "" {
			r.warn("aspect #%d has no name, ignoring", n)
			continue
		}
		_, err := r.store.CreateAspect(ctx, types.Aspect{
			UserID:          r.user.ID,
			Name:            group.Name,
			ChatEnabled:     group.ChatEnabled,
			ContactsVisible: boolOr(group.ContactsVisible, true),
			OrderID:         n,
		})
		if store.IsDuplicate(err) {
			r.logger.Debug("aspect already exists", "aspect", group.Name)
			continue
		}
		if err != nil {
			return err
		}
		r.result.Stats.Aspects++
	}

	if name := r.archive.User.AutoFollowBackAspect; name != "" {
		aspect, err := r.store.GetAspectByName(ctx, r.user.ID, name)
		if err != nil {
			r.warn("auto follow back aspect %q is missing", name)
			return nil
		}
		return r.store.SetAutoFollowBackAspect(ctx, r.user.ID, aspect.ID)
	}
	return nil
}

func (r *run) importContacts(ctx context.Context) error {
	for n, entry := range r.archive.User.Contacts {
		if r.resolution.ContactExcluded(n) {
			continue
		}
		handle, ok := r.resolution.ContactHandle(n)
		if !ok {
			handle = entry.AccountID
		}

		person, err := r.receiver.FindOrFetchPerson(ctx, handle)
		if err != nil {
			r.warn("contact %s could not be resolved: %s", entry.AccountID, err)
			continue
		}
		if person.ID == r.person.ID {
			continue
		}

		contact, err := r.store.CreateContact(ctx, types.Contact{
			UserID:    r.user.ID,
			PersonID:  person.ID,
			Sharing:   entry.Sharing,
			Receiving: false,
		})
		if store.IsDuplicate(err) {
			r.logger.Debug("contact already exists", "person", handle)
			contact, err = r.store.GetContact(ctx, r.user.ID, person.ID)
		} else if err == nil {
			r.result.Stats.Contacts++
		}
		if err != nil {
			return err
		}

		for _, name := range entry.ContactGroupsMembership {
			aspect, err := r.store.GetAspectByName(ctx, r.user.ID, name)
			if store.IsNotFound(err) {
				r.warn("contact %s: aspect %q is missing", entry.AccountID, name)
				continue
			}
			if err != nil {
				return err
			}
			if err := r.store.AddToAspect(ctx, aspect.ID, contact.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// ownPost returns the archived post authored by the target user.
func (r *run) ownPost(object entities.Object) (entities.Entity, error) {
	entity, err := entities.Parse(object)
	if err != nil {
		return nil, err
	}
	switch e := entity.(type) {
	case *entities.StatusMessage:
		e.Author = r.person.Handle
		for n := range e.Photos {
			e.Photos[n].EntityData.Author = r.person.Handle
		}
	case *entities.Reshare:
		e.Author = r.person.Handle
	default:
		return nil, errors.Errorf("%s is not a post", object.EntityType)
	}
	return entity, nil
}

func (r *run) importPosts(ctx context.Context) error {
	for _, object := range r.archive.User.Posts {
		entity, err := r.ownPost(object)
		if err != nil {
			r.warn("post could not be parsed: %s", err)
			continue
		}

		known, err := r.store.GUIDExists(ctx, &types.Post{}, entity.GetGUID())
		if err != nil {
			return err
		}

		record, err := r.receiver.Receive(ctx, entity)
		if err != nil {
			r.warn("%s:%s could not be imported: %s", entity.Kind().ClassName(), entity.GetGUID(), err)
			continue
		}
		post := record.(types.Post)
		if !known {
			r.result.Stats.Posts++
		} else if !r.ownsKnownPost(ctx, post) {
			r.logger.Debug("post is known with another author, ignoring its subscribers", "guid", post.GUID)
			continue
		}

		r.importPostSubscribers(ctx, post, object)
	}
	return nil
}

// ownsKnownPost reports whether a post that existed before the import belongs
// to the target user or to the archive author's previous identity.
func (r *run) ownsKnownPost(ctx context.Context, post types.Post) bool {
	if post.AuthorID == r.person.ID {
		return true
	}
	handle, err := entities.NormalizeHandle(r.archive.Author())
	if err != nil {
		return false
	}
	old, err := r.store.GetPersonByHandle(ctx, handle)
	return err == nil && post.AuthorID == old.ID
}

func (r *run) importPostSubscribers(ctx context.Context, post types.Post, object entities.Object) {
	for _, handle := range object.SubscribedUsersIDs {
		person, err := r.receiver.FindOrFetchPerson(ctx, handle)
		if err != nil {
			r.warn("subscriber %s of post %s could not be resolved, ignoring", handle, post.GUID)
			continue
		}
		if _, err := r.store.CreateParticipation(ctx, person.ID, post.ID); err != nil {
			r.warn("subscriber %s of post %s could not be added: %s", handle, post.GUID, err)
		}
	}

	for _, uri := range object.SubscribedPodsURIs {
		u, err := url.Parse(uri)
		if err != nil || u.Host == "" {
			r.warn("subscribed pod %q of post %s is not a valid uri, ignoring", uri, post.GUID)
			continue
		}
		if _, err := r.store.FindOrCreatePod(ctx, u.Host); err != nil {
			r.warn("subscribed pod %s of post %s could not be added: %s", u.Host, post.GUID, err)
		}
	}
}

var relayableModels = map[entities.Kind]any{
	entities.KindComment:           &types.Comment{},
	entities.KindLike:              &types.Like{},
	entities.KindPollParticipation: &types.PollParticipation{},
}

func (r *run) relayableKnown(ctx context.Context, relayable entities.Relayable) (bool, error) {
	model, ok := relayableModels[relayable.Kind()]
	if !ok {
		return false, errors.Errorf("%s is not a relayable", relayable.Kind())
	}
	return r.store.GUIDExists(ctx, model, relayable.GetGUID())
}

// receiveCachedParent stores a parent fetched during validation, if any.
func (r *run) receiveCachedParent(ctx context.Context, relayable entities.Relayable) {
	object, ok := r.resolution.Parent(relayable.ParentType(), relayable.GetParentGUID())
	if !ok {
		return
	}
	if _, err := r.receiver.ReceiveObject(ctx, object); err != nil {
		r.logger.Warn("fetched parent could not be stored", "parent", relayable.GetParentGUID(), "err", err)
	}
}

// importRelayables imports the archive owner's own relayables. They are
// attributed to the target user and signed again with its key. A guid that
// is already known keeps its author.
func (r *run) importRelayables(ctx context.Context) error {
	key, err := entities.ParsePrivateKey(r.user.SerializedPrivateKey)
	if err != nil {
		return errors.Wrap(err, "target user key")
	}

	for _, object := range r.archive.User.Relayables {
		relayable, err := entities.ParseRelayable(object)
		if err != nil {
			r.warn("relayable could not be parsed: %s", err)
			continue
		}
		if r.resolution.Excluded(relayable.Kind(), relayable.GetGUID()) {
			continue
		}

		known, err := r.relayableKnown(ctx, relayable)
		if err != nil {
			return err
		}
		if known {
			r.logger.Debug("relayable already known", "guid", relayable.GetGUID())
			continue
		}

		r.receiveCachedParent(ctx, relayable)

		relayable.SetAuthor(r.person.Handle)
		if err := entities.SignRelayable(key, relayable); err != nil {
			return err
		}
		r.receiveRelayable(ctx, relayable)
	}
	return nil
}

func (r *run) receiveRelayable(ctx context.Context, relayable entities.Relayable) {
	_, err := r.receiver.Receive(ctx, relayable)
	if err == nil {
		r.result.Stats.Relayables++
		return
	}
	if errors.Is(err, entities.ErrSignatureVerificationFailed) {
		r.warn("%s:%s has an invalid signature: %s", relayable.Kind().ClassName(), relayable.GetGUID(), err)
		return
	}
	r.warn("%s:%s could not be imported: %s", relayable.Kind().ClassName(), relayable.GetGUID(), err)
}

func (r *run) importSubscriptions(ctx context.Context) error {
	for _, guid := range r.archive.User.PostSubscriptions {
		post, err := r.receiver.FindOrFetchPost(ctx, r.archive.Author(), guid)
		if err != nil {
			r.warn("post with guid %s not found, can't subscribe", guid)
			continue
		}
		created, err := r.store.CreateParticipation(ctx, r.person.ID, post.ID)
		if err != nil {
			return err
		}
		if created {
			r.result.Stats.Subscriptions++
		}
	}
	return nil
}

// importOthersRelayables imports relayables by other people on the archive
// owner's content. Their authors and signatures are kept.
func (r *run) importOthersRelayables(ctx context.Context) error {
	for _, object := range r.archive.OthersData.Relayables {
		relayable, err := entities.ParseRelayable(object)
		if err != nil {
			r.warn("relayable could not be parsed: %s", err)
			continue
		}
		if r.resolution.Excluded(relayable.Kind(), relayable.GetGUID()) {
			continue
		}

		known, err := r.relayableKnown(ctx, relayable)
		if err != nil {
			return err
		}
		if known {
			r.logger.Debug("relayable already known", "guid", relayable.GetGUID())
			continue
		}

		r.receiveCachedParent(ctx, relayable)
		r.receiveRelayable(ctx, relayable)
	}
	return nil
}
