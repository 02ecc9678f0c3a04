package validator

import (
	"context"
	"fmt"

	"github.com/concrnt/ccworld-migration/archive"
	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/store"
)

// RelayablesValidator makes sure every relayable of a collection has a
// parent to hang off. Relayables without one are excluded from the import.
// Parents fetched from other pods are kept in the resolution so the importer
// does not fetch them again.
type RelayablesValidator struct {
	name       string
	store      *store.Store
	fetcher    Fetcher
	collection func(a *archive.Archive) []entities.Object
}

// NewRelayablesValidator checks the archive owner's own relayables.
func NewRelayablesValidator(store *store.Store, fetcher Fetcher) *RelayablesValidator {
	return &RelayablesValidator{
		name:    "RelayablesValidator",
		store:   store,
		fetcher: fetcher,
		collection: func(a *archive.Archive) []entities.Object {
			return a.User.Relayables
		},
	}
}

// NewOthersRelayablesValidator checks relayables of other people on the
// archive owner's content.
func NewOthersRelayablesValidator(store *store.Store, fetcher Fetcher) *RelayablesValidator {
	return &RelayablesValidator{
		name:    "OthersRelayablesValidator",
		store:   store,
		fetcher: fetcher,
		collection: func(a *archive.Archive) []entities.Object {
			return a.OthersData.Relayables
		},
	}
}

func (v *RelayablesValidator) Name() string { return v.name }

func (v *RelayablesValidator) Validate(ctx context.Context, in *Input) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Validator."+v.name+".Validate")
	defer span.End()

	var messages []string
	for _, object := range v.collection(in.Archive) {
		relayable, err := entities.ParseRelayable(object)
		if err != nil {
			raw, _ := object.Raw()
			guid := raw.MustGetString("guid")
			messages = append(messages, fmt.Sprintf("%s:%s is malformed, ignoring.", object.Kind().ClassName(), guid))
			in.Resolution.Exclude(object.Kind(), guid)
			continue
		}

		if v.known(ctx, relayable) {
			continue
		}

		present, err := v.parentPresent(ctx, in, relayable)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if !present {
			messages = append(messages, fmt.Sprintf(
				"Parent entity for %s:%s is missing. Impossible to import, ignoring.",
				relayable.Kind().ClassName(), relayable.GetGUID(),
			))
			in.Resolution.Exclude(relayable.Kind(), relayable.GetGUID())
		}
	}
	return messages, nil
}

func (v *RelayablesValidator) known(ctx context.Context, r entities.Relayable) bool {
	var err error
	switch r.Kind() {
	case entities.KindComment:
		_, err = v.store.GetCommentByGUID(ctx, r.GetGUID())
	case entities.KindLike:
		_, err = v.store.GetLikeByGUID(ctx, r.GetGUID())
	case entities.KindPollParticipation:
		_, err = v.store.GetPollParticipationByGUID(ctx, r.GetGUID())
	}
	return err == nil
}

// parentPresent looks for the parent in the archive, then locally, then on
// the archive author's pod.
func (v *RelayablesValidator) parentPresent(ctx context.Context, in *Input, r entities.Relayable) (bool, error) {
	parentType, guid := r.ParentType(), r.GetParentGUID()
	if _, ok := in.Resolution.Parent(parentType, guid); ok {
		return true, nil
	}

	var err error
	switch parentType {
	case entities.ParentPoll:
		if _, ok := in.Archive.PostByPollGUID(guid); ok {
			return true, nil
		}
		_, err = v.store.GetPollByGUID(ctx, guid)
	case entities.ParentComment:
		if _, ok := in.Archive.RelayableByGUID(entities.KindComment, guid); ok {
			return true, nil
		}
		_, err = v.store.GetCommentByGUID(ctx, guid)
		if store.IsNotFound(err) {
			return false, nil
		}
	default:
		if _, ok := in.Archive.PostByGUID(guid); ok {
			return true, nil
		}
		_, err = v.store.GetPostByGUID(ctx, guid)
	}
	if err == nil {
		return true, nil
	}
	if !store.IsNotFound(err) {
		return false, err
	}

	return v.fetchParent(ctx, in, parentType, guid), nil
}

func (v *RelayablesValidator) fetchParent(ctx context.Context, in *Input, parentType, guid string) bool {
	if v.fetcher == nil {
		return false
	}
	author := in.Archive.Author()
	object, err := v.fetcher.FetchPublic(ctx, author, parentType, guid)
	if err != nil {
		return false
	}

	entity, err := entities.Parse(object)
	if err != nil {
		return false
	}
	switch parentType {
	case entities.ParentPoll:
		post, ok := entity.(*entities.StatusMessage)
		if !ok || post.PollGUID() != guid {
			return false
		}
	default:
		if !entity.Kind().IsPost() || entity.GetGUID() != guid {
			return false
		}
	}

	in.Resolution.AddParent(parentType, guid, object)
	return true
}
