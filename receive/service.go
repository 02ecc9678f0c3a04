package receive

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/store"
	"github.com/concrnt/ccworld-migration/types"
)

var tracer = otel.Tracer("receive")

var (
	ErrParentMissing      = errors.New("parent entity is missing")
	ErrRecipientNotLocal  = errors.New("recipient is not hosted on this pod")
	ErrUnsupportedEntity  = errors.New("entity cannot be received")
	ErrMigrationsDisabled = errors.New("account migrations are not accepted")
)

// Discoverer resolves handles to person documents.
type Discoverer interface {
	Discover(ctx context.Context, handle string) (types.PersonDocument, error)
}

// Fetcher fetches public entities from their author's pod.
type Fetcher interface {
	FetchPublic(ctx context.Context, author, kind, guid string) (entities.Object, error)
}

// MigrationHandler takes over received account migrations.
type MigrationHandler interface {
	Receive(ctx context.Context, entity *entities.AccountMigration) (types.AccountMigration, error)
}

// Service persists federation entities, whether they arrive from another pod
// or out of an archive.
type Service struct {
	store      *store.Store
	discoverer Discoverer
	fetcher    Fetcher
	migrations MigrationHandler
	logger     *slog.Logger
}

func NewService(
	store *store.Store,
	discoverer Discoverer,
	fetcher Fetcher,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:      store,
		discoverer: discoverer,
		fetcher:    fetcher,
		logger:     logger.With("component", "receive"),
	}
}

// SetMigrationHandler enables receiving account migrations.
func (s *Service) SetMigrationHandler(h MigrationHandler) {
	s.migrations = h
}

// Receive persists an entity and returns the local record: a types.Post,
// types.Comment, types.Like, types.PollParticipation, types.Profile,
// types.Contact or types.AccountMigration. An entity whose guid is already
// known returns the existing record unchanged.
func (s *Service) Receive(ctx context.Context, entity entities.Entity) (any, error) {
	ctx, span := tracer.Start(ctx, "Receive.Service.Receive")
	defer span.End()

	var (
		record any
		err    error
	)
	switch e := entity.(type) {
	case *entities.StatusMessage:
		record, err = s.receiveStatusMessage(ctx, e)
	case *entities.Reshare:
		record, err = s.receiveReshare(ctx, e)
	case *entities.Comment:
		record, err = s.receiveComment(ctx, e)
	case *entities.Like:
		record, err = s.receiveLike(ctx, e)
	case *entities.PollParticipation:
		record, err = s.receivePollParticipation(ctx, e)
	case *entities.Profile:
		record, err = s.receiveProfile(ctx, e)
	case *entities.Contact:
		record, err = s.receiveContact(ctx, e)
	case *entities.AccountMigration:
		if s.migrations == nil {
			return nil, ErrMigrationsDisabled
		}
		record, err = s.migrations.Receive(ctx, e)
	default:
		err = errors.Wrap(ErrUnsupportedEntity, string(entity.Kind()))
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return record, nil
}

// ReceiveObject parses and receives an archived or fetched object.
func (s *Service) ReceiveObject(ctx context.Context, object entities.Object) (any, error) {
	entity, err := entities.Parse(object)
	if err != nil {
		return nil, err
	}
	return s.Receive(ctx, entity)
}

// FindOrFetchPerson returns the person of handle, discovering and storing it
// when it is not known yet.
func (s *Service) FindOrFetchPerson(ctx context.Context, handle string) (types.Person, error) {
	ctx, span := tracer.Start(ctx, "Receive.Service.FindOrFetchPerson")
	defer span.End()

	handle, err := entities.NormalizeHandle(handle)
	if err != nil {
		return types.Person{}, err
	}

	person, err := s.store.GetPersonByHandle(ctx, handle)
	if err == nil {
		return person, nil
	}
	if !store.IsNotFound(err) {
		span.RecordError(err)
		return person, err
	}

	if s.discoverer == nil {
		return person, errors.Wrap(err, handle)
	}
	doc, err := s.discoverer.Discover(ctx, handle)
	if err != nil {
		span.RecordError(err)
		return types.Person{}, err
	}

	_, host, _ := entities.SplitHandle(handle)
	pod, err := s.store.FindOrCreatePod(ctx, host)
	if err != nil {
		return types.Person{}, err
	}

	person, err = s.store.CreatePerson(ctx, types.Person{
		GUID:                doc.GUID,
		Handle:              handle,
		SerializedPublicKey: doc.PublicKey,
		PodID:               &pod.ID,
	}, types.Profile{
		FirstName:  doc.FirstName,
		LastName:   doc.LastName,
		ImageURL:   doc.ImageURL,
		Searchable: doc.Searchable,
	})
	if store.IsDuplicate(err) {
		return s.store.GetPersonByHandle(ctx, handle)
	}
	return person, err
}

func (s *Service) receiveStatusMessage(ctx context.Context, e *entities.StatusMessage) (types.Post, error) {
	if post, err := s.store.GetPostByGUID(ctx, e.GUID); err == nil {
		s.logger.Debug("post already known", "guid", e.GUID)
		return post, nil
	}

	author, err := s.FindOrFetchPerson(ctx, e.Author)
	if err != nil {
		return types.Post{}, err
	}

	bundle := store.PostBundle{
		Post: types.Post{
			GUID:      e.GUID,
			Type:      types.PostTypeStatusMessage,
			AuthorID:  author.ID,
			Text:      e.Text,
			Public:    e.Public,
			CreatedAt: e.CreatedAt,
		},
	}
	if e.Poll != nil {
		poll := e.Poll.EntityData
		bundle.Poll = &types.Poll{GUID: poll.GUID, Question: poll.Question}
		for _, answer := range poll.PollAnswers {
			bundle.Answers = append(bundle.Answers, types.PollAnswer{
				GUID:   answer.EntityData.GUID,
				Answer: answer.EntityData.Answer,
			})
		}
	}
	if e.Location != nil {
		bundle.Location = &types.Location{
			Address: e.Location.EntityData.Address,
			Lat:     e.Location.EntityData.Lat,
			Lng:     e.Location.EntityData.Lng,
		}
	}
	for _, photo := range e.Photos {
		bundle.Photos = append(bundle.Photos, types.Photo{
			GUID:            photo.EntityData.GUID,
			Text:            photo.EntityData.Text,
			RemotePhotoPath: photo.EntityData.RemotePhotoPath,
			RemotePhotoName: photo.EntityData.RemotePhotoName,
			Width:           photo.EntityData.Width,
			Height:          photo.EntityData.Height,
			Public:          photo.EntityData.Public,
		})
	}

	post, err := s.store.CreatePost(ctx, bundle)
	if store.IsDuplicate(err) {
		return s.store.GetPostByGUID(ctx, e.GUID)
	}
	return post, err
}

func (s *Service) receiveReshare(ctx context.Context, e *entities.Reshare) (types.Post, error) {
	if post, err := s.store.GetPostByGUID(ctx, e.GUID); err == nil {
		s.logger.Debug("post already known", "guid", e.GUID)
		return post, nil
	}

	if _, err := s.FindOrFetchPost(ctx, e.RootAuthor, e.RootGUID); err != nil {
		return types.Post{}, errors.Wrapf(err, "root of reshare %s", e.GUID)
	}

	author, err := s.FindOrFetchPerson(ctx, e.Author)
	if err != nil {
		return types.Post{}, err
	}

	post, err := s.store.CreatePost(ctx, store.PostBundle{
		Post: types.Post{
			GUID:      e.GUID,
			Type:      types.PostTypeReshare,
			AuthorID:  author.ID,
			Public:    true,
			RootGUID:  e.RootGUID,
			CreatedAt: e.CreatedAt,
		},
	})
	if store.IsDuplicate(err) {
		return s.store.GetPostByGUID(ctx, e.GUID)
	}
	return post, err
}

// FindOrFetchPost returns a local post, fetching it from the pod of author
// when it is unknown.
func (s *Service) FindOrFetchPost(ctx context.Context, author, guid string) (types.Post, error) {
	ctx, span := tracer.Start(ctx, "Receive.Service.FindOrFetchPost")
	defer span.End()

	post, err := s.store.GetPostByGUID(ctx, guid)
	if err == nil || !store.IsNotFound(err) {
		return post, err
	}
	if s.fetcher == nil || author == "" {
		return post, err
	}

	object, err := s.fetcher.FetchPublic(ctx, author, entities.ParentPost, guid)
	if err != nil {
		span.RecordError(err)
		return types.Post{}, err
	}
	if !object.Kind().IsPost() {
		return types.Post{}, errors.Errorf("fetched %s is a %s", guid, object.EntityType)
	}
	record, err := s.ReceiveObject(ctx, object)
	if err != nil {
		return types.Post{}, err
	}
	return record.(types.Post), nil
}

func (s *Service) authorOf(ctx context.Context, r entities.Relayable) (types.Person, error) {
	author, err := s.FindOrFetchPerson(ctx, r.GetAuthor())
	if err != nil {
		return author, err
	}
	pub, err := entities.ParsePublicKey(author.SerializedPublicKey)
	if err != nil {
		return author, errors.Wrap(entities.ErrSignatureVerificationFailed, err.Error())
	}
	if err := entities.VerifyRelayable(pub, r); err != nil {
		return author, err
	}
	return author, nil
}

func (s *Service) receiveComment(ctx context.Context, e *entities.Comment) (types.Comment, error) {
	if comment, err := s.store.GetCommentByGUID(ctx, e.GUID); err == nil {
		s.logger.Debug("comment already known", "guid", e.GUID)
		return comment, nil
	}

	post, err := s.store.GetPostByGUID(ctx, e.ParentGUID)
	if err != nil {
		return types.Comment{}, errors.Wrapf(ErrParentMissing, "Post:%s", e.ParentGUID)
	}

	author, err := s.authorOf(ctx, e)
	if err != nil {
		return types.Comment{}, err
	}

	comment, err := s.store.CreateComment(ctx, types.Comment{
		GUID:            e.GUID,
		AuthorID:        author.ID,
		PostID:          post.ID,
		Text:            e.Text,
		AuthorSignature: e.AuthorSignature,
		CreatedAt:       e.CreatedAt,
	})
	if store.IsDuplicate(err) {
		return s.store.GetCommentByGUID(ctx, e.GUID)
	}
	return comment, err
}

func (s *Service) receiveLike(ctx context.Context, e *entities.Like) (types.Like, error) {
	if like, err := s.store.GetLikeByGUID(ctx, e.GUID); err == nil {
		s.logger.Debug("like already known", "guid", e.GUID)
		return like, nil
	}

	var targetID uint
	switch e.ParentType() {
	case entities.ParentPost:
		post, err := s.store.GetPostByGUID(ctx, e.ParentGUID)
		if err != nil {
			return types.Like{}, errors.Wrapf(ErrParentMissing, "Post:%s", e.ParentGUID)
		}
		targetID = post.ID
	case entities.ParentComment:
		comment, err := s.store.GetCommentByGUID(ctx, e.ParentGUID)
		if err != nil {
			return types.Like{}, errors.Wrapf(ErrParentMissing, "Comment:%s", e.ParentGUID)
		}
		targetID = comment.ID
	default:
		return types.Like{}, errors.Wrapf(ErrUnsupportedEntity, "like on %s", e.ParentType())
	}

	author, err := s.authorOf(ctx, e)
	if err != nil {
		return types.Like{}, err
	}

	like, err := s.store.CreateLike(ctx, types.Like{
		GUID:            e.GUID,
		AuthorID:        author.ID,
		TargetType:      e.ParentType(),
		TargetID:        targetID,
		Positive:        e.Positive,
		AuthorSignature: e.AuthorSignature,
	})
	if store.IsDuplicate(err) {
		return s.store.GetLikeByGUID(ctx, e.GUID)
	}
	return like, err
}

func (s *Service) receivePollParticipation(ctx context.Context, e *entities.PollParticipation) (types.PollParticipation, error) {
	if participation, err := s.store.GetPollParticipationByGUID(ctx, e.GUID); err == nil {
		s.logger.Debug("poll participation already known", "guid", e.GUID)
		return participation, nil
	}

	poll, err := s.store.GetPollByGUID(ctx, e.ParentGUID)
	if err != nil {
		return types.PollParticipation{}, errors.Wrapf(ErrParentMissing, "Poll:%s", e.ParentGUID)
	}
	answer, err := s.store.GetPollAnswerByGUID(ctx, e.PollAnswerGUID)
	if err != nil || answer.PollID != poll.ID {
		return types.PollParticipation{}, errors.Wrapf(ErrParentMissing, "PollAnswer:%s", e.PollAnswerGUID)
	}

	author, err := s.authorOf(ctx, e)
	if err != nil {
		return types.PollParticipation{}, err
	}

	participation, err := s.store.CreatePollParticipation(ctx, types.PollParticipation{
		GUID:            e.GUID,
		AuthorID:        author.ID,
		PollID:          poll.ID,
		PollAnswerID:    answer.ID,
		AuthorSignature: e.AuthorSignature,
	})
	if store.IsDuplicate(err) {
		return s.store.GetPollParticipationByGUID(ctx, e.GUID)
	}
	return participation, err
}

func (s *Service) receiveProfile(ctx context.Context, e *entities.Profile) (types.Profile, error) {
	person, err := s.FindOrFetchPerson(ctx, e.Author)
	if err != nil {
		return types.Profile{}, err
	}

	profile, err := s.store.GetProfile(ctx, person.ID)
	if err != nil && !store.IsNotFound(err) {
		return profile, err
	}
	profile.PersonID = person.ID
	profile.FirstName = e.FirstName
	profile.LastName = e.LastName
	profile.ImageURL = e.ImageURL
	profile.Bio = e.Bio
	profile.Birthday = e.Birthday
	profile.Gender = e.Gender
	profile.Location = e.Location
	profile.TagString = e.TagString
	profile.Searchable = e.Searchable
	profile.Public = e.Public
	profile.NSFW = e.NSFW

	return s.store.UpsertProfile(ctx, profile)
}

// receiveContact records whether a remote person shares with a local user.
func (s *Service) receiveContact(ctx context.Context, e *entities.Contact) (types.Contact, error) {
	recipient, err := s.store.GetPersonByHandle(ctx, e.Recipient)
	if err != nil || recipient.Remote() {
		return types.Contact{}, errors.Wrap(ErrRecipientNotLocal, e.Recipient)
	}
	author, err := s.FindOrFetchPerson(ctx, e.Author)
	if err != nil {
		return types.Contact{}, err
	}

	contact, err := s.store.GetContact(ctx, *recipient.OwnerID, author.ID)
	if store.IsNotFound(err) {
		contact, err = s.store.CreateContact(ctx, types.Contact{
			UserID:   *recipient.OwnerID,
			PersonID: author.ID,
			Sharing:  e.Sharing,
		})
		if store.IsDuplicate(err) {
			contact, err = s.store.GetContact(ctx, *recipient.OwnerID, author.ID)
		} else {
			return contact, err
		}
	}
	if err != nil {
		return contact, err
	}

	if contact.Sharing != e.Sharing {
		contact.Sharing = e.Sharing
		return s.store.UpdateContact(ctx, contact)
	}
	return contact, nil
}
