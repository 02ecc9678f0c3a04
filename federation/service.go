package federation

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/totegamma/httpsig"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/receive"
	"github.com/concrnt/ccworld-migration/store"
	"github.com/concrnt/ccworld-migration/types"
)

var (
	ErrInvalidResource = errors.New("invalid resource")
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("request is not signed by a known pod")
	ErrForbidden       = errors.New("pod may not send this entity")
)

// PodKeys resolves the key a pod signs its requests with.
type PodKeys interface {
	PodKey(ctx context.Context, host string) (*rsa.PublicKey, error)
}

// Service answers the federation endpoints of this pod.
type Service struct {
	store    *store.Store
	receiver *receive.Service
	keys     PodKeys
	pod      types.PodConfig
	podKey   *rsa.PublicKey
	baseURL  string
	logger   *slog.Logger
}

func NewService(
	store *store.Store,
	receiver *receive.Service,
	keys PodKeys,
	pod types.PodConfig,
	podKey *rsa.PublicKey,
	baseURL string,
	logger *slog.Logger,
) *Service {
	return &Service{
		store,
		receiver,
		keys,
		pod,
		podKey,
		baseURL,
		logger.With("component", "federation"),
	}
}

func (s *Service) WebFinger(ctx context.Context, resource string) (types.WebFinger, error) {
	ctx, span := tracer.Start(ctx, "Federation.Service.WebFinger")
	defer span.End()

	handle, ok := strings.CutPrefix(resource, "acct:")
	if !ok {
		return types.WebFinger{}, ErrInvalidResource
	}
	handle, err := entities.NormalizeHandle(handle)
	if err != nil {
		return types.WebFinger{}, errors.Wrap(ErrInvalidResource, err.Error())
	}

	person, err := s.localPerson(s.store.GetPersonByHandle(ctx, handle))
	if err != nil {
		return types.WebFinger{}, err
	}

	return types.WebFinger{
		Subject: "acct:" + person.Handle,
		Links: []types.WebFingerLink{
			{
				Rel:  "self",
				Type: "application/json",
				Href: s.baseURL + "/people/" + person.GUID,
			},
		},
	}, nil
}

// Person returns the person document of a local, open account.
func (s *Service) Person(ctx context.Context, guid string) (types.PersonDocument, error) {
	ctx, span := tracer.Start(ctx, "Federation.Service.Person")
	defer span.End()

	person, err := s.localPerson(s.store.GetPersonByGUID(ctx, guid))
	if err != nil {
		return types.PersonDocument{}, err
	}
	profile, err := s.store.GetProfile(ctx, person.ID)
	if err != nil && !store.IsNotFound(err) {
		span.RecordError(err)
		return types.PersonDocument{}, err
	}

	return types.PersonDocument{
		GUID:       person.GUID,
		Handle:     person.Handle,
		PublicKey:  person.SerializedPublicKey,
		FirstName:  profile.FirstName,
		LastName:   profile.LastName,
		ImageURL:   profile.ImageURL,
		Searchable: profile.Searchable,
	}, nil
}

func (s *Service) localPerson(person types.Person, err error) (types.Person, error) {
	if store.IsNotFound(err) {
		return person, ErrNotFound
	}
	if err != nil {
		return person, err
	}
	if person.Remote() || person.ClosedAccount {
		return person, ErrNotFound
	}
	return person, nil
}

func (s *Service) Pod(ctx context.Context) (types.PodDocument, error) {
	_, span := tracer.Start(ctx, "Federation.Service.Pod")
	defer span.End()

	key, err := entities.ExportPublicKey(s.podKey)
	if err != nil {
		return types.PodDocument{}, err
	}
	return types.PodDocument{Host: s.pod.Host, PublicKey: key}, nil
}

// Fetch returns a public post written on this pod.
func (s *Service) Fetch(ctx context.Context, kind, guid string) (entities.Object, error) {
	ctx, span := tracer.Start(ctx, "Federation.Service.Fetch")
	defer span.End()

	if kind != "post" {
		return entities.Object{}, ErrNotFound
	}
	post, err := s.store.GetPostByGUID(ctx, guid)
	if store.IsNotFound(err) {
		return entities.Object{}, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return entities.Object{}, err
	}
	author, err := s.localPerson(s.store.GetPersonByID(ctx, post.AuthorID))
	if err != nil || !post.Public {
		return entities.Object{}, ErrNotFound
	}

	var entity entities.Entity
	switch post.Type {
	case types.PostTypeReshare:
		root, err := s.store.GetPostByGUID(ctx, post.RootGUID)
		if err != nil {
			return entities.Object{}, errors.Wrapf(err, "root of %s", guid)
		}
		rootAuthor, err := s.store.GetPersonByID(ctx, root.AuthorID)
		if err != nil {
			return entities.Object{}, errors.Wrapf(err, "root of %s", guid)
		}
		entity = &entities.Reshare{
			Author:     author.Handle,
			GUID:       post.GUID,
			CreatedAt:  post.CreatedAt,
			RootAuthor: rootAuthor.Handle,
			RootGUID:   post.RootGUID,
		}
	default:
		entity = &entities.StatusMessage{
			Author:    author.Handle,
			GUID:      post.GUID,
			CreatedAt: post.CreatedAt,
			Text:      post.Text,
			Public:    post.Public,
		}
	}
	return entities.ToObject(entity)
}

// Inbox receives an entity another pod delivered. The request must carry an
// HTTP signature of a pod; that pod must host the entity's author unless the
// entity is a relayable, which carries its author's own signature.
func (s *Service) Inbox(ctx context.Context, req *http.Request, body []byte) (any, error) {
	ctx, span := tracer.Start(ctx, "Federation.Service.Inbox")
	defer span.End()

	host, err := s.verifyRequest(ctx, req, body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var object entities.Object
	if err := json.Unmarshal(body, &object); err != nil {
		return nil, errors.Wrap(err, "bad envelope")
	}
	entity, err := entities.Parse(object)
	if err != nil {
		return nil, err
	}

	if !object.Kind().IsRelayable() {
		_, authorHost, err := entities.SplitHandle(entity.GetAuthor())
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(authorHost, host) {
			return nil, errors.Wrapf(ErrForbidden, "%s sent %s by %s", host, object.EntityType, entity.GetAuthor())
		}
	}

	s.logger.Debug("received", "kind", object.EntityType, "from", host)
	return s.receiver.Receive(ctx, entity)
}

func (s *Service) verifyRequest(ctx context.Context, req *http.Request, body []byte) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", errors.Wrap(ErrUnauthorized, err.Error())
	}
	keyURL, err := url.Parse(verifier.KeyId())
	if err != nil || keyURL.Host == "" {
		return "", errors.Wrapf(ErrUnauthorized, "bad key id %q", verifier.KeyId())
	}
	host := keyURL.Host

	key, err := s.keys.PodKey(ctx, host)
	if err != nil {
		return "", errors.Wrap(ErrUnauthorized, err.Error())
	}
	if err := verifier.Verify(key, httpsig.RSA_SHA256); err != nil {
		return "", errors.Wrap(ErrUnauthorized, err.Error())
	}

	sum := sha256.Sum256(body)
	if req.Header.Get("Digest") != "SHA-256="+base64.StdEncoding.EncodeToString(sum[:]) {
		return "", errors.Wrap(ErrUnauthorized, "digest mismatch")
	}
	return host, nil
}
