package testutil

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/types"
)

var ErrNotFound = errors.New("not found")

// FakeFederation stands in for other pods: it serves person documents and
// public entities from memory and records what was asked for.
type FakeFederation struct {
	mu      sync.Mutex
	people  map[string]types.PersonDocument
	objects map[string]entities.Object
	Fetches []string
}

func NewFakeFederation() *FakeFederation {
	return &FakeFederation{
		people:  map[string]types.PersonDocument{},
		objects: map[string]entities.Object{},
	}
}

// AddPerson makes handle discoverable with key.
func (f *FakeFederation) AddPerson(t *testing.T, handle string, key *rsa.PrivateKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.people[handle] = types.PersonDocument{
		GUID:      entities.NewGUID(),
		Handle:    handle,
		PublicKey: PublicPEM(t, key),
		FirstName: handle,
	}
}

// AddObject makes an entity fetchable as kind/guid.
func (f *FakeFederation) AddObject(t *testing.T, kind, guid string, object map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var o entities.Object
	if err := json.Unmarshal(Marshal(t, object), &o); err != nil {
		t.Fatal(err)
	}
	f.objects[kind+":"+guid] = o
}

func (f *FakeFederation) Discover(ctx context.Context, handle string) (types.PersonDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.people[handle]
	if !ok {
		return doc, errors.Wrap(ErrNotFound, handle)
	}
	return doc, nil
}

func (f *FakeFederation) FetchPublic(ctx context.Context, author, kind, guid string) (entities.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fetches = append(f.Fetches, author+" "+kind+":"+guid)
	object, ok := f.objects[kind+":"+guid]
	if !ok {
		return object, errors.Wrap(ErrNotFound, kind+":"+guid)
	}
	return object, nil
}

func (f *FakeFederation) FetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Fetches)
}

func Marshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// Archive builds a minimal valid archive for author.
func Archive(author string, key *rsa.PrivateKey) map[string]any {
	return map[string]any{
		"user": map[string]any{
			"username": "archived",
			"email":    "archived@mail.example",
			"profile": map[string]any{
				"entity_type": "profile",
				"entity_data": map[string]any{
					"author":     author,
					"first_name": "Archived",
					"searchable": true,
				},
			},
			"private_key":        entities.ExportPrivateKey(key),
			"contacts":           []any{},
			"contact_groups":     []any{},
			"posts":              []any{},
			"relayables":         []any{},
			"followed_tags":      []any{},
			"post_subscriptions": []any{},
			"language":           "de",
			"strip_exif":         false,
		},
		"others_data": map[string]any{"relayables": []any{}},
		"version":     "2.0",
	}
}

// Append adds items to a list inside an archive built by Archive.
func Append(a map[string]any, path string, items ...any) {
	var parent map[string]any
	var key string
	switch path {
	case "others_data.relayables":
		parent, key = a["others_data"].(map[string]any), "relayables"
	default:
		parent, key = a["user"].(map[string]any), path
	}
	parent[key] = append(parent[key].([]any), items...)
}

var epoch = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC).Format(time.RFC3339)

func StatusMessage(author, guid string) map[string]any {
	return map[string]any{
		"entity_type": "status_message",
		"entity_data": map[string]any{
			"author":     author,
			"guid":       guid,
			"created_at": epoch,
			"text":       "status " + guid,
			"public":     true,
		},
	}
}

// PollMessage is a status message carrying a poll with the given answers.
func PollMessage(author, guid, pollGUID string, answerGUIDs ...string) map[string]any {
	post := StatusMessage(author, guid)
	answers := []any{}
	for _, answer := range answerGUIDs {
		answers = append(answers, map[string]any{
			"entity_type": "poll_answer",
			"entity_data": map[string]any{"guid": answer, "answer": "answer " + answer},
		})
	}
	post["entity_data"].(map[string]any)["poll"] = map[string]any{
		"entity_type": "poll",
		"entity_data": map[string]any{
			"guid":         pollGUID,
			"question":     "question?",
			"poll_answers": answers,
		},
	}
	return post
}

func Reshare(author, guid, rootAuthor, rootGUID string) map[string]any {
	return map[string]any{
		"entity_type": "reshare",
		"entity_data": map[string]any{
			"author":      author,
			"guid":        guid,
			"created_at":  epoch,
			"root_author": rootAuthor,
			"root_guid":   rootGUID,
		},
	}
}

func Comment(t *testing.T, key *rsa.PrivateKey, author, guid, parentGUID string) map[string]any {
	return signed(t, key, entities.KindComment, map[string]any{
		"author":      author,
		"guid":        guid,
		"parent_guid": parentGUID,
		"text":        "comment " + guid,
		"created_at":  epoch,
	})
}

func Like(t *testing.T, key *rsa.PrivateKey, author, guid, parentGUID string) map[string]any {
	return signed(t, key, entities.KindLike, map[string]any{
		"author":      author,
		"guid":        guid,
		"parent_guid": parentGUID,
		"parent_type": "Post",
		"positive":    true,
	})
}

func PollParticipation(t *testing.T, key *rsa.PrivateKey, author, guid, pollGUID, answerGUID string) map[string]any {
	return signed(t, key, entities.KindPollParticipation, map[string]any{
		"author":           author,
		"guid":             guid,
		"parent_guid":      pollGUID,
		"poll_answer_guid": answerGUID,
	})
}

func signed(t *testing.T, key *rsa.PrivateKey, kind entities.Kind, data map[string]any) map[string]any {
	t.Helper()

	r, err := entities.ParseRelayable(entities.Object{EntityType: string(kind), EntityData: Marshal(t, data)})
	if err != nil {
		t.Fatal(err)
	}
	if err := entities.SignRelayable(key, r); err != nil {
		t.Fatal(err)
	}
	return map[string]any{
		"entity_type":    string(kind),
		"entity_data":    r.Data().GetData(),
		"property_order": r.PropertyOrder(),
	}
}

// Dispatched is one entity handed to FakeDispatcher.
type Dispatched struct {
	Sender     string
	Entity     entities.Entity
	Recipients []string
}

// FakeDispatcher records what would have been sent to other pods.
type FakeDispatcher struct {
	mu         sync.Mutex
	Dispatched []Dispatched
	Deferred   []types.Contact
}

func (d *FakeDispatcher) Dispatch(ctx context.Context, sender string, entity entities.Entity, recipients []types.Person) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	handles := make([]string, 0, len(recipients))
	for _, r := range recipients {
		handles = append(handles, r.Handle)
	}
	d.Dispatched = append(d.Dispatched, Dispatched{Sender: sender, Entity: entity, Recipients: handles})
	return nil
}

func (d *FakeDispatcher) DeferDispatch(ctx context.Context, user types.User, contact types.Contact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Deferred = append(d.Deferred, contact)
	return nil
}
