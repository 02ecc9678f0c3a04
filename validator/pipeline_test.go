package validator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/store"
	"github.com/concrnt/ccworld-migration/testutil"
	"github.com/concrnt/ccworld-migration/types"
	"github.com/concrnt/ccworld-migration/validator"
)

const author = "alice@old.example"

type fixture struct {
	store    *store.Store
	fed      *testutil.FakeFederation
	pipeline *validator.Pipeline
}

func newFixture(t *testing.T) *fixture {
	s := testutil.NewStore(t)
	fed := testutil.NewFakeFederation()
	return &fixture{
		store:    s,
		fed:      fed,
		pipeline: validator.NewPipeline(s, fed, fed, testutil.Logger()),
	}
}

func (f *fixture) validate(t *testing.T, a map[string]any) *validator.Report {
	return f.pipeline.Validate(context.Background(), testutil.Marshal(t, a))
}

func TestValidArchive(t *testing.T) {
	f := newFixture(t)
	key := testutil.Key(t, 0)
	f.fed.AddPerson(t, author, key)

	report := f.validate(t, testutil.Archive(author, key))
	assert.True(t, report.Valid())
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
	assert.Equal(t, author, report.Archive.Author())
}

func TestBadJSON(t *testing.T) {
	f := newFixture(t)

	report := f.pipeline.Validate(context.Background(), []byte(`{"user": `))
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "Bad JSON provided: ")
	assert.Nil(t, report.Archive)
}

func TestMissingMandatoryData(t *testing.T) {
	f := newFixture(t)
	a := testutil.Archive(author, testutil.Key(t, 0))
	delete(a["user"].(map[string]any), "private_key")

	report := f.validate(t, a)
	assert.Equal(t, []string{`Missing mandatory data: key not found: "user.private_key"`}, report.Errors)
	assert.Empty(t, report.Warnings)
}

func TestMissingProfileAuthor(t *testing.T) {
	f := newFixture(t)
	a := testutil.Archive(author, testutil.Key(t, 0))
	delete(a["user"].(map[string]any)["profile"].(map[string]any)["entity_data"].(map[string]any), "author")

	report := f.validate(t, a)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "Missing mandatory data")
}

func TestUnsupportedVersion(t *testing.T) {
	f := newFixture(t)
	a := testutil.Archive(author, testutil.Key(t, 0))
	a["version"] = "1.0"

	report := f.validate(t, a)
	assert.Equal(t, []string{`Archive version "1.0" is not supported`}, report.Errors)
}

func TestAuthorKeyMismatch(t *testing.T) {
	f := newFixture(t)
	testutil.RemotePerson(t, f.store, author, testutil.Key(t, 1))

	report := f.validate(t, testutil.Archive(author, testutil.Key(t, 0)))
	assert.Equal(t, []string{"Private key in the archive doesn't match the known key of " + author}, report.Errors)
}

func TestAuthorKeySkippedWhenUndiscoverable(t *testing.T) {
	f := newFixture(t)

	report := f.validate(t, testutil.Archive(author, testutil.Key(t, 0)))
	assert.True(t, report.Valid())
}

func TestValidationCreatesNoRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := testutil.Key(t, 0)
	f.fed.AddPerson(t, author, key)
	f.fed.AddPerson(t, "bob@remote.example", testutil.Key(t, 1))

	a := testutil.Archive(author, key)
	testutil.Append(a, "contacts", map[string]any{"account_id": "bob@remote.example", "sharing": true, "receiving": true})
	report := f.validate(t, a)
	require.True(t, report.Valid())

	_, err := f.store.GetPersonByHandle(ctx, author)
	assert.True(t, store.IsNotFound(err))
	_, err = f.store.GetPersonByHandle(ctx, "bob@remote.example")
	assert.True(t, store.IsNotFound(err))
}

func TestCriticalAndNonCriticalAreSeparated(t *testing.T) {
	f := newFixture(t)
	testutil.RemotePerson(t, f.store, author, testutil.Key(t, 1))

	a := testutil.Archive(author, testutil.Key(t, 0))
	testutil.Append(a, "relayables", testutil.Comment(t, testutil.Key(t, 0), author, "c1", "nowhere"))

	report := f.validate(t, a)
	assert.Len(t, report.Errors, 1)
	assert.Equal(t, []string{"Parent entity for Comment:c1 is missing. Impossible to import, ignoring."}, report.Warnings)
}

func TestCustomValidatorLists(t *testing.T) {
	f := newFixture(t)
	f.pipeline.Critical = []validator.Validator{&validator.SchemaValidator{}}
	f.pipeline.NonCritical = nil
	testutil.RemotePerson(t, f.store, author, testutil.Key(t, 1))

	report := f.validate(t, testutil.Archive(author, testutil.Key(t, 0)))
	assert.True(t, report.Valid())
}

func TestContactsValidator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := testutil.Key(t, 0)

	f.fed.AddPerson(t, "bob@remote.example", testutil.Key(t, 1))
	old := testutil.RemotePerson(t, f.store, "carol@old.example", testutil.Key(t, 2))
	nw := testutil.RemotePerson(t, f.store, "carol@new.example", testutil.Key(t, 3))
	_, err := f.store.CreateAccountMigration(ctx, types.AccountMigration{OldPersonID: old.ID, NewPersonID: nw.ID}, nil)
	require.NoError(t, err)
	require.NoError(t, f.store.CloseAccount(ctx, old.ID))
	closed := testutil.RemotePerson(t, f.store, "dave@gone.example", testutil.Key(t, 4))
	require.NoError(t, f.store.CloseAccount(ctx, closed.ID))

	a := testutil.Archive(author, key)
	testutil.Append(a, "contacts",
		map[string]any{"account_id": "bob@remote.example", "sharing": true},
		map[string]any{"account_id": "not a handle", "sharing": true},
		map[string]any{"account_id": "Bob@remote.example", "sharing": false},
		map[string]any{"account_id": "carol@old.example", "sharing": true},
		map[string]any{"account_id": "dave@gone.example", "sharing": true},
		map[string]any{"account_id": "erin@unknown.example", "sharing": true},
	)

	report := f.validate(t, a)
	require.True(t, report.Valid())
	assert.Equal(t, []string{
		"Contact not a handle has an invalid account id, ignoring.",
		"Contact Bob@remote.example is listed more than once, ignoring the duplicate.",
		"Contact dave@gone.example closed their account, ignoring.",
		"Contact erin@unknown.example could not be found, ignoring.",
	}, report.Warnings)

	res := report.Resolution
	handle, ok := res.ContactHandle(0)
	assert.True(t, ok)
	assert.Equal(t, "bob@remote.example", handle)
	assert.True(t, res.ContactExcluded(1))
	assert.True(t, res.ContactExcluded(2))
	handle, _ = res.ContactHandle(3)
	assert.Equal(t, "carol@new.example", handle)
	assert.True(t, res.ContactExcluded(4))
	assert.True(t, res.ContactExcluded(5))
}

func TestRelayableParentInArchive(t *testing.T) {
	f := newFixture(t)
	key := testutil.Key(t, 0)

	a := testutil.Archive(author, key)
	testutil.Append(a, "posts", testutil.PollMessage(author, "p1", "poll1", "ans1"))
	testutil.Append(a, "relayables",
		testutil.Comment(t, key, author, "c1", "p1"),
		testutil.PollParticipation(t, key, author, "pp1", "poll1", "ans1"),
	)
	testutil.Append(a, "others_data.relayables",
		testutil.Like(t, testutil.Key(t, 1), "bob@remote.example", "l1", "p1"),
	)

	report := f.validate(t, a)
	assert.True(t, report.Valid())
	assert.Empty(t, report.Warnings)
	assert.Zero(t, f.fed.FetchCount())
}

func TestRelayableParentKnownLocally(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := testutil.Key(t, 0)
	bob := testutil.RemotePerson(t, f.store, "bob@remote.example", testutil.Key(t, 1))
	_, err := f.store.CreatePost(ctx, store.PostBundle{Post: types.Post{GUID: "p1", AuthorID: bob.ID}})
	require.NoError(t, err)

	a := testutil.Archive(author, key)
	testutil.Append(a, "relayables", testutil.Comment(t, key, author, "c1", "p1"))

	report := f.validate(t, a)
	assert.Empty(t, report.Warnings)
	assert.Zero(t, f.fed.FetchCount())
}

func TestRelayableParentFetched(t *testing.T) {
	f := newFixture(t)
	key := testutil.Key(t, 0)
	f.fed.AddObject(t, entities.ParentPost, "p1", testutil.StatusMessage("bob@remote.example", "p1"))

	a := testutil.Archive(author, key)
	testutil.Append(a, "relayables",
		testutil.Comment(t, key, author, "c1", "p1"),
		testutil.Like(t, key, author, "l1", "p1"),
	)

	report := f.validate(t, a)
	assert.Empty(t, report.Warnings)
	assert.Equal(t, []string{author + " Post:p1"}, f.fed.Fetches)

	parent, ok := report.Resolution.Parent(entities.ParentPost, "p1")
	require.True(t, ok)
	assert.Equal(t, entities.KindStatusMessage, parent.Kind())
	assert.Len(t, report.Resolution.Parents(), 1)
}

func TestPollParticipationWithMissingPoll(t *testing.T) {
	f := newFixture(t)
	key := testutil.Key(t, 0)

	a := testutil.Archive(author, key)
	testutil.Append(a, "relayables", testutil.PollParticipation(t, key, author, "pp1", "poll1", "ans1"))

	report := f.validate(t, a)
	assert.True(t, report.Valid())
	assert.Equal(t, []string{
		"Parent entity for PollParticipation:pp1 is missing. Impossible to import, ignoring.",
	}, report.Warnings)
	assert.True(t, report.Resolution.Excluded(entities.KindPollParticipation, "pp1"))
	assert.Equal(t, []string{author + " Poll:poll1"}, f.fed.Fetches)
}

func TestOthersRelayableWithMissingParent(t *testing.T) {
	f := newFixture(t)
	key := testutil.Key(t, 0)

	a := testutil.Archive(author, key)
	testutil.Append(a, "others_data.relayables",
		testutil.Comment(t, testutil.Key(t, 1), "bob@remote.example", "c9", "gone"),
	)

	report := f.validate(t, a)
	assert.Equal(t, []string{
		"Parent entity for Comment:c9 is missing. Impossible to import, ignoring.",
	}, report.Warnings)
	assert.True(t, report.Resolution.Excluded(entities.KindComment, "c9"))
}
