package migration_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/migration"
	"github.com/concrnt/ccworld-migration/receive"
	"github.com/concrnt/ccworld-migration/store"
	"github.com/concrnt/ccworld-migration/testutil"
	"github.com/concrnt/ccworld-migration/types"
)

type fixture struct {
	store      *store.Store
	fed        *testutil.FakeFederation
	dispatcher *testutil.FakeDispatcher
	engine     *migration.Engine
}

func newFixture(t *testing.T) *fixture {
	s := testutil.NewStore(t)
	fed := testutil.NewFakeFederation()
	dispatcher := &testutil.FakeDispatcher{}
	people := receive.NewService(s, fed, fed, testutil.Logger())
	return &fixture{
		store:      s,
		fed:        fed,
		dispatcher: dispatcher,
		engine:     migration.NewEngine(s, people, dispatcher, testutil.Logger()),
	}
}

func (f *fixture) post(t *testing.T, guid string, authorID uint) types.Post {
	t.Helper()
	post, err := f.store.CreatePost(context.Background(), store.PostBundle{
		Post: types.Post{GUID: guid, Type: types.PostTypeStatusMessage, AuthorID: authorID},
	})
	require.NoError(t, err)
	return post
}

func (f *fixture) references(t *testing.T, personID uint) int64 {
	t.Helper()
	n, err := f.store.CountReferences(context.Background(), migration.PersonReferences, personID)
	require.NoError(t, err)
	return n
}

func TestCreateRejectsSamePerson(t *testing.T) {
	f := newFixture(t)
	person := testutil.RemotePerson(t, f.store, "bob@old.example", testutil.Key(t, 0))

	_, err := f.engine.Create(context.Background(), person.ID, person.ID, nil)
	assert.ErrorIs(t, err, migration.ErrSamePerson)
}

func TestCreateIsUniquePerPerson(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := testutil.RemotePerson(t, f.store, "a@one.example", testutil.Key(t, 0))
	b := testutil.RemotePerson(t, f.store, "b@two.example", testutil.Key(t, 1))
	c := testutil.RemotePerson(t, f.store, "c@three.example", testutil.Key(t, 2))

	_, err := f.engine.Create(ctx, a.ID, b.ID, nil)
	require.NoError(t, err)

	_, err = f.engine.Create(ctx, a.ID, c.ID, nil)
	assert.ErrorIs(t, err, migration.ErrMigrationExists)
	_, err = f.engine.Create(ctx, c.ID, b.ID, nil)
	assert.ErrorIs(t, err, migration.ErrMigrationExists)
}

func TestCreateLocksOldUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user, old := testutil.LocalUser(t, f.store, "alice", testutil.Key(t, 0))
	nw := testutil.RemotePerson(t, f.store, "alice@new.example", testutil.Key(t, 1))

	m, err := f.engine.Create(ctx, old.ID, nw.ID, nil)
	require.NoError(t, err)
	assert.True(t, m.UserLeft())
	assert.Nil(t, m.Record.SignatureID)

	user, err = f.store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, user.Locked())
}

func TestCreateRollsBackWhenLockFails(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	s := store.NewStore(db)
	fed := testutil.NewFakeFederation()
	engine := migration.NewEngine(s, receive.NewService(s, fed, fed, testutil.Logger()), &testutil.FakeDispatcher{}, testutil.Logger())

	user, old := testutil.LocalUser(t, s, "alice", testutil.Key(t, 0))
	nw := testutil.RemotePerson(t, s, "alice@new.example", testutil.Key(t, 1))

	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:fail_user_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "users" {
			tx.AddError(errors.New("users are read only"))
		}
	}))

	_, err := engine.Create(ctx, old.ID, nw.ID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to lock old user")

	_, err = s.GetMigrationByOldPerson(ctx, old.ID)
	assert.True(t, store.IsNotFound(err))

	user, err = s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, user.Locked())
}

func TestArrivedUserSignsWithOldKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	oldKey := testutil.Key(t, 1)
	old := testutil.RemotePerson(t, f.store, "alice@old.example", oldKey)
	_, nw := testutil.LocalUser(t, f.store, "alice", testutil.Key(t, 0))

	_, err := f.engine.Create(ctx, old.ID, nw.ID, nil)
	assert.ErrorIs(t, err, migration.ErrNoPrivateKeyProvided)

	_, err = f.engine.Create(ctx, old.ID, nw.ID, testutil.Key(t, 2))
	assert.ErrorIs(t, err, entities.ErrSignatureVerificationFailed)

	m, err := f.engine.Create(ctx, old.ID, nw.ID, oldKey)
	require.NoError(t, err)
	assert.True(t, m.UserArrived())
	require.NotNil(t, m.Record.SignatureID)

	signature, err := f.store.GetSignature(ctx, *m.Record.SignatureID)
	require.NoError(t, err)
	data := entities.MigrationSignatureData(old.Handle, nw.Handle)
	assert.NoError(t, entities.Verify(&oldKey.PublicKey, data, signature.Body))
}

func TestPerformForArrivedUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	oldKey := testutil.Key(t, 1)
	old := testutil.RemotePerson(t, f.store, "alice@old.example", oldKey)
	alice, nw := testutil.LocalUser(t, f.store, "alice", testutil.Key(t, 0))
	carol, _ := testutil.LocalUser(t, f.store, "carol", testutil.Key(t, 2))
	dave := testutil.RemotePerson(t, f.store, "dave@remote.example", testutil.Key(t, 3))

	p1 := f.post(t, "p1", old.ID)
	f.post(t, "p2", old.ID)
	other := f.post(t, "p3", dave.ID)
	_, err := f.store.CreateComment(ctx, types.Comment{GUID: "c1", AuthorID: old.ID, PostID: other.ID})
	require.NoError(t, err)
	_, err = f.store.CreateLike(ctx, types.Like{GUID: "l1", AuthorID: old.ID, TargetType: "Post", TargetID: other.ID})
	require.NoError(t, err)
	_, err = f.store.CreateContact(ctx, types.Contact{UserID: carol.ID, PersonID: old.ID, Sharing: true})
	require.NoError(t, err)
	_, err = f.store.CreateContact(ctx, types.Contact{UserID: alice.ID, PersonID: dave.ID, Sharing: true})
	require.NoError(t, err)

	before := f.references(t, old.ID)
	require.EqualValues(t, 5, before)
	alreadyNew := f.references(t, nw.ID)

	m, err := f.engine.Create(ctx, old.ID, nw.ID, oldKey)
	require.NoError(t, err)
	result, err := f.engine.Perform(ctx, m)
	require.NoError(t, err)

	assert.Equal(t, before, result.PersonReferences)
	assert.Zero(t, result.UserReferences)
	assert.Zero(t, f.references(t, old.ID))
	assert.Equal(t, alreadyNew+before, f.references(t, nw.ID))

	post, err := f.store.GetPostByID(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, nw.ID, post.AuthorID)
	comment, err := f.store.GetCommentByGUID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, nw.ID, comment.AuthorID)
	like, err := f.store.GetLikeByGUID(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, nw.ID, like.AuthorID)
	contact, err := f.store.GetContact(ctx, carol.ID, nw.ID)
	require.NoError(t, err)
	assert.True(t, contact.Sharing)

	person, err := f.store.GetPersonByID(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, person.ClosedAccount)
	profile, err := f.store.GetProfile(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, profile.FirstName)

	require.Len(t, f.dispatcher.Dispatched, 1)
	sent := f.dispatcher.Dispatched[0]
	assert.Equal(t, nw.Handle, sent.Sender)
	assert.ElementsMatch(t, []string{dave.Handle, old.Handle}, sent.Recipients)
	entity := sent.Entity.(*entities.AccountMigration)
	assert.Equal(t, old.Handle, entity.OldHandle())
	assert.Equal(t, nw.Handle, entity.NewIdentity())
	assert.NoError(t, entities.Verify(&oldKey.PublicKey, entities.MigrationSignatureData(old.Handle, nw.Handle), entity.Signature))
}

func TestPerformTwiceFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	oldKey := testutil.Key(t, 1)
	old := testutil.RemotePerson(t, f.store, "alice@old.example", oldKey)
	_, nw := testutil.LocalUser(t, f.store, "alice", testutil.Key(t, 0))
	f.post(t, "p1", old.ID)

	m, err := f.engine.Create(ctx, old.ID, nw.ID, oldKey)
	require.NoError(t, err)
	_, err = f.engine.Perform(ctx, m)
	require.NoError(t, err)
	after := f.references(t, nw.ID)

	_, err = f.engine.Perform(ctx, m)
	assert.ErrorIs(t, err, migration.ErrAlreadyPerformed)

	reloaded, err := f.engine.Load(ctx, m.Record.ID, oldKey)
	require.NoError(t, err)
	_, err = f.engine.Perform(ctx, reloaded)
	assert.ErrorIs(t, err, migration.ErrAlreadyPerformed)

	assert.Equal(t, after, f.references(t, nw.ID))
	assert.Len(t, f.dispatcher.Dispatched, 1)
}

func TestPerformWithoutKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	oldKey := testutil.Key(t, 1)
	old := testutil.RemotePerson(t, f.store, "alice@old.example", oldKey)
	_, nw := testutil.LocalUser(t, f.store, "alice", testutil.Key(t, 0))
	f.post(t, "p1", old.ID)

	created, err := f.engine.Create(ctx, old.ID, nw.ID, oldKey)
	require.NoError(t, err)

	m, err := f.engine.Load(ctx, created.Record.ID, nil)
	require.NoError(t, err)
	_, err = f.engine.Perform(ctx, m)
	assert.ErrorIs(t, err, migration.ErrNoPrivateKeyProvided)

	person, err := f.store.GetPersonByID(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, person.ClosedAccount)
	assert.EqualValues(t, 1, f.references(t, old.ID))
	assert.Empty(t, f.dispatcher.Dispatched)
}

func TestUserLeftPod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	newKey := testutil.Key(t, 1)
	alice, old := testutil.LocalUser(t, f.store, "alice", testutil.Key(t, 0))
	carol, _ := testutil.LocalUser(t, f.store, "carol", testutil.Key(t, 2))
	nw := testutil.RemotePerson(t, f.store, "alice@new.example", newKey)
	_, err := f.store.CreateContact(ctx, types.Contact{UserID: carol.ID, PersonID: old.ID, Sharing: true})
	require.NoError(t, err)

	m, err := f.engine.Create(ctx, old.ID, nw.ID, nil)
	require.NoError(t, err)

	forged, err := entities.Sign(testutil.Key(t, 3), entities.MigrationSignatureData(old.Handle, nw.Handle))
	require.NoError(t, err)
	err = f.engine.AttachSignature(ctx, m, forged)
	assert.ErrorIs(t, err, entities.ErrSignatureVerificationFailed)
	assert.Nil(t, m.Record.SignatureID)

	body, err := entities.Sign(newKey, entities.MigrationSignatureData(old.Handle, nw.Handle))
	require.NoError(t, err)
	require.NoError(t, f.engine.AttachSignature(ctx, m, body))
	require.NotNil(t, m.Record.SignatureID)
	assert.Error(t, f.engine.AttachSignature(ctx, m, body))

	_, err = f.engine.Perform(ctx, m)
	require.NoError(t, err)

	user, err := f.store.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.NotNil(t, user.ClosedAt)
	assert.Empty(t, user.EncryptedPassword)

	assert.Empty(t, f.dispatcher.Dispatched)
	require.Len(t, f.dispatcher.Deferred, 1)
	assert.Equal(t, carol.ID, f.dispatcher.Deferred[0].UserID)
	assert.Equal(t, nw.ID, f.dispatcher.Deferred[0].PersonID)
}

func TestLocalIDChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	oldUser, old := testutil.LocalUser(t, f.store, "alice", testutil.Key(t, 0))
	newUser, nw := testutil.LocalUser(t, f.store, "alicia", testutil.Key(t, 1))
	dave := testutil.RemotePerson(t, f.store, "dave@remote.example", testutil.Key(t, 3))

	_, err := f.store.CreateAspect(ctx, types.Aspect{UserID: oldUser.ID, Name: "friends"})
	require.NoError(t, err)
	_, err = f.store.CreateContact(ctx, types.Contact{UserID: oldUser.ID, PersonID: dave.ID, Sharing: true})
	require.NoError(t, err)

	m, err := f.engine.Create(ctx, old.ID, nw.ID, nil)
	require.NoError(t, err)
	assert.True(t, m.UserChangedIDLocally())
	assert.Nil(t, m.Record.SignatureID)

	body, err := entities.Sign(testutil.Key(t, 1), entities.MigrationSignatureData(old.Handle, nw.Handle))
	require.NoError(t, err)
	assert.ErrorIs(t, f.engine.AttachSignature(ctx, m, body), migration.ErrSignatureNotAccepted)

	result, err := f.engine.Perform(ctx, m)
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.UserReferences)

	aspect, err := f.store.GetAspectByName(ctx, newUser.ID, "friends")
	require.NoError(t, err)
	assert.Equal(t, newUser.ID, aspect.UserID)
	_, err = f.store.GetContact(ctx, newUser.ID, dave.ID)
	require.NoError(t, err)

	tombstoned, err := f.store.GetUserByID(ctx, oldUser.ID)
	require.NoError(t, err)
	assert.NotNil(t, tombstoned.ClosedAt)
	assert.Empty(t, tombstoned.SerializedPrivateKey)
	assert.Equal(t, "alice", tombstoned.Username)

	require.Len(t, f.dispatcher.Dispatched, 1)
	assert.Equal(t, []string{dave.Handle}, f.dispatcher.Dispatched[0].Recipients)
}

func TestReceiveMigrationOfLocalUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	newKey := testutil.Key(t, 1)
	alice, old := testutil.LocalUser(t, f.store, "alice", testutil.Key(t, 0))
	f.fed.AddPerson(t, "alice@new.example", newKey)
	f.post(t, "p1", old.ID)

	body, err := entities.Sign(newKey, entities.MigrationSignatureData(old.Handle, "alice@new.example"))
	require.NoError(t, err)
	entity := &entities.AccountMigration{
		Author:    old.Handle,
		Profile:   entities.Nested[entities.Profile]{EntityType: "profile", EntityData: entities.Profile{Author: "alice@new.example"}},
		Signature: body,
	}

	record, err := f.engine.Receive(ctx, entity)
	require.NoError(t, err)
	require.NotNil(t, record.SignatureID)

	person, err := f.store.GetPersonByID(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, person.ClosedAccount)
	user, err := f.store.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, user.Locked())

	again, err := f.engine.Receive(ctx, entity)
	require.NoError(t, err)
	assert.Equal(t, record.ID, again.ID)
}

func TestReceiveRejectsForgedMigration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, old := testutil.LocalUser(t, f.store, "alice", testutil.Key(t, 0))
	f.fed.AddPerson(t, "mallory@evil.example", testutil.Key(t, 1))

	body, err := entities.Sign(testutil.Key(t, 2), entities.MigrationSignatureData(old.Handle, "mallory@evil.example"))
	require.NoError(t, err)
	_, err = f.engine.Receive(ctx, &entities.AccountMigration{
		Author:    old.Handle,
		Profile:   entities.Nested[entities.Profile]{EntityType: "profile", EntityData: entities.Profile{Author: "mallory@evil.example"}},
		Signature: body,
	})
	assert.ErrorIs(t, err, entities.ErrSignatureVerificationFailed)

	_, err = f.store.GetMigrationByOldPerson(ctx, old.ID)
	assert.True(t, store.IsNotFound(err))
}
