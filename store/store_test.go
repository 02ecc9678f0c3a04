package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concrnt/ccworld-migration/store"
	"github.com/concrnt/ccworld-migration/testutil"
	"github.com/concrnt/ccworld-migration/types"
)

func TestAccountMigrationUniqueness(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)

	a := testutil.RemotePerson(t, s, "a@remote.example", testutil.Key(t, 0))
	b := testutil.RemotePerson(t, s, "b@remote.example", testutil.Key(t, 1))
	c := testutil.RemotePerson(t, s, "c@remote.example", testutil.Key(t, 2))

	_, err := s.CreateAccountMigration(ctx, types.AccountMigration{OldPersonID: a.ID, NewPersonID: b.ID}, nil)
	require.NoError(t, err)

	_, err = s.CreateAccountMigration(ctx, types.AccountMigration{OldPersonID: a.ID, NewPersonID: c.ID}, nil)
	assert.True(t, store.IsDuplicate(err))

	_, err = s.CreateAccountMigration(ctx, types.AccountMigration{OldPersonID: c.ID, NewPersonID: b.ID}, &types.Signature{Body: "x"})
	assert.True(t, store.IsDuplicate(err))

	// the signature of the failed migration is rolled back
	_, err = s.GetSignature(ctx, 1)
	assert.True(t, store.IsNotFound(err))
}

func TestAttachSignatureOnce(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)

	a := testutil.RemotePerson(t, s, "a@remote.example", testutil.Key(t, 0))
	b := testutil.RemotePerson(t, s, "b@remote.example", testutil.Key(t, 1))
	migration, err := s.CreateAccountMigration(ctx, types.AccountMigration{OldPersonID: a.ID, NewPersonID: b.ID}, nil)
	require.NoError(t, err)

	sig, err := s.AttachSignature(ctx, migration.ID, "first")
	require.NoError(t, err)

	_, err = s.AttachSignature(ctx, migration.ID, "second")
	assert.Error(t, err)

	migration, err = s.GetMigrationByID(ctx, migration.ID)
	require.NoError(t, err)
	require.NotNil(t, migration.SignatureID)
	assert.Equal(t, sig.ID, *migration.SignatureID)

	stored, err := s.GetSignature(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Body)
}

func TestRewriteReferences(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)

	user, _ := testutil.LocalUser(t, s, "alice", testutil.Key(t, 0))
	other, _ := testutil.LocalUser(t, s, "carol", testutil.Key(t, 1))
	old := testutil.RemotePerson(t, s, "bob@old.example", testutil.Key(t, 2))
	nw := testutil.RemotePerson(t, s, "bob@new.example", testutil.Key(t, 3))

	_, err := s.CreatePost(ctx, store.PostBundle{Post: types.Post{GUID: "p1", Type: types.PostTypeStatusMessage, AuthorID: old.ID}})
	require.NoError(t, err)
	_, err = s.CreatePost(ctx, store.PostBundle{Post: types.Post{GUID: "p2", Type: types.PostTypeStatusMessage, AuthorID: old.ID}})
	require.NoError(t, err)

	// alice knows both identities, carol only the old one
	_, err = s.CreateContact(ctx, types.Contact{UserID: user.ID, PersonID: old.ID, Sharing: true})
	require.NoError(t, err)
	_, err = s.CreateContact(ctx, types.Contact{UserID: user.ID, PersonID: nw.ID, Sharing: true})
	require.NoError(t, err)
	_, err = s.CreateContact(ctx, types.Contact{UserID: other.ID, PersonID: old.ID})
	require.NoError(t, err)

	refs := []store.Reference{
		{Table: "posts", Column: "author_id"},
		{Table: "contacts", Column: "person_id", UniqueWith: "user_id"},
	}

	before, err := s.CountReferences(ctx, refs, old.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, before)

	var rewritten int64
	err = s.Transaction(ctx, func(tx *store.Store) error {
		rewritten, err = tx.RewriteReferences(ctx, refs, old.ID, nw.ID)
		return err
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, rewritten)

	left, err := s.CountReferences(ctx, refs, old.ID)
	require.NoError(t, err)
	assert.Zero(t, left)

	contact, err := s.GetContact(ctx, other.ID, nw.ID)
	require.NoError(t, err)
	assert.False(t, contact.Sharing)

	contacts, err := s.GetContactsByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, contacts, 1)
}

func TestRewriteReferencesDropsDependentsOfCollidingRows(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)

	user, _ := testutil.LocalUser(t, s, "alice", testutil.Key(t, 0))
	old := testutil.RemotePerson(t, s, "bob@old.example", testutil.Key(t, 2))
	nw := testutil.RemotePerson(t, s, "bob@new.example", testutil.Key(t, 3))

	aspect, err := s.CreateAspect(ctx, types.Aspect{UserID: user.ID, Name: "friends"})
	require.NoError(t, err)
	oldContact, err := s.CreateContact(ctx, types.Contact{UserID: user.ID, PersonID: old.ID, Sharing: true})
	require.NoError(t, err)
	newContact, err := s.CreateContact(ctx, types.Contact{UserID: user.ID, PersonID: nw.ID, Sharing: true})
	require.NoError(t, err)
	require.NoError(t, s.AddToAspect(ctx, aspect.ID, oldContact.ID))
	require.NoError(t, s.AddToAspect(ctx, aspect.ID, newContact.ID))

	refs := []store.Reference{{
		Table:      "contacts",
		Column:     "person_id",
		UniqueWith: "user_id",
		Dependents: []store.Reference{{Table: "aspect_memberships", Column: "contact_id"}},
	}}
	_, err = s.RewriteReferences(ctx, refs, old.ID, nw.ID)
	require.NoError(t, err)

	dangling, err := s.GetAspectMemberships(ctx, oldContact.ID)
	require.NoError(t, err)
	assert.Empty(t, dangling)

	kept, err := s.GetAspectMemberships(ctx, newContact.ID)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, aspect.ID, kept[0].AspectID)
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)

	old := testutil.RemotePerson(t, s, "bob@old.example", testutil.Key(t, 0))
	nw := testutil.RemotePerson(t, s, "bob@new.example", testutil.Key(t, 1))
	_, err := s.CreatePost(ctx, store.PostBundle{Post: types.Post{GUID: "p1", AuthorID: old.ID}})
	require.NoError(t, err)

	err = s.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CloseAccount(ctx, old.ID); err != nil {
			return err
		}
		_, err := tx.RewriteReferences(ctx, []store.Reference{{Table: "posts", Column: "missing_column"}}, old.ID, nw.ID)
		return err
	})
	require.Error(t, err)

	person, err := s.GetPersonByID(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, person.ClosedAccount)
	post, err := s.GetPostByGUID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, old.ID, post.AuthorID)
}

func TestTagsAndAspects(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testutil.NewStore(t)

	user, _ := testutil.LocalUser(t, s, "alice", testutil.Key(t, 0))

	tag, err := s.FindOrCreateTag(ctx, "golang")
	assert.NoError(err)
	again, err := s.FindOrCreateTag(ctx, "golang")
	assert.NoError(err)
	assert.Equal(tag.ID, again.ID)

	assert.NoError(s.FollowTag(ctx, user.ID, tag.ID))
	assert.True(store.IsDuplicate(s.FollowTag(ctx, user.ID, tag.ID)))

	_, err = s.CreateAspect(ctx, types.Aspect{UserID: user.ID, Name: "Friends", ContactsVisible: false})
	assert.NoError(err)
	_, err = s.CreateAspect(ctx, types.Aspect{UserID: user.ID, Name: "Friends"})
	assert.True(store.IsDuplicate(err))

	aspect, err := s.GetAspectByName(ctx, user.ID, "Friends")
	assert.NoError(err)
	assert.False(aspect.ContactsVisible)
}
