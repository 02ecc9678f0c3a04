package federation_test

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/federation"
	"github.com/concrnt/ccworld-migration/fedclient"
	"github.com/concrnt/ccworld-migration/receive"
	"github.com/concrnt/ccworld-migration/store"
	"github.com/concrnt/ccworld-migration/testutil"
	"github.com/concrnt/ccworld-migration/types"
)

const remoteHost = "remote.example"

type fakeKeys map[string]*rsa.PublicKey

func (k fakeKeys) PodKey(ctx context.Context, host string) (*rsa.PublicKey, error) {
	key, ok := k[host]
	if !ok {
		return nil, errors.New("unknown pod")
	}
	return key, nil
}

type fixture struct {
	store  *store.Store
	fed    *testutil.FakeFederation
	echo   *echo.Echo
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	s := testutil.NewStore(t)
	fed := testutil.NewFakeFederation()
	logger := testutil.Logger()

	svc := federation.NewService(
		s,
		receive.NewService(s, fed, fed, logger),
		fakeKeys{remoteHost: &testutil.Key(t, 3).PublicKey},
		types.PodConfig{Host: testutil.PodHost},
		&testutil.Key(t, 4).PublicKey,
		"https://"+testutil.PodHost,
		logger,
	)
	e := echo.New()
	federation.NewHandler(svc).Register(e)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	return &fixture{s, fed, e, server}
}

// deliver posts body to the inbox the way the pod host would.
func (f *fixture) deliver(t *testing.T, host string, body []byte) error {
	c := fedclient.NewClient(
		nil,
		types.PodConfig{Host: host},
		types.FederationConfig{Scheme: "http"},
		testutil.Key(t, 3),
		testutil.Logger(),
	)
	return c.Deliver(context.Background(), strings.TrimPrefix(f.server.URL, "http://"), body)
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestInboxReceivesSignedPost(t *testing.T) {
	f := newFixture(t)
	f.fed.AddPerson(t, "bob@"+remoteHost, testutil.Key(t, 5))

	err := f.deliver(t, remoteHost, testutil.Marshal(t, testutil.StatusMessage("bob@"+remoteHost, "p1")))
	require.NoError(t, err)

	post, err := f.store.GetPostByGUID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "status p1", post.Text)
}

func TestInboxRejectsAuthorOfAnotherPod(t *testing.T) {
	f := newFixture(t)
	f.fed.AddPerson(t, "eve@other.example", testutil.Key(t, 5))

	err := f.deliver(t, remoteHost, testutil.Marshal(t, testutil.StatusMessage("eve@other.example", "p1")))
	assert.ErrorContains(t, err, "403")

	_, err = f.store.GetPostByGUID(context.Background(), "p1")
	assert.True(t, store.IsNotFound(err))
}

func TestInboxRejectsUnknownPod(t *testing.T) {
	f := newFixture(t)
	f.fed.AddPerson(t, "bob@unknown.example", testutil.Key(t, 5))

	err := f.deliver(t, "unknown.example", testutil.Marshal(t, testutil.StatusMessage("bob@unknown.example", "p1")))
	assert.ErrorContains(t, err, "401")
}

func TestInboxRejectsUnsignedRequest(t *testing.T) {
	f := newFixture(t)
	body := strings.NewReader(string(testutil.Marshal(t, testutil.StatusMessage("bob@"+remoteHost, "p1"))))

	resp, err := http.Post(f.server.URL+"/receive/public", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebFingerAndPersonDocument(t *testing.T) {
	f := newFixture(t)
	_, carol := testutil.LocalUser(t, f.store, "carol", testutil.Key(t, 0))

	rec := f.get(t, "/.well-known/webfinger?resource=acct:carol@"+testutil.PodHost)
	require.Equal(t, http.StatusOK, rec.Code)
	var webfinger types.WebFinger
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &webfinger))
	require.Len(t, webfinger.Links, 1)
	assert.Equal(t, "https://"+testutil.PodHost+"/people/"+carol.GUID, webfinger.Links[0].Href)

	rec = f.get(t, "/people/"+carol.GUID)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc types.PersonDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, carol.Handle, doc.Handle)
	assert.Equal(t, "carol", doc.FirstName)
	assert.Equal(t, carol.SerializedPublicKey, doc.PublicKey)
}

func TestWebFingerOnlyAnswersForOpenLocalAccounts(t *testing.T) {
	f := newFixture(t)
	testutil.RemotePerson(t, f.store, "bob@"+remoteHost, testutil.Key(t, 1))
	_, carol := testutil.LocalUser(t, f.store, "carol", testutil.Key(t, 0))
	require.NoError(t, f.store.CloseAccount(context.Background(), carol.ID))

	assert.Equal(t, http.StatusNotFound, f.get(t, "/.well-known/webfinger?resource=acct:bob@"+remoteHost).Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/.well-known/webfinger?resource=acct:carol@"+testutil.PodHost).Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/.well-known/webfinger?resource=acct:nobody@"+testutil.PodHost).Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/.well-known/webfinger?resource=carol").Code)
}

func TestFetchPublicPost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, carol := testutil.LocalUser(t, f.store, "carol", testutil.Key(t, 0))
	_, err := f.store.CreatePost(ctx, store.PostBundle{Post: types.Post{GUID: "p1", Type: types.PostTypeStatusMessage, AuthorID: carol.ID, Text: "hello", Public: true}})
	require.NoError(t, err)
	_, err = f.store.CreatePost(ctx, store.PostBundle{Post: types.Post{GUID: "p2", Type: types.PostTypeStatusMessage, AuthorID: carol.ID, Text: "secret"}})
	require.NoError(t, err)

	rec := f.get(t, "/fetch/post/p1")
	require.Equal(t, http.StatusOK, rec.Code)
	var object entities.Object
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &object))
	entity, err := entities.Parse(object)
	require.NoError(t, err)
	message := entity.(*entities.StatusMessage)
	assert.Equal(t, carol.Handle, message.Author)
	assert.Equal(t, "hello", message.Text)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/fetch/post/p2").Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/fetch/post/p3").Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/fetch/comment/p1").Code)
}

func TestPodDocument(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/pod")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc types.PodDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, testutil.PodHost, doc.Host)

	key, err := entities.ParsePublicKey(doc.PublicKey)
	require.NoError(t, err)
	assert.True(t, entities.SamePublicKey(key, &testutil.Key(t, 4).PublicKey))
}
