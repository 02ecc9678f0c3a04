package fedclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/testutil"
	"github.com/concrnt/ccworld-migration/types"
)

type fakePod struct {
	*httptest.Server
	webfingerHits atomic.Int32
	podHits       atomic.Int32
	delivered     atomic.Value
	signature     atomic.Value
}

func newFakePod(t *testing.T) *fakePod {
	pod := &fakePod{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/webfinger", func(w http.ResponseWriter, r *http.Request) {
		pod.webfingerHits.Add(1)
		resource := r.URL.Query().Get("resource")
		if resource != "acct:bob@"+pod.host() {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(types.WebFinger{
			Subject: resource,
			Links: []types.WebFingerLink{
				{Rel: "self", Type: "application/json", Href: pod.URL + "/people/bob"},
			},
		})
	})
	mux.HandleFunc("/people/bob", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.PersonDocument{
			GUID:      "bobguid",
			Handle:    "bob@" + pod.host(),
			PublicKey: testutil.PublicPEM(t, testutil.Key(t, 0)),
		})
	})
	mux.HandleFunc("/fetch/post/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/known") {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(entities.Object{
			EntityType: "status_message",
			EntityData: json.RawMessage(`{"author":"bob@` + pod.host() + `","guid":"known","text":"hi","public":true}`),
		})
	})
	mux.HandleFunc("/pod", func(w http.ResponseWriter, r *http.Request) {
		pod.podHits.Add(1)
		json.NewEncoder(w).Encode(types.PodDocument{
			Host:      pod.host(),
			PublicKey: testutil.PublicPEM(t, testutil.Key(t, 2)),
		})
	})
	mux.HandleFunc("/receive/public", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		pod.delivered.Store(string(body))
		pod.signature.Store(r.Header.Get("Signature"))
		w.WriteHeader(http.StatusAccepted)
	})
	pod.Server = httptest.NewServer(mux)
	t.Cleanup(pod.Close)
	return pod
}

func (p *fakePod) host() string {
	return strings.TrimPrefix(p.URL, "http://")
}

func newTestClient(t *testing.T) *Client {
	return NewClient(
		nil,
		types.PodConfig{Host: testutil.PodHost},
		types.FederationConfig{Scheme: "http"},
		testutil.Key(t, 1),
		testutil.Logger(),
	)
}

func TestDiscover(t *testing.T) {
	pod := newFakePod(t)
	c := newTestClient(t)

	doc, err := c.Discover(context.Background(), "bob@"+pod.host())
	require.NoError(t, err)
	assert.Equal(t, "bobguid", doc.GUID)
	assert.Equal(t, "bob@"+pod.host(), doc.Handle)

	pub, err := entities.ParsePublicKey(doc.PublicKey)
	require.NoError(t, err)
	assert.True(t, entities.SamePublicKey(pub, &testutil.Key(t, 0).PublicKey))
}

func TestDiscoverFailureIsCached(t *testing.T) {
	pod := newFakePod(t)
	c := newTestClient(t)

	_, err := c.Discover(context.Background(), "nobody@"+pod.host())
	assert.True(t, errors.Is(err, ErrDiscoveryFailed))
	_, err = c.Discover(context.Background(), "nobody@"+pod.host())
	assert.True(t, errors.Is(err, ErrDiscoveryFailed))

	assert.EqualValues(t, 1, pod.webfingerHits.Load())
}

func TestFetchPublic(t *testing.T) {
	pod := newFakePod(t)
	c := newTestClient(t)

	object, err := c.FetchPublic(context.Background(), "bob@"+pod.host(), entities.ParentPost, "known")
	require.NoError(t, err)
	assert.Equal(t, entities.KindStatusMessage, object.Kind())

	entity, err := entities.Parse(object)
	require.NoError(t, err)
	assert.Equal(t, "known", entity.GetGUID())

	_, err = c.FetchPublic(context.Background(), "bob@"+pod.host(), entities.ParentPost, "unknown")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeliverIsSigned(t *testing.T) {
	pod := newFakePod(t)
	c := newTestClient(t)

	err := c.Deliver(context.Background(), pod.host(), []byte(`{"hello":"world"}`))
	require.NoError(t, err)

	assert.Equal(t, `{"hello":"world"}`, pod.delivered.Load())
	assert.Contains(t, pod.signature.Load(), `keyId="http://`+testutil.PodHost+`/pod#main-key"`)
}

func TestPodKeyIsCached(t *testing.T) {
	pod := newFakePod(t)
	c := newTestClient(t)

	for range 2 {
		key, err := c.PodKey(context.Background(), pod.host())
		require.NoError(t, err)
		assert.True(t, entities.SamePublicKey(key, &testutil.Key(t, 2).PublicKey))
	}
	assert.EqualValues(t, 1, pod.podHits.Load())
}

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "post", snakeCase("Post"))
	assert.Equal(t, "status_message", snakeCase("StatusMessage"))
	assert.Equal(t, "poll", snakeCase("poll"))
}
