package fedclient

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/totegamma/httpsig"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/types"
)

var (
	UserAgent = "CcWorldMigration/1.0"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDiscoveryFailed = errors.New("discovery failed")
)

const (
	relPersonDocument = "self"
	personCachePrefix = "person:"
	maxBodySize       = 4 << 20
)

var tracer = otel.Tracer("fedclient")

// Client talks to other pods: discovery, public fetch and delivery.
type Client struct {
	http     *http.Client
	mc       *memcache.Client
	failures *expirable.LRU[string, error]
	pod      types.PodConfig
	config   types.FederationConfig
	key      *rsa.PrivateKey
	logger   *slog.Logger
	podKeys  *expirable.LRU[string, *rsa.PublicKey]
}

// NewClient returns a new Client. mc and key may be nil, which disables the
// shared cache and request signing respectively.
func NewClient(
	mc *memcache.Client,
	pod types.PodConfig,
	config types.FederationConfig,
	key *rsa.PrivateKey,
	logger *slog.Logger,
) *Client {
	if config.Scheme == "" {
		config.Scheme = "https"
	}
	if config.TimeoutSeconds == 0 {
		config.TimeoutSeconds = 30
	}
	if config.CacheTTLSeconds == 0 {
		config.CacheTTLSeconds = 1800
	}
	if config.NegativeCacheTTLSeconds == 0 {
		config.NegativeCacheTTLSeconds = 300
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = otelhttp.NewTransport(cleanhttp.DefaultPooledTransport())
	retryClient.RetryMax = config.RetryMax
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(leveledSlog{logger.With("subsystem", "fedclient")})

	client := retryClient.StandardClient()
	client.Timeout = time.Duration(config.TimeoutSeconds) * time.Second

	return &Client{
		client,
		mc,
		expirable.NewLRU[string, error](4096, nil, time.Duration(config.NegativeCacheTTLSeconds)*time.Second),
		pod,
		config,
		key,
		logger,
		expirable.NewLRU[string, *rsa.PublicKey](1024, nil, time.Duration(config.CacheTTLSeconds)*time.Second),
	}
}

// BaseURL returns the root url of a pod.
func (c *Client) BaseURL(host string) string {
	return c.config.Scheme + "://" + host
}

// InboxURL returns the public receive endpoint of a pod.
func (c *Client) InboxURL(host string) string {
	return c.BaseURL(host) + "/receive/public"
}

// Discover resolves a handle to its person document.
func (c *Client) Discover(ctx context.Context, handle string) (types.PersonDocument, error) {
	ctx, span := tracer.Start(ctx, "FedClient.Discover")
	defer span.End()

	handle, err := entities.NormalizeHandle(handle)
	if err != nil {
		return types.PersonDocument{}, errors.Wrap(ErrDiscoveryFailed, err.Error())
	}

	if cached, ok := c.failures.Get(handle); ok {
		return types.PersonDocument{}, cached
	}

	if c.mc != nil {
		item, err := c.mc.Get(personCachePrefix + handle)
		if err == nil {
			var doc types.PersonDocument
			if err := json.Unmarshal(item.Value, &doc); err == nil {
				return doc, nil
			}
		}
	}

	doc, err := c.discover(ctx, handle)
	if err != nil {
		span.RecordError(err)
		err = errors.Wrap(ErrDiscoveryFailed, err.Error())
		c.failures.Add(handle, err)
		return doc, err
	}

	if c.mc != nil {
		docBytes, err := json.Marshal(doc)
		if err == nil {
			err = c.mc.Set(&memcache.Item{
				Key:        personCachePrefix + handle,
				Value:      docBytes,
				Expiration: int32(c.config.CacheTTLSeconds),
			})
			if err != nil {
				c.logger.Debug("failed to cache person document", "handle", handle, "err", err)
			}
		}
	}

	return doc, nil
}

func (c *Client) discover(ctx context.Context, handle string) (types.PersonDocument, error) {
	_, host, _ := entities.SplitHandle(handle)

	var webfinger types.WebFinger
	target := c.BaseURL(host) + "/.well-known/webfinger?resource=" + url.QueryEscape("acct:"+handle)
	if err := c.getJSON(ctx, target, "application/jrd+json", &webfinger); err != nil {
		return types.PersonDocument{}, err
	}

	var link types.WebFingerLink
	for _, l := range webfinger.Links {
		if l.Rel == relPersonDocument {
			link = l
		}
	}
	if link.Href == "" {
		return types.PersonDocument{}, fmt.Errorf("no person document link for %s", handle)
	}

	var doc types.PersonDocument
	if err := c.getJSON(ctx, link.Href, "application/json", &doc); err != nil {
		return doc, err
	}
	if !strings.EqualFold(doc.Handle, handle) {
		return doc, fmt.Errorf("person document of %s claims handle %s", handle, doc.Handle)
	}
	if doc.GUID == "" || doc.PublicKey == "" {
		return doc, fmt.Errorf("incomplete person document for %s", handle)
	}
	doc.Handle = handle
	return doc, nil
}

// KeyID is the key id this pod signs requests with.
func (c *Client) KeyID() string {
	return c.BaseURL(c.pod.Host) + "/pod#main-key"
}

// PodKey fetches the public key a pod signs its requests with.
func (c *Client) PodKey(ctx context.Context, host string) (*rsa.PublicKey, error) {
	ctx, span := tracer.Start(ctx, "FedClient.PodKey")
	defer span.End()

	if key, ok := c.podKeys.Get(host); ok {
		return key, nil
	}

	var doc types.PodDocument
	if err := c.getJSON(ctx, c.BaseURL(host)+"/pod", "application/json", &doc); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !strings.EqualFold(doc.Host, host) {
		return nil, fmt.Errorf("pod document of %s claims host %s", host, doc.Host)
	}
	key, err := entities.ParsePublicKey(doc.PublicKey)
	if err != nil {
		return nil, err
	}
	c.podKeys.Add(host, key)
	return key, nil
}

// FetchPublic fetches a public entity from the pod of author.
// kind is a parent type such as "Post" or "Poll".
func (c *Client) FetchPublic(ctx context.Context, author, kind, guid string) (entities.Object, error) {
	ctx, span := tracer.Start(ctx, "FedClient.FetchPublic")
	defer span.End()

	_, host, err := entities.SplitHandle(author)
	if err != nil {
		return entities.Object{}, err
	}

	var object entities.Object
	target := c.BaseURL(host) + "/fetch/" + snakeCase(kind) + "/" + url.PathEscape(guid)
	if err := c.getJSON(ctx, target, "application/json", &object); err != nil {
		span.RecordError(err)
		return object, err
	}
	return object, nil
}

// Deliver posts a signed envelope to the public inbox of host.
func (c *Client) Deliver(ctx context.Context, host string, body []byte) error {
	ctx, span := tracer.Start(ctx, "FedClient.Deliver")
	defer span.End()

	inbox := c.InboxURL(host)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.prepare(ctx, req, body); err != nil {
		span.RecordError(err)
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	c.logger.Debug("delivered", "inbox", inbox, "status", resp.StatusCode, "body", string(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("error posting to inbox: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, target, accept string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", accept)
	if err := c.prepare(ctx, req, nil); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return errors.Wrap(ErrNotFound, target)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s: %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// prepare sets the common headers and signs the request with the pod key.
func (c *Client) prepare(ctx context.Context, req *http.Request, body []byte) error {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Host", req.URL.Host)

	if c.key == nil {
		return nil
	}

	headersToSign := []string{httpsig.RequestTarget, "date", "host"}
	if body != nil {
		headersToSign = append(headersToSign, "digest")
	}
	prefs := []httpsig.Algorithm{httpsig.RSA_SHA256}
	signer, _, err := httpsig.NewSigner(prefs, httpsig.DigestSha256, headersToSign, httpsig.Signature, 0)
	if err != nil {
		return err
	}
	return signer.SignRequest(c.key, c.KeyID(), req, body)
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

type leveledSlog struct {
	inner *slog.Logger
}

// retries make individual failures warnings
func (l leveledSlog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Info(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

func (l leveledSlog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}
