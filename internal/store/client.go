// Package store reads measurement collections from the realtime database
// over its REST API.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/breatheroute/sensorbridge/internal/credential"
	"github.com/breatheroute/sensorbridge/internal/measurement"
	"github.com/breatheroute/sensorbridge/internal/provider/resilience"
	"github.com/breatheroute/sensorbridge/internal/syncerr"
)

const (
	// DefaultCollectionPath is where the sensor node writes its records.
	DefaultCollectionPath = "/measurements"

	// DefaultTimeout bounds a single HTTP call to the store.
	DefaultTimeout = 15 * time.Second

	maxErrorBody = 512
)

// ErrUnexpectedStatus is returned when the store answers with a non-200 status.
var ErrUnexpectedStatus = errors.New("unexpected status from store")

// Config holds configuration for connecting to the store.
type Config struct {
	// Address is the database URL, e.g. https://project-default-rtdb.firebaseio.com.
	Address string

	// CollectionPath is the default path fetched by Fetch.
	CollectionPath string

	// CredentialPath points at the service-account key file.
	CredentialPath string

	// Timeout bounds a single HTTP call (default: DefaultTimeout).
	Timeout time.Duration

	// MaxRetries is the number of retries for transient failures within
	// one call (default: 2).
	MaxRetries uint64

	// BreakerInterval clears the circuit breaker's failure counts while it
	// is closed (default: resilience.DefaultCountInterval).
	BreakerInterval time.Duration

	// TokenSource overrides the credential file.
	TokenSource oauth2.TokenSource

	// Transport overrides the HTTP transport.
	Transport http.RoundTripper

	Logger zerolog.Logger
}

// Client is an authenticated handle to the store.
type Client struct {
	baseURL        *url.URL
	collectionPath string
	tokens         oauth2.TokenSource
	http           *resilience.Client
	logger         zerolog.Logger
}

// Connect authenticates against the store and verifies it is reachable.
//
// A bad address or unusable credential is a configuration error. A failed
// token exchange or probe is a connection error. ctx must outlive the
// client: it bounds token refreshes.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	baseURL, err := parseAddress(cfg.Address)
	if err != nil {
		return nil, syncerr.WrapWithContext(syncerr.KindConfiguration, "connect", err, map[string]any{
			"address": cfg.Address,
		})
	}

	if cfg.CollectionPath == "" {
		cfg.CollectionPath = DefaultCollectionPath
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}

	tokens := cfg.TokenSource
	if tokens == nil {
		account, err := credential.Load(cfg.CredentialPath)
		if err != nil {
			return nil, syncerr.WrapWithContext(syncerr.KindConfiguration, "load credential", err, map[string]any{
				"credential_path": cfg.CredentialPath,
			})
		}
		tokens = credential.NewTokenSource(ctx, credential.TokenSourceConfig{
			Account:    account,
			HTTPClient: &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		})
	}

	clientCfg := resilience.DefaultClientConfig("store")
	clientCfg.Timeout = cfg.Timeout
	clientCfg.MaxRetries = cfg.MaxRetries
	clientCfg.InitialInterval = 200 * time.Millisecond
	clientCfg.MaxInterval = 2 * time.Second
	clientCfg.Transport = cfg.Transport
	clientCfg.CircuitBreaker.OnStateChange = resilience.LogStateChange(cfg.Logger)
	if cfg.BreakerInterval > 0 {
		clientCfg.CircuitBreaker.Interval = cfg.BreakerInterval
	}

	httpClient := resilience.NewClient(clientCfg)

	c := &Client{
		baseURL:        baseURL,
		collectionPath: cfg.CollectionPath,
		tokens:         tokens,
		http:           httpClient,
		logger:         cfg.Logger,
	}

	if _, err := tokens.Token(); err != nil {
		return nil, syncerr.WrapWithContext(syncerr.KindConnection, "authenticate", err, map[string]any{
			"address": baseURL.String(),
		})
	}

	if err := c.probe(ctx); err != nil {
		return nil, syncerr.WrapWithContext(syncerr.KindConnection, "probe store", err, map[string]any{
			"address": baseURL.String(),
			"path":    c.collectionPath,
		})
	}

	c.logger.Info().
		Str("address", baseURL.String()).
		Str("collection_path", c.collectionPath).
		Msg("connected to store")

	return c, nil
}

// CollectionPath returns the configured collection path.
func (c *Client) CollectionPath() string {
	return c.collectionPath
}

// Health returns the health of the store connection.
func (c *Client) Health() resilience.Health {
	return c.http.Health()
}

// Fetch reads the full contents of path as a snapshot. An empty path means
// the configured collection path. Every failure is a fetch error.
func (c *Client) Fetch(ctx context.Context, path string) (*measurement.Snapshot, error) {
	if path == "" {
		path = c.collectionPath
	}

	snap, err := c.fetch(ctx, path)
	if err != nil {
		return nil, syncerr.WrapWithContext(syncerr.KindFetch, "fetch snapshot", err, map[string]any{
			"path": path,
		})
	}
	return snap, nil
}

func (c *Client) fetch(ctx context.Context, path string) (*measurement.Snapshot, error) {
	resp, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	snap := measurement.NewSnapshot(path)
	if err := decodeSnapshot(resp.Body, snap); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	snap.FetchedAt = time.Now()

	return snap, nil
}

// probe performs a shallow read of the collection path, which returns keys
// only and is cheap regardless of collection size.
func (c *Client) probe(ctx context.Context) error {
	resp, err := c.get(ctx, c.collectionPath, url.Values{"shallow": {"true"}})
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// get issues an authorized GET and returns the response only for status 200.
func (c *Client) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("obtain access token: %w", err)
	}

	u := c.resourceURL(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return resp, nil
}

// resourceURL maps a collection path to its REST resource: {address}/{path}.json.
func (c *Client) resourceURL(path string) *url.URL {
	u := *c.baseURL
	trimmed := strings.Trim(path, "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + trimmed + ".json"
	return &u
}

func parseAddress(address string) (*url.URL, error) {
	if address == "" {
		return nil, errors.New("store address is required")
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid store address: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid store address %q: scheme must be http or https", address)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid store address %q: missing host", address)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
