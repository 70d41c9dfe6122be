// Package transport performs HTTP requests against OCI registries, driving
// the token-authentication handshake the docker ecosystem uses: send,
// receive a WWW-Authenticate challenge, trade the client's Basic
// credentials for a bearer token at the indicated realm, replay.
package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pyoci/pyoci/httperr"
	"github.com/pyoci/pyoci/telemetry"
)

const userAgent = "pyoci"

// defaultTokenTTL applies when the token endpoint does not report
// expires_in.
const defaultTokenTTL = 60 * time.Second

// Pool owns the long-lived HTTP client shared by every request, plus a
// small cache of bearer tokens keyed by registry host, scope and a
// fingerprint of the credentials that earned them.
type Pool struct {
	client  *http.Client
	logger  telemetry.Logger
	timeout time.Duration

	mu     sync.Mutex
	tokens map[tokenKey]tokenEntry
}

type tokenKey struct {
	host        string
	scope       string
	credentials string
}

type tokenEntry struct {
	token   string
	expires time.Time
}

// NewPool builds the shared transport. TLS verification stays on; redirects
// are followed for reads only, registries use Location headers on writes as
// explicit step pointers rather than redirects.
func NewPool(timeout time.Duration, logger telemetry.Logger) *Pool {
	return &Pool{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if req.Method == http.MethodGet || req.Method == http.MethodHead {
					return nil
				}
				return http.ErrUseLastResponse
			},
		},
		logger:  logger,
		timeout: timeout,
		tokens:  map[tokenKey]tokenEntry{},
	}
}

// Timeout is the per-call deadline registry operations should apply. Blob
// streams deliberately run on the request's own context instead, a fixed
// deadline would cut off large transfers.
func (p *Pool) Timeout() time.Duration {
	return p.timeout
}

// WithAuth binds the pool to one request's credentials. authorization is
// the incoming Authorization header verbatim (usually `Basic <b64>`) and is
// forwarded opaquely; it is never stored beyond the request and never
// logged.
func (p *Pool) WithAuth(authorization string) *Transport {
	t := &Transport{pool: p, basic: authorization}
	if authorization != "" {
		sum := sha256.Sum256([]byte(authorization))
		t.fingerprint = hex.EncodeToString(sum[:8])
	}
	return t
}

// Transport performs requests on behalf of a single client request.
type Transport struct {
	pool        *Pool
	basic       string
	fingerprint string
}

// Do sends req, transparently acquiring a bearer token when the registry
// challenges. scope is the access the caller needs for the operation, e.g.
// `repository:library/alpine:pull`; it is substituted into challenges that
// come back without one.
func (t *Transport) Do(req *http.Request, scope string) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)

	key := tokenKey{host: req.URL.Host, scope: scope, credentials: t.fingerprint}
	if token, ok := t.pool.cachedToken(key); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.send(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// The cached token, if any, just got rejected.
	t.pool.dropToken(key)

	c := parseChallenge(resp.Header.Get("WWW-Authenticate"))
	if c == nil {
		return resp, nil
	}

	switch c.scheme {
	case "bearer":
		token, err := t.fetchToken(req, c, scope)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		t.pool.storeToken(key, token)

		replay, err := rewind(req)
		if err != nil {
			return resp, nil
		}
		resp.Body.Close()
		replay.Header.Set("Authorization", "Bearer "+token.bearer())
		return t.send(replay)
	case "basic":
		if t.basic == "" {
			return resp, nil
		}
		replay, err := rewind(req)
		if err != nil {
			return resp, nil
		}
		resp.Body.Close()
		replay.Header.Set("Authorization", t.basic)
		return t.send(replay)
	default:
		return resp, nil
	}
}

// fetchToken trades the client's Basic credentials for a bearer token at
// the challenge's realm. A challenge without a scope (registry-1.docker.io
// does this) gets the scope the caller declared.
func (t *Transport) fetchToken(req *http.Request, c *challenge, scope string) (*tokenResponse, error) {
	realm := c.params["realm"]
	if realm == "" {
		return nil, httperr.New(http.StatusBadGateway, "registry challenge is missing a realm")
	}
	u, err := url.Parse(realm)
	if err != nil {
		return nil, httperr.New(http.StatusBadGateway, "registry challenge has an invalid realm")
	}

	if c.params["scope"] != "" {
		scope = c.params["scope"]
	}
	q := u.Query()
	q.Set("scope", scope)
	if service := c.params["service"]; service != "" {
		q.Set("service", service)
	}
	u.RawQuery = q.Encode()

	tokenReq, err := http.NewRequestWithContext(req.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	tokenReq.Header.Set("User-Agent", userAgent)
	if t.basic != "" {
		tokenReq.Header.Set("Authorization", t.basic)
	}

	resp, err := t.send(tokenReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httperr.New(http.StatusUnauthorized, "failed to authenticate with registry %s", req.URL.Host)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, httperr.New(http.StatusBadGateway, "invalid token response from %s", u.Host)
	}
	if token.bearer() == "" {
		return nil, httperr.New(http.StatusBadGateway, "no token in response from %s", u.Host)
	}
	return &token, nil
}

func (t *Transport) send(req *http.Request) (*http.Response, error) {
	resp, err := t.pool.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request %s %s failed: %w", req.Method, redact(req.URL), err)
	}
	t.pool.logger.Debug().
		Str("method", req.Method).
		Str("url", redact(req.URL)).
		Int("status", resp.StatusCode).
		Str("type", "subrequest").
		Send()
	return resp, nil
}

// rewind prepares req for a second send. Requests without a body, or with a
// rewindable one, can be replayed; a half-consumed stream cannot.
func rewind(req *http.Request) (*http.Request, error) {
	replay := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return replay, nil
	}
	if req.GetBody == nil {
		return nil, io.ErrNoProgress
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	replay.Body = body
	return replay, nil
}

func redact(u *url.URL) string {
	c := *u
	c.User = nil
	return c.String()
}

func (p *Pool) cachedToken(key tokenKey) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.tokens[key]
	if !ok || time.Now().After(entry.expires) {
		delete(p.tokens, key)
		return "", false
	}
	return entry.token, true
}

func (p *Pool) storeToken(key tokenKey, token *tokenResponse) {
	ttl := defaultTokenTTL
	if token.ExpiresIn > 0 {
		ttl = time.Duration(token.ExpiresIn) * time.Second
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[key] = tokenEntry{token: token.bearer(), expires: time.Now().Add(ttl)}
}

func (p *Pool) dropToken(key tokenKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, key)
}
