package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pyoci/pyoci/httperr"
	"github.com/pyoci/pyoci/telemetry"
)

func testPool() *Pool {
	return NewPool(30*time.Second, telemetry.ZLogger("json", "error"))
}

func get(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func TestDoNoAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer server.Close()

	resp, err := testPool().WithAuth("").Do(get(t, server.URL+"/v2/"), "repository:foo/bar:pull")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDoBearerChallenge(t *testing.T) {
	var tokenQuery, tokenAuth string
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenQuery = r.URL.RawQuery
		tokenAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"token":"mytoken"}`))
	})
	mux.HandleFunc("/v2/foo/bar/tags/list", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer mytoken" {
			w.Header().Set(
				"WWW-Authenticate",
				`Bearer realm="`+server.URL+`/token",service="registry.example"`,
			)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"name":"foo/bar","tags":[]}`))
	})

	transport := testPool().WithAuth("Basic dXNlcjpwYXNz")
	resp, err := transport.Do(get(t, server.URL+"/v2/foo/bar/tags/list"), "repository:foo/bar:pull")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	// The challenge had no scope, so the declared scope is substituted.
	require.Contains(t, tokenQuery, "scope=repository%3Afoo%2Fbar%3Apull")
	require.Contains(t, tokenQuery, "service=registry.example")
	// The caller's Basic credentials travel to the token endpoint as-is.
	require.Equal(t, "Basic dXNlcjpwYXNz", tokenAuth)
}

func TestDoChallengeScopeWins(t *testing.T) {
	var tokenQuery string
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenQuery = r.URL.RawQuery
		w.Write([]byte(`{"access_token":"tok"}`))
	})
	mux.HandleFunc("/v2/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.Header().Set(
				"WWW-Authenticate",
				`Bearer realm="`+server.URL+`/token",service="svc",scope="repository:other:pull"`,
			)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	resp, err := testPool().WithAuth("").Do(get(t, server.URL+"/v2/"), "repository:foo:pull")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, tokenQuery, "scope=repository%3Aother%3Apull")
}

func TestDoTokenCached(t *testing.T) {
	var tokenCalls int
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		w.Write([]byte(`{"token":"tok","expires_in":300}`))
	})
	mux.HandleFunc("/v2/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="`+server.URL+`/token",service="svc"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	pool := testPool()
	transport := pool.WithAuth("Basic abc")
	scope := "repository:foo:pull"

	for i := 0; i < 3; i++ {
		resp, err := transport.Do(get(t, server.URL+"/v2/"), scope)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.Equal(t, 1, tokenCalls)

	// Different credentials must not reuse the cached token.
	resp, err := pool.WithAuth("Basic other").Do(get(t, server.URL+"/v2/"), scope)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 2, tokenCalls)
}

func TestDoBasicChallenge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Basic creds" {
			w.Header().Set("WWW-Authenticate", `Basic realm="registry"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := testPool().WithAuth("Basic creds").Do(get(t, server.URL+"/v2/"), "repository:foo:pull")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDoBasicChallengeWithoutCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Basic realm="registry"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	resp, err := testPool().WithAuth("").Do(get(t, server.URL+"/v2/"), "repository:foo:pull")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDoTokenEndpointRejects(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/v2/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+server.URL+`/token",service="svc"`)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := testPool().WithAuth("Basic abc").Do(get(t, server.URL+"/v2/"), "repository:foo:pull")
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, httperr.StatusOf(err))
}

func TestParseChallenge(t *testing.T) {
	c := parseChallenge(`Bearer realm="https://auth.example/token",service="registry.example",scope="repository:foo:pull,push"`)
	require.NotNil(t, c)
	require.Equal(t, "bearer", c.scheme)
	require.Equal(t, "https://auth.example/token", c.params["realm"])
	require.Equal(t, "registry.example", c.params["service"])
	require.Equal(t, "repository:foo:pull,push", c.params["scope"])

	c = parseChallenge(`Basic realm="registry"`)
	require.NotNil(t, c)
	require.Equal(t, "basic", c.scheme)

	require.Nil(t, parseChallenge(""))
}
