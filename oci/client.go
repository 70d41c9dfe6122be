// Package oci plans and executes OCI Distribution Spec operations against
// an upstream registry: tag listing, manifest and index pulls, streaming
// blob transfers and the multi-step publish that appends a distribution
// file to a package version's image index.
package oci

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/pyoci/pyoci/hasher"
	"github.com/pyoci/pyoci/httperr"
	"github.com/pyoci/pyoci/telemetry"
	"github.com/pyoci/pyoci/transport"
)

// Client talks to one registry on behalf of one incoming request.
type Client struct {
	registry  *url.URL
	transport *transport.Transport
	timeout   time.Duration
	logger    telemetry.Logger
}

// NewClient binds a registry base URL to a per-request transport. timeout
// bounds each individual registry call; blob streams are exempt and run on
// the caller's context.
func NewClient(registry *url.URL, t *transport.Transport, timeout time.Duration, logger telemetry.Logger) *Client {
	return &Client{registry: registry, transport: t, timeout: timeout, logger: logger}
}

// callCtx derives the bounded context used for non-streaming calls.
func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func scopePull(repo string) string {
	return fmt.Sprintf("repository:%s:pull", repo)
}

func scopePush(repo string) string {
	return fmt.Sprintf("repository:%s:pull,push", repo)
}

// buildURL joins a /v2/... path onto the registry base. Parameters ending
// up in the path have already been screened for traversal by the path
// parser; this guards the ones that come from registry responses.
func (c *Client) buildURL(format string, params ...string) (*url.URL, error) {
	args := make([]any, 0, len(params))
	for _, p := range params {
		if strings.Contains(p, "..") {
			return nil, httperr.New(http.StatusBadRequest, "invalid reference '%s'", p)
		}
		args = append(args, p)
	}
	ref, err := url.Parse(fmt.Sprintf(format, args...))
	if err != nil {
		return nil, err
	}
	return c.registry.ResolveReference(ref), nil
}

func (c *Client) newRequest(ctx context.Context, method string, u *url.URL, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ListTags returns every tag of the repository, following the Link headers
// the registry uses for pagination.
func (c *Client) ListTags(ctx context.Context, repo string) ([]string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	u, err := c.buildURL("/v2/%s/tags/list", repo)
	if err != nil {
		return nil, err
	}

	var tags []string
	for {
		req, err := c.newRequest(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.transport.Do(req, scopePull(repo))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			return nil, httperr.FromResponse(resp)
		}

		var list TagList
		err = json.NewDecoder(resp.Body).Decode(&list)
		resp.Body.Close()
		if err != nil {
			return nil, httperr.New(http.StatusBadGateway, "registry returned an invalid tag list")
		}
		tags = append(tags, list.Tags...)

		link := resp.Header.Get("Link")
		if link == "" {
			return tags, nil
		}
		next, err := parseLink(link)
		if err != nil {
			return nil, err
		}
		ref, err := url.Parse(next)
		if err != nil {
			return nil, httperr.New(http.StatusBadGateway, "registry provided an invalid Link target")
		}
		u = c.registry.ResolveReference(ref)
	}
}

// parseLink extracts the target of a `Link: <target>; rel="next"` header.
func parseLink(header string) (string, error) {
	parts := strings.Split(header, ";")
	target := strings.TrimSpace(parts[0])
	if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
		return "", httperr.New(http.StatusBadGateway, "registry provided an invalid Link target")
	}
	for _, param := range parts[1:] {
		key, value, ok := strings.Cut(param, "=")
		if ok && strings.TrimSpace(key) == "rel" && strings.TrimSpace(value) == `"next"` {
			return strings.Trim(target, "<>"), nil
		}
	}
	return "", httperr.New(http.StatusBadGateway, "registry provided an invalid Link rel")
}

// PullIndex fetches the image index stored under tag. A missing tag
// returns a 404 error so callers can translate it into "no such version".
func (c *Client) PullIndex(ctx context.Context, repo, tag string) (*v1.Index, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	u, err := c.buildURL("/v2/%s/manifests/%s", repo, tag)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", v1.MediaTypeImageIndex)

	resp, err := c.transport.Do(req, scopePull(repo))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, httperr.New(http.StatusNotFound, "version '%s' does not exist", tag)
	default:
		return nil, httperr.FromResponse(resp)
	}

	var index v1.Index
	if err := json.NewDecoder(resp.Body).Decode(&index); err != nil {
		return nil, httperr.New(http.StatusBadGateway, "registry returned an invalid image index")
	}
	if index.MediaType != v1.MediaTypeImageIndex {
		return nil, httperr.New(http.StatusBadGateway, "expected an image index for '%s', got '%s'", tag, index.MediaType)
	}
	return &index, nil
}

// PullManifest fetches a child image manifest by digest.
func (c *Client) PullManifest(ctx context.Context, repo, reference string) (*v1.Manifest, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	u, err := c.buildURL("/v2/%s/manifests/%s", repo, reference)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", v1.MediaTypeImageManifest)

	resp, err := c.transport.Do(req, scopePull(repo))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, httperr.New(http.StatusNotFound, "manifest '%s' does not exist", reference)
	default:
		return nil, httperr.FromResponse(resp)
	}

	var manifest v1.Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, httperr.New(http.StatusBadGateway, "registry returned an invalid image manifest")
	}
	return &manifest, nil
}

// PullBlob streams a blob. The caller owns the response body; the bytes
// are forwarded to the downloader verbatim.
func (c *Client) PullBlob(ctx context.Context, repo string, dgst digest.Digest) (*http.Response, error) {
	u, err := c.buildURL("/v2/%s/blobs/%s", repo, dgst.String())
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.Do(req, scopePull(repo))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, httperr.FromResponse(resp)
	}
	return resp, nil
}

// HeadBlob reports whether the repository already stores a blob.
func (c *Client) HeadBlob(ctx context.Context, repo string, dgst digest.Digest) (bool, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	u, err := c.buildURL("/v2/%s/blobs/%s", repo, dgst.String())
	if err != nil {
		return false, err
	}
	req, err := c.newRequest(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.transport.Do(req, scopePush(repo))
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, httperr.FromResponse(resp)
	}
}

// PushBlobStream uploads a blob with the POST-PATCH-PUT session, hashing
// the bytes while they flow to the registry. When expectedHex is set the
// accumulated digest must match it, otherwise the session is abandoned
// before the final PUT and the upload fails with 400.
//
// size may be -1 when the length is not known up front.
func (c *Client) PushBlobStream(ctx context.Context, repo string, r io.Reader, size int64, expectedHex string) (digest.Digest, int64, error) {
	u, err := c.buildURL("/v2/%s/blobs/uploads/", repo)
	if err != nil {
		return "", 0, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.transport.Do(req, scopePush(repo))
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode != http.StatusAccepted {
		defer resp.Body.Close()
		return "", 0, httperr.FromResponse(resp)
	}
	resp.Body.Close()
	location, err := c.uploadLocation(resp)
	if err != nil {
		return "", 0, err
	}

	h := hasher.NewReader(r)
	patch, err := c.newRequest(ctx, http.MethodPatch, location, h)
	if err != nil {
		return "", 0, err
	}
	patch.Header.Set("Content-Type", "application/octet-stream")
	if size >= 0 {
		patch.ContentLength = size
		if size > 0 {
			patch.Header.Set("Content-Range", fmt.Sprintf("0-%d", size-1))
		}
	}

	resp, err = c.transport.Do(patch, scopePush(repo))
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		defer resp.Body.Close()
		return "", 0, httperr.FromResponse(resp)
	}
	resp.Body.Close()
	if next, err := c.uploadLocation(resp); err == nil {
		location = next
	}

	dgst := h.Digest()
	if expectedHex != "" && h.Digest().Encoded() != expectedHex {
		return "", 0, httperr.New(
			http.StatusBadRequest,
			"provided sha256_digest does not match the package content",
		)
	}

	q := location.Query()
	q.Set("digest", dgst.String())
	location.RawQuery = q.Encode()
	put, err := c.newRequest(ctx, http.MethodPut, location, nil)
	if err != nil {
		return "", 0, err
	}
	put.Header.Set("Content-Type", "application/octet-stream")

	resp, err = c.transport.Do(put, scopePush(repo))
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", 0, httperr.FromResponse(resp)
	}
	return dgst, h.Size(), nil
}

// PushBlob uploads a small in-memory blob unless the registry already has
// it. Used for the empty config.
func (c *Client) PushBlob(ctx context.Context, repo string, data []byte) error {
	dgst := hasher.FromBytes(data)
	exists, err := c.HeadBlob(ctx, repo, dgst)
	if err != nil || exists {
		return err
	}
	_, _, err = c.PushBlobStream(ctx, repo, bytes.NewReader(data), int64(len(data)), "")
	return err
}

// PushManifest PUTs a manifest or index document under reference, which is
// a digest for child manifests and the version tag for indexes.
func (c *Client) PushManifest(ctx context.Context, repo, reference, mediaType string, body []byte) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	u, err := c.buildURL("/v2/%s/manifests/%s", repo, reference)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mediaType)

	resp, err := c.transport.Do(req, scopePush(repo))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return httperr.FromResponse(resp)
	}
	return nil
}

// DeleteManifest forwards a manifest delete. reference is a tag or digest.
func (c *Client) DeleteManifest(ctx context.Context, repo, reference string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	u, err := c.buildURL("/v2/%s/manifests/%s", repo, reference)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.transport.Do(req, scopePush(repo))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httperr.FromResponse(resp)
	}
	return nil
}

// uploadLocation resolves the Location header of a blob upload step.
func (c *Client) uploadLocation(resp *http.Response) (*url.URL, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, httperr.New(http.StatusBadGateway, "registry response did not contain a Location header")
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, httperr.New(http.StatusBadGateway, "registry provided an invalid Location header")
	}
	return c.registry.ResolveReference(ref), nil
}
