package oci

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/opencontainers/image-spec/specs-go"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/errgroup"

	"github.com/pyoci/pyoci/hasher"
	"github.com/pyoci/pyoci/httperr"
)

// indexConcurrency caps the parallel per-tag index pulls of a listing.
const indexConcurrency = 8

// PublishRequest carries everything needed to add one distribution file to
// a package version.
type PublishRequest struct {
	Repository string
	Tag        string
	Arch       string

	// Content streams the package bytes; ContentLength is -1 when unknown.
	Content       io.Reader
	ContentLength int64

	// ExpectedSHA256 is the hex digest declared by the uploader, verified
	// against the bytes while they stream to the registry.
	ExpectedSHA256 string

	// Labels become annotations on the image manifest.
	Labels map[string]string
	// ProjectURLs are copied onto the index entry for the listing.
	ProjectURLs map[string]string
}

// Publish runs the upload state machine for one file:
//
//	(1) ensure the empty config blob exists
//	(2) stream the package blob, hashing in flight
//	(3) put the image manifest by digest
//	(4) pull the existing image index for the version, if any
//	(5) refuse a duplicate architecture
//	(6) append the new entry
//	(7) put the image index under the version tag
//
// Failures after (2) leave orphan blobs behind; the registry's garbage
// collector owns those.
func (c *Client) Publish(ctx context.Context, req PublishRequest) error {
	if err := c.PushBlob(ctx, req.Repository, emptyConfigData); err != nil {
		return err
	}

	dgst, size, err := c.PushBlobStream(ctx, req.Repository, req.Content, req.ContentLength, req.ExpectedSHA256)
	if err != nil {
		return err
	}

	created := time.Now().UTC().Format(time.RFC3339)

	annotations := map[string]string{v1.AnnotationCreated: created}
	for k, v := range req.Labels {
		annotations[k] = v
	}
	manifest := v1.Manifest{
		Versioned:    specs.Versioned{SchemaVersion: 2},
		MediaType:    v1.MediaTypeImageManifest,
		ArtifactType: ArtifactType,
		Config:       emptyConfig,
		Layers: []v1.Descriptor{{
			MediaType: ArtifactType,
			Digest:    dgst,
			Size:      size,
		}},
		Annotations: annotations,
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	manifestDigest := hasher.FromBytes(manifestJSON)
	if err := c.PushManifest(ctx, req.Repository, manifestDigest.String(), v1.MediaTypeImageManifest, manifestJSON); err != nil {
		return err
	}

	projectURLs, err := json.Marshal(req.ProjectURLs)
	if err != nil {
		return err
	}
	entry := v1.Descriptor{
		MediaType: v1.MediaTypeImageManifest,
		Digest:    manifestDigest,
		Size:      int64(len(manifestJSON)),
		Platform: &v1.Platform{
			Architecture: req.Arch,
			OS:           "any",
		},
		Annotations: map[string]string{
			v1.AnnotationCreated:  created,
			AnnotationSHA256:      dgst.Encoded(),
			AnnotationProjectURLs: string(projectURLs),
		},
	}

	index, err := c.indexForUpdate(ctx, req.Repository, req.Tag)
	if err != nil {
		return err
	}
	if index == nil {
		index = &v1.Index{
			Versioned:    specs.Versioned{SchemaVersion: 2},
			MediaType:    v1.MediaTypeImageIndex,
			ArtifactType: ArtifactType,
			Annotations:  map[string]string{v1.AnnotationCreated: created},
		}
	}
	for _, existing := range index.Manifests {
		if existing.Platform != nil && existing.Platform.Architecture == req.Arch && existing.Platform.OS == "any" {
			return httperr.New(
				http.StatusConflict,
				"Platform '%s' already exists for version '%s'", req.Arch, req.Tag,
			)
		}
	}
	index.Manifests = append(index.Manifests, entry)

	indexJSON, err := json.Marshal(index)
	if err != nil {
		return err
	}
	return c.PushManifest(ctx, req.Repository, req.Tag, v1.MediaTypeImageIndex, indexJSON)
}

// indexForUpdate pulls the index a publish will append to. A missing tag
// yields nil; a tag occupied by a foreign artifact type is a conflict, the
// version cannot be written without clobbering someone else's content.
func (c *Client) indexForUpdate(ctx context.Context, repo, tag string) (*v1.Index, error) {
	index, err := c.PullIndex(ctx, repo, tag)
	if err != nil {
		if httperr.StatusOf(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if index.ArtifactType != ArtifactType {
		return nil, httperr.New(
			http.StatusConflict,
			"tag '%s' exists but is not a python package", tag,
		)
	}
	return index, nil
}

// PackageFiles collects the distribution files of every version of a
// package, newest tags first, at most maxTags versions. Tags whose index
// carries a foreign artifact type are ignored.
func (c *Client) PackageFiles(ctx context.Context, repo string, maxTags int) ([]FileEntry, error) {
	tags, err := c.ListTags(ctx, repo)
	if err != nil {
		return nil, err
	}
	// The registry reports tags in lexical order; walk them newest-last-in
	// first, the way installers expect recent versions up top.
	sort.Strings(tags)
	reverse(tags)
	if maxTags > 0 && len(tags) > maxTags {
		c.logger.Info().
			Int("tags", len(tags)).
			Int("limit", maxTags).
			Msg("tag list truncated for listing")
		tags = tags[:maxTags]
	}

	files := make([][]FileEntry, len(tags))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(indexConcurrency)
	for i, tag := range tags {
		g.Go(func() error {
			entries, err := c.fileEntries(gctx, repo, tag)
			if err != nil {
				return err
			}
			files[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var flat []FileEntry
	for _, entries := range files {
		flat = append(flat, entries...)
	}
	return flat, nil
}

// fileEntries renders one tag's index into file entries. Foreign or
// non-index tags produce no entries.
func (c *Client) fileEntries(ctx context.Context, repo, tag string) ([]FileEntry, error) {
	index, err := c.PullIndex(ctx, repo, tag)
	if err != nil {
		if status := httperr.StatusOf(err); status == http.StatusNotFound || status == http.StatusBadGateway {
			return nil, nil
		}
		return nil, err
	}
	if index.ArtifactType != ArtifactType {
		return nil, nil
	}

	var entries []FileEntry
	for _, m := range index.Manifests {
		if m.Platform == nil || m.Platform.Architecture == "" {
			continue
		}
		entry := FileEntry{Tag: tag, Arch: m.Platform.Architecture}
		if m.Annotations != nil {
			entry.SHA256 = m.Annotations[AnnotationSHA256]
			if urls := m.Annotations[AnnotationProjectURLs]; urls != "" {
				// Ignore unparseable annotations, they only feed metadata.
				_ = json.Unmarshal([]byte(urls), &entry.ProjectURLs)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Download locates the file with the requested architecture under tag and
// streams its package blob. The returned response body is the blob.
func (c *Client) Download(ctx context.Context, repo, tag, arch string) (*http.Response, error) {
	index, err := c.PullIndex(ctx, repo, tag)
	if err != nil {
		return nil, err
	}
	if index.ArtifactType != ArtifactType {
		return nil, httperr.New(http.StatusNotFound, "version '%s' does not exist", tag)
	}

	var entry *v1.Descriptor
	for i, m := range index.Manifests {
		if m.Platform != nil && m.Platform.Architecture == arch {
			entry = &index.Manifests[i]
			break
		}
	}
	if entry == nil {
		return nil, httperr.New(http.StatusNotFound, "requested architecture '%s' not available", arch)
	}

	manifest, err := c.PullManifest(ctx, repo, entry.Digest.String())
	if err != nil {
		return nil, err
	}
	if len(manifest.Layers) != 1 {
		return nil, httperr.New(
			http.StatusBadGateway,
			"image manifest defines %d layers, expected exactly one", len(manifest.Layers),
		)
	}
	return c.PullBlob(ctx, repo, manifest.Layers[0].Digest)
}

// DeleteVersion removes a version: every child manifest referenced by its
// index, then the index tag itself.
func (c *Client) DeleteVersion(ctx context.Context, repo, tag string) error {
	index, err := c.PullIndex(ctx, repo, tag)
	if err != nil {
		return err
	}
	if index.ArtifactType != ArtifactType {
		return httperr.New(http.StatusConflict, "tag '%s' exists but is not a python package", tag)
	}

	for _, m := range index.Manifests {
		if err := c.DeleteManifest(ctx, repo, m.Digest.String()); err != nil {
			return err
		}
	}
	return c.DeleteManifest(ctx, repo, tag)
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
