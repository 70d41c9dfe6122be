package oci

import (
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// ArtifactType marks image indexes and manifests produced by this service.
// Tags carrying any other artifact type belong to someone else and are left
// alone.
const ArtifactType = "application/pyoci.package.v1"

// Annotation keys used on manifest descriptors inside an image index. The
// blob digest is denormalized onto the descriptor so a listing never has to
// pull the child manifests.
const (
	AnnotationSHA256      = "com.pyoci.sha256_digest"
	AnnotationProjectURLs = "com.pyoci.project_urls"
)

// TagList is the response body of `GET /v2/<name>/tags/list`.
type TagList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// FileEntry describes one distribution file found in an image index, as
// needed to render an index listing.
type FileEntry struct {
	Tag         string
	Arch        string
	SHA256      string
	ProjectURLs map[string]string
}

// emptyConfig is the canonical empty JSON blob every image manifest points
// at as its config.
var emptyConfig = v1.DescriptorEmptyJSON

// emptyConfigData is the blob content backing emptyConfig.
var emptyConfigData = []byte("{}")
