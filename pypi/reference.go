package pypi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/pyoci/pyoci/httperr"
)

// Reference locates a package on an upstream OCI registry as addressed by a
// PyPI-facing URL path: `/<registry>/<ns1>/.../<nsK>/<package>/<trailer>?`.
// The registry segment may be URL-encoded and may carry a scheme; the
// namespace may span multiple path segments.
type Reference struct {
	Registry  string
	Namespace string
	Name      string
	Trailer   string
}

// ParsePackagePath parses a path addressing a single package, with an
// optional trailer (a distribution filename or the literal "json"); any
// other last segment is taken as the package name. A trailing slash leaves
// the trailer empty.
func ParsePackagePath(path string) (Reference, error) {
	segments, err := splitPath(path)
	if err != nil {
		return Reference{}, err
	}
	trailingSlash := segments[len(segments)-1] == ""
	if trailingSlash {
		segments = segments[:len(segments)-1]
	}
	if len(segments) < 3 {
		return Reference{}, httperr.New(http.StatusNotFound, "invalid package path '%s'", path)
	}

	ref := Reference{Registry: segments[0]}

	last := segments[len(segments)-1]
	switch {
	case last == "json" || isDistFilename(last):
		// Trailing slashes are only tolerated on the listing route.
		if len(segments) < 4 || trailingSlash {
			return Reference{}, httperr.New(http.StatusNotFound, "invalid package path '%s'", path)
		}
		ref.Trailer = last
		ref.Name = segments[len(segments)-2]
		ref.Namespace = strings.Join(segments[1:len(segments)-2], "/")
	default:
		ref.Name = last
		ref.Namespace = strings.Join(segments[1:len(segments)-1], "/")
	}

	return ref, nil
}

// ParseVersionPath parses a DELETE path: the trailer is a mandatory
// version. Trailing slashes are not tolerated here.
func ParseVersionPath(path string) (Reference, error) {
	segments, err := splitPath(path)
	if err != nil {
		return Reference{}, err
	}
	if len(segments) < 4 || segments[len(segments)-1] == "" {
		return Reference{}, httperr.New(http.StatusNotFound, "invalid package version path '%s'", path)
	}

	return Reference{
		Registry:  segments[0],
		Namespace: strings.Join(segments[1:len(segments)-2], "/"),
		Name:      segments[len(segments)-2],
		Trailer:   segments[len(segments)-1],
	}, nil
}

// ParseNamespacePath parses an upload path: `/<registry>/<ns1>/.../<nsK>/`.
// The package is identified by the upload form, not the path.
func ParseNamespacePath(path string) (Reference, error) {
	segments, err := splitPath(path)
	if err != nil {
		return Reference{}, err
	}
	if segments[len(segments)-1] == "" {
		segments = segments[:len(segments)-1]
	}
	if len(segments) < 2 {
		return Reference{}, httperr.New(http.StatusNotFound, "invalid namespace path '%s'", path)
	}

	return Reference{
		Registry:  segments[0],
		Namespace: strings.Join(segments[1:], "/"),
	}, nil
}

func splitPath(path string) ([]string, error) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return nil, httperr.New(http.StatusNotFound, "empty path")
	}
	segments := strings.Split(trimmed, "/")
	for _, segment := range segments {
		// Refuse anything that could traverse into another repository once
		// joined into a registry URL.
		if strings.Contains(segment, "..") {
			return nil, httperr.New(http.StatusBadRequest, "invalid path segment '%s'", segment)
		}
	}
	return segments, nil
}

func isDistFilename(s string) bool {
	return strings.HasSuffix(s, sdistSuffix) || strings.HasSuffix(s, wheelSuffix)
}

// RegistryURL resolves the registry path segment into a base URL. The
// segment is URL-decoded first so an `http://` scheme can be smuggled
// through as `http%3A%2F%2F`; without a scheme https is assumed.
func (r Reference) RegistryURL() (*url.URL, error) {
	decoded, err := url.PathUnescape(r.Registry)
	if err != nil {
		return nil, httperr.New(http.StatusBadRequest, "invalid registry '%s'", r.Registry)
	}
	if !strings.HasPrefix(decoded, "http://") && !strings.HasPrefix(decoded, "https://") {
		decoded = "https://" + decoded
	}
	u, err := url.Parse(decoded)
	if err != nil || u.Host == "" {
		return nil, httperr.New(http.StatusBadRequest, "invalid registry '%s'", r.Registry)
	}
	u.Path = ""
	u.RawQuery = ""
	return u, nil
}

// Repository returns the OCI repository path for the package, using the
// PEP 503 normalized name so uploads and downloads agree on one spelling.
func (r Reference) Repository() string {
	return r.Namespace + "/" + Normalize(r.Name)
}

// RepositoryFor is Repository for a name that did not come from the URL,
// e.g. the `name` field of an upload form.
func (r Reference) RepositoryFor(name string) string {
	return r.Namespace + "/" + Normalize(name)
}

// EncodedRegistry renders the registry segment the way it is embedded in
// URLs generated by the index: the implied https scheme is dropped, any
// other scheme stays and the whole segment is percent-encoded.
func (r Reference) EncodedRegistry() string {
	decoded, err := url.PathUnescape(r.Registry)
	if err != nil {
		decoded = r.Registry
	}
	decoded = strings.TrimPrefix(decoded, "https://")
	return url.QueryEscape(decoded)
}

// FileURL renders the download path for a file of this package.
func (r Reference) FileURL(f Filename) string {
	return "/" + r.EncodedRegistry() + "/" + r.Namespace + "/" + Normalize(r.Name) + "/" + f.String()
}
