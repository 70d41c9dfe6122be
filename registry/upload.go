package registry

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pyoci/pyoci/httperr"
	"github.com/pyoci/pyoci/oci"
	"github.com/pyoci/pyoci/pypi"
	"github.com/pyoci/pyoci/telemetry"
)

// maxFieldSize bounds an individual metadata form field. The package bytes
// themselves are streamed and only bounded by the request body limit.
const maxFieldSize = 1 << 20

// labelPrefix marks the classifiers that carry arbitrary manifest labels:
// `PyOci :: Label :: <key> :: <value>`.
const labelPrefix = "PyOci :: Label :: "

// uploadForm accumulates the metadata fields of the PyPI legacy upload API
// as they stream in, ref
// https://warehouse.pypa.io/api-reference/legacy.html#upload-api
type uploadForm struct {
	action          string
	hasAction       bool
	protocolVersion string
	hasProtocol     bool
	name            string
	version         string
	filetype        string
	pyversion       string
	sha256Digest    string
	labels          map[string]string
	projectURLs     map[string]string
}

// Publish handles a multipart file upload. The metadata fields are read
// first; once the `content` part arrives its bytes stream straight through
// to the registry's blob upload with the SHA-256 computed in flight.
func (p *pyoci) Publish(ctx echo.Context) error {
	ctx.Set(telemetry.HandlerStartTime, time.Now())

	ref, err := pypi.ParseNamespacePath(wildcardPath(ctx))
	if err != nil {
		return err
	}

	reader, err := ctx.Request().MultipartReader()
	if err != nil {
		return multipartErr(err)
	}

	form := uploadForm{
		labels:      map[string]string{},
		projectURLs: map[string]string{},
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			// The stream ran dry without a content part.
			return httperr.New(http.StatusBadRequest, "Missing 'content' form-field")
		}
		if err != nil {
			return multipartErr(err)
		}

		if part.FormName() == "content" {
			defer part.Close()
			return p.publishContent(ctx, ref, &form, part)
		}
		if err := form.setField(part); err != nil {
			return err
		}
	}
}

// setField stores one metadata field.
func (f *uploadForm) setField(part *multipart.Part) error {
	value, err := readField(part)
	if err != nil {
		return err
	}
	switch part.FormName() {
	case ":action":
		f.action, f.hasAction = value, true
	case "protocol_version":
		f.protocolVersion, f.hasProtocol = value, true
	case "name":
		f.name = value
	case "version":
		f.version = value
	case "filetype":
		f.filetype = value
	case "pyversion":
		f.pyversion = value
	case "sha256_digest":
		f.sha256Digest = value
	case "classifiers":
		if key, val, ok := parseLabelClassifier(value); ok {
			f.labels[key] = val
		}
	case "project_urls":
		if label, u, ok := parseProjectURL(value); ok {
			f.projectURLs[label] = u
		}
	}
	return nil
}

func readField(part *multipart.Part) (string, error) {
	var b bytes.Buffer
	if _, err := io.Copy(&b, io.LimitReader(part, maxFieldSize)); err != nil {
		return "", multipartErr(err)
	}
	return b.String(), nil
}

// multipartErr keeps echo's own errors (notably the 413 from the body
// limit) intact and wraps everything else as a client error.
func multipartErr(err error) error {
	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		return echoErr
	}
	return httperr.New(http.StatusBadRequest, "invalid multipart request: %s", err)
}

// parseLabelClassifier extracts the key/value of a
// `PyOci :: Label :: <key> :: <value>` trove classifier.
func parseLabelClassifier(classifier string) (string, string, bool) {
	if !strings.HasPrefix(classifier, labelPrefix) {
		return "", "", false
	}
	key, value, ok := strings.Cut(strings.TrimPrefix(classifier, labelPrefix), " :: ")
	if !ok || key == "" {
		return "", "", false
	}
	return key, value, true
}

// parseProjectURL splits the `<label>, <url>` form metadata uses for
// project URLs.
func parseProjectURL(entry string) (string, string, bool) {
	label, u, ok := strings.Cut(entry, ",")
	label = strings.TrimSpace(label)
	u = strings.TrimSpace(u)
	if !ok || label == "" || u == "" {
		return "", "", false
	}
	return label, u, true
}

// publishContent validates the collected metadata and streams the content
// part to the registry.
func (p *pyoci) publishContent(ctx echo.Context, ref pypi.Reference, form *uploadForm, part *multipart.Part) error {
	switch {
	case !form.hasAction:
		return httperr.New(http.StatusBadRequest, "Missing ':action' form-field")
	case form.action != "file_upload":
		return httperr.New(http.StatusBadRequest, "Invalid ':action' form-field")
	case !form.hasProtocol:
		return httperr.New(http.StatusBadRequest, "Missing 'protocol_version' form-field")
	case form.protocolVersion != "1":
		return httperr.New(http.StatusBadRequest, "Invalid 'protocol_version' form-field")
	}

	if part.FileName() == "" {
		_, params, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if _, ok := params["filename"]; ok {
			return httperr.New(http.StatusBadRequest, "No 'filename' provided")
		}
		return httperr.New(http.StatusBadRequest, "'content' form-field is missing a 'filename'")
	}

	filename, err := pypi.ParseFilename(part.FileName(), form.name)
	if err != nil {
		return err
	}

	// Peek one byte so an empty upload fails before any registry call.
	first := make([]byte, 1)
	n, err := part.Read(first)
	if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
		return httperr.New(http.StatusBadRequest, "No 'content' provided")
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return multipartErr(err)
	}
	content := io.MultiReader(bytes.NewReader(first[:n]), part)

	name := form.name
	if name == "" {
		name = filename.Name
	}

	client, err := p.clientFor(ctx, ref)
	if err != nil {
		return err
	}

	err = client.Publish(ctx.Request().Context(), oci.PublishRequest{
		Repository:     ref.RepositoryFor(name),
		Tag:            filename.Tag(),
		Arch:           filename.Arch,
		Content:        content,
		ContentLength:  -1,
		ExpectedSHA256: form.sha256Digest,
		Labels:         form.labels,
		ProjectURLs:    form.projectURLs,
	})
	if err != nil {
		return err
	}

	return ctx.String(http.StatusOK, "Published")
}
