// Package registry serves the PyPI-facing surface: the simple index, file
// downloads, uploads and version deletes, each translated into OCI
// operations against the registry named in the URL.
package registry

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pyoci/pyoci/config"
	"github.com/pyoci/pyoci/oci"
	"github.com/pyoci/pyoci/pypi"
	"github.com/pyoci/pyoci/telemetry"
	"github.com/pyoci/pyoci/transport"
)

// Registry is the set of PyPI-facing handlers bound by the router.
type Registry interface {
	// GET / — static landing page.
	Root(ctx echo.Context) error

	// GET /<registry>/<ns...>/<package>/[json|<filename>] — index listing
	// or file download, chosen by the path trailer.
	Packages(ctx echo.Context) error

	// POST /<registry>/<ns...>/ — multipart file upload.
	Publish(ctx echo.Context) error

	// DELETE /<registry>/<ns...>/<package>/<version> — delete one version.
	Delete(ctx echo.Context) error
}

type pyoci struct {
	cfg    *config.Config
	pool   *transport.Pool
	logger telemetry.Logger
}

func New(cfg *config.Config, pool *transport.Pool, logger telemetry.Logger) Registry {
	return &pyoci{cfg: cfg, pool: pool, logger: logger}
}

// wildcardPath recovers the path below the mount point. The router binds
// the handlers on `/*`, so the wildcard param holds everything after the
// configured prefix.
func wildcardPath(ctx echo.Context) string {
	return "/" + ctx.Param("*")
}

// clientFor builds the OCI client for one request, forwarding the caller's
// Authorization header opaquely.
func (p *pyoci) clientFor(ctx echo.Context, ref pypi.Reference) (*oci.Client, error) {
	registryURL, err := ref.RegistryURL()
	if err != nil {
		return nil, err
	}
	t := p.pool.WithAuth(ctx.Request().Header.Get(echo.HeaderAuthorization))
	return oci.NewClient(registryURL, t, p.pool.Timeout(), p.logger), nil
}

const landingPage = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>PyOCI</title>
</head>
<body>
    <h1>PyOCI</h1>
    <p>Publish and install python packages using an OCI registry as the index.</p>
</body>
</html>
`

// Root serves the landing page. It is also the most common target of
// crawlers, so it may be cached for a while.
func (p *pyoci) Root(ctx echo.Context) error {
	ctx.Set(telemetry.HandlerStartTime, time.Now())

	ctx.Response().Header().Set("Cache-Control", "public, max-age=3600")
	return ctx.HTML(http.StatusOK, landingPage)
}

// Packages dispatches GET requests below the mount point: a trailing
// `json` renders the PEP 691 index, a distribution filename streams the
// file, anything else renders the PEP 503 HTML index.
func (p *pyoci) Packages(ctx echo.Context) error {
	ctx.Set(telemetry.HandlerStartTime, time.Now())

	ref, err := pypi.ParsePackagePath(wildcardPath(ctx))
	if err != nil {
		return err
	}

	if ref.Trailer == "" || ref.Trailer == "json" {
		return p.list(ctx, ref)
	}
	return p.download(ctx, ref)
}

func (p *pyoci) list(ctx echo.Context, ref pypi.Reference) error {
	client, err := p.clientFor(ctx, ref)
	if err != nil {
		return err
	}

	entries, err := client.PackageFiles(ctx.Request().Context(), ref.Repository(), p.cfg.ListingMaxTags)
	if err != nil {
		return err
	}

	files := make([]pypi.IndexFile, 0, len(entries))
	for _, entry := range entries {
		filename := pypi.FilenameForEntry(ref.Name, entry.Tag, entry.Arch)
		files = append(files, pypi.IndexFile{
			Filename:    filename.String(),
			URL:         ref.FileURL(filename),
			SHA256:      entry.SHA256,
			ProjectURLs: entry.ProjectURLs,
		})
	}

	ctx.Response().Header().Set("Cache-Control", "no-store")
	if wantsJSON(ctx, ref) {
		ctx.Response().Header().Set(echo.HeaderContentType, pypi.MediaTypeSimpleJSON)
		return ctx.JSON(http.StatusOK, pypi.SimpleJSON(ref.Name, files))
	}

	page, err := pypi.RenderSimpleHTML(ref.Name, files)
	if err != nil {
		return err
	}
	return ctx.HTML(http.StatusOK, page)
}

// wantsJSON decides the listing representation: the /json route always
// forces JSON, otherwise the Accept header picks it.
func wantsJSON(ctx echo.Context, ref pypi.Reference) bool {
	if ref.Trailer == "json" {
		return true
	}
	return strings.Contains(ctx.Request().Header.Get("Accept"), pypi.MediaTypeSimpleJSON)
}

func (p *pyoci) download(ctx echo.Context, ref pypi.Reference) error {
	filename, err := pypi.ParseFilename(ref.Trailer, ref.Name)
	if err != nil {
		return err
	}

	client, err := p.clientFor(ctx, ref)
	if err != nil {
		return err
	}

	resp, err := client.Download(ctx.Request().Context(), ref.Repository(), filename.Tag(), filename.Arch)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	header := ctx.Response().Header()
	header.Set("Cache-Control", "no-store")
	header.Set(echo.HeaderContentDisposition, `attachment; filename=`+filename.String())
	if resp.ContentLength >= 0 {
		header.Set(echo.HeaderContentLength, strconv.FormatInt(resp.ContentLength, 10))
	}
	return ctx.Stream(http.StatusOK, echo.MIMEOctetStream, resp.Body)
}

// Delete removes one published version: the image index under the version
// tag and each child manifest it references.
func (p *pyoci) Delete(ctx echo.Context) error {
	ctx.Set(telemetry.HandlerStartTime, time.Now())

	ref, err := pypi.ParseVersionPath(wildcardPath(ctx))
	if err != nil {
		return err
	}

	client, err := p.clientFor(ctx, ref)
	if err != nil {
		return err
	}

	tag := pypi.VersionToTag(ref.Trailer)
	if err := client.DeleteVersion(ctx.Request().Context(), ref.Repository(), tag); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
