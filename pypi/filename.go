package pypi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pyoci/pyoci/httperr"
)

// DistKind classifies a distribution file by its extension.
type DistKind int

const (
	// Sdist is a source distribution, `<name>-<version>.tar.gz`.
	Sdist DistKind = iota
	// Wheel is a binary distribution,
	// `<name>-<version>(-<build>)?-<pytag>-<abitag>-<platformtag>.whl`.
	Wheel
)

const (
	sdistSuffix = ".tar.gz"
	wheelSuffix = ".whl"
)

// SdistArch is the architecture token recorded for source distributions.
// Wheels use their compatibility tag triple instead.
const SdistArch = sdistSuffix

// Filename is a parsed distribution filename. Name holds the file-safe
// (underscore-escaped) project name exactly as it appeared in the filename.
// Arch is the architecture token: SdistArch for sdists, the compatibility
// tags (including an optional leading build tag) for wheels.
type Filename struct {
	Name    string
	Version string
	Arch    string
	Kind    DistKind
}

// ParseFilename parses a source or binary distribution filename. When
// declaredName is non-empty, the name embedded in the filename must
// normalize to the same project, otherwise the parse fails.
func ParseFilename(filename, declaredName string) (Filename, error) {
	if filename == "" {
		return Filename{}, httperr.New(http.StatusBadRequest, "empty filename")
	}

	var f Filename
	switch {
	case strings.HasSuffix(filename, sdistSuffix):
		stem := strings.TrimSuffix(filename, sdistSuffix)
		name, version, ok := strings.Cut(stem, "-")
		if !ok || name == "" || version == "" {
			return Filename{}, httperr.New(
				http.StatusBadRequest,
				"invalid source distribution filename '%s'", filename,
			)
		}
		f = Filename{Name: name, Version: version, Arch: SdistArch, Kind: Sdist}
	case strings.HasSuffix(filename, wheelSuffix):
		stem := strings.TrimSuffix(filename, wheelSuffix)
		parts := strings.SplitN(stem, "-", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return Filename{}, httperr.New(
				http.StatusBadRequest,
				"invalid binary distribution filename '%s'", filename,
			)
		}
		f = Filename{Name: parts[0], Version: parts[1], Arch: parts[2], Kind: Wheel}
	default:
		return Filename{}, httperr.New(http.StatusBadRequest, "unknown filetype '%s'", filename)
	}

	// A version containing a path separator or another extension means the
	// stem was split in the wrong place.
	if strings.ContainsAny(f.Version, "/\\") || strings.Contains(f.Version, sdistSuffix) ||
		strings.Contains(f.Version, wheelSuffix) {
		return Filename{}, httperr.New(http.StatusBadRequest, "invalid version in filename '%s'", filename)
	}

	if declaredName != "" && !NameEqual(f.Name, declaredName) {
		return Filename{}, httperr.New(
			http.StatusBadRequest,
			"filename '%s' does not match package name '%s'", filename, declaredName,
		)
	}

	return f, nil
}

// FilenameForEntry reconstructs the Filename for a file listed in an image
// index, from the project name in the request, the OCI tag and the platform
// architecture of the index entry.
func FilenameForEntry(name, tag, arch string) Filename {
	kind := Wheel
	if arch == SdistArch {
		kind = Sdist
	}
	return Filename{
		Name:    FileSafeName(name),
		Version: TagToVersion(tag),
		Arch:    arch,
		Kind:    kind,
	}
}

// String renders the canonical filename. It is the inverse of ParseFilename.
func (f Filename) String() string {
	if f.Kind == Sdist {
		return fmt.Sprintf("%s-%s%s", f.Name, f.Version, sdistSuffix)
	}
	return fmt.Sprintf("%s-%s-%s%s", f.Name, f.Version, f.Arch, wheelSuffix)
}

// Tag returns the OCI tag for this file's version.
func (f Filename) Tag() string {
	return VersionToTag(f.Version)
}

// VersionToTag maps a Python version to an OCI tag. OCI tags cannot contain
// '+' while Python versions cannot contain '-', so local version labels are
// folded onto '-'.
func VersionToTag(version string) string {
	return strings.ReplaceAll(version, "+", "-")
}

// TagToVersion is the inverse of VersionToTag.
func TagToVersion(tag string) string {
	return strings.ReplaceAll(tag, "-", "+")
}
