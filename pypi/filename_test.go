package pypi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pyoci/pyoci/httperr"
)

func TestParseFilenameRoundTrip(t *testing.T) {
	cases := []string{
		"baz-1.tar.gz",
		"baz-2.5.1.dev4+g1664eb2.d20231017.tar.gz",
		"baz-1-cp311-cp311-macosx_13_0_x86_64.whl",
		"baz-2.5.1.dev4+g1664eb2.d20231017-1234-cp311-cp311-macosx_13_0_x86_64.whl",
		"hello_world-1.2.3-py3-none-any.whl",
	}
	for _, input := range cases {
		f, err := ParseFilename(input, "")
		require.NoError(t, err, "input %q", input)
		require.Equal(t, input, f.String(), "input %q", input)
	}
}

func TestParseFilenameSdist(t *testing.T) {
	f, err := ParseFilename("hello_world-1.2.3.tar.gz", "hello-world")
	require.NoError(t, err)
	require.Equal(t, "hello_world", f.Name)
	require.Equal(t, "1.2.3", f.Version)
	require.Equal(t, SdistArch, f.Arch)
	require.Equal(t, Sdist, f.Kind)
}

func TestParseFilenameWheel(t *testing.T) {
	f, err := ParseFilename("hello_world-1.2.3-py3-none-any.whl", "hello_world")
	require.NoError(t, err)
	require.Equal(t, "hello_world", f.Name)
	require.Equal(t, "1.2.3", f.Version)
	require.Equal(t, "py3-none-any", f.Arch)
	require.Equal(t, Wheel, f.Kind)
}

func TestParseFilenameWheelBuildTag(t *testing.T) {
	f, err := ParseFilename("baz-1.0-1234-cp311-cp311-linux_x86_64.whl", "")
	require.NoError(t, err)
	require.Equal(t, "1.0", f.Version)
	require.Equal(t, "1234-cp311-cp311-linux_x86_64", f.Arch)
}

func TestParseFilenameErrors(t *testing.T) {
	cases := []string{
		"",
		"foo",
		"foo.zip",
		"foo.tar.gz",
		"foo-.tar.gz",
		"-1.0.tar.gz",
		"foo-1.0.whl",
		"foo--py3.whl",
	}
	for _, input := range cases {
		_, err := ParseFilename(input, "")
		require.Error(t, err, "input %q", input)
		require.Equal(t, http.StatusBadRequest, httperr.StatusOf(err), "input %q", input)
	}
}

func TestParseFilenameNameMismatch(t *testing.T) {
	_, err := ParseFilename("hello_world-1.0.tar.gz", "other-package")
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, httperr.StatusOf(err))

	// Case and separator differences are fine after normalization.
	_, err = ParseFilename("hello_world-1.0.tar.gz", "Hello.World")
	require.NoError(t, err)
}

func TestVersionTagMapping(t *testing.T) {
	require.Equal(t, "1.0.0.dev4-g1664eb2.d20231017", VersionToTag("1.0.0.dev4+g1664eb2.d20231017"))
	require.Equal(t, "1.0.0.dev4+g1664eb2.d20231017", TagToVersion("1.0.0.dev4-g1664eb2.d20231017"))
	require.Equal(t, "1.2.3", VersionToTag("1.2.3"))
}

func TestFilenameTag(t *testing.T) {
	f, err := ParseFilename("baz-1.0+local.tar.gz", "")
	require.NoError(t, err)
	require.Equal(t, "1.0-local", f.Tag())
}

func TestFilenameForEntry(t *testing.T) {
	f := FilenameForEntry("Hello-World", "1.2.3", SdistArch)
	require.Equal(t, "hello_world-1.2.3.tar.gz", f.String())

	f = FilenameForEntry("hello-world", "1.2.3", "py3-none-any")
	require.Equal(t, "hello_world-1.2.3-py3-none-any.whl", f.String())

	// Local version labels come back out of the tag encoding.
	f = FilenameForEntry("bar", "0.1.pre3-1234.foobar", SdistArch)
	require.Equal(t, "bar-0.1.pre3+1234.foobar.tar.gz", f.String())
}
