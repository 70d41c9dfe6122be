package pypi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"hello-world":     "hello-world",
		"Hello_World":     "hello-world",
		"hello.world":     "hello-world",
		"Hello--..__World": "hello-world",
		"HELLO":           "hello",
		"friendly-bard":   "friendly-bard",
		"FrIeNdLy-._.-bArD": "friendly-bard",
	}
	for input, want := range cases {
		require.Equal(t, want, Normalize(input), "input %q", input)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, name := range []string{"Hello_World", "a.b-c_d", "X..Y"} {
		once := Normalize(name)
		require.Equal(t, once, Normalize(once))
	}
}

func TestNameEqual(t *testing.T) {
	require.True(t, NameEqual("hello_world", "Hello-World"))
	require.True(t, NameEqual("hello.world", "hello__world"))
	require.False(t, NameEqual("hello-world", "helloworld"))
}

func TestFileSafeName(t *testing.T) {
	require.Equal(t, "hello_world", FileSafeName("Hello-World"))
	require.Equal(t, "hello_world", FileSafeName("hello.world"))
	require.Equal(t, "bar", FileSafeName("bar"))
}
