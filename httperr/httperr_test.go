package httperr

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	require.Equal(t, http.StatusConflict, StatusOf(New(http.StatusConflict, "taken")))
	require.Equal(t, http.StatusNotFound, StatusOf(fmt.Errorf("wrapped: %w", New(http.StatusNotFound, "gone"))))
	require.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("plain")))
}

func TestNewFormats(t *testing.T) {
	err := New(http.StatusBadRequest, "bad thing '%s'", "x")
	require.Equal(t, "bad thing 'x'", err.Error())
	require.Equal(t, http.StatusBadRequest, err.Status)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestFromResponsePassthrough(t *testing.T) {
	for _, status := range []int{
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
	} {
		err := FromResponse(response(status, "nope"))
		require.Equal(t, status, err.Status)
		require.Equal(t, "nope", err.Message)
	}
}

func TestFromResponseBadGateway(t *testing.T) {
	err := FromResponse(response(http.StatusInternalServerError, "boom"))
	require.Equal(t, http.StatusBadGateway, err.Status)
	require.Contains(t, err.Message, "500")
	require.Contains(t, err.Message, "boom")

	err = FromResponse(response(http.StatusTeapot, ""))
	require.Equal(t, http.StatusBadGateway, err.Status)
}
