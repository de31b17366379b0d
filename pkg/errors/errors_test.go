package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"app error", New(ErrInvalidInput, http.StatusTeapot, "x"), http.StatusTeapot},
		{"doc not found", fmt.Errorf("lookup: %w", ErrDocumentNotFound), http.StatusNotFound},
		{"token not found", ErrTokenNotFound, http.StatusNotFound},
		{"invalid", ErrInvalidInput, http.StatusBadRequest},
		{"shard", ErrShardUnavailable, http.StatusServiceUnavailable},
		{"format", Format("bad magic %x", 1), http.StatusInternalServerError},
		{"deadline", fmt.Errorf("lookup: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatusCode(tc.err))
		})
	}
}

func TestBuildIOWrapsBoth(t *testing.T) {
	err := BuildIO("writing objects", io.ErrShortWrite)
	assert.True(t, errors.Is(err, ErrBuildIO))
	assert.True(t, errors.Is(err, io.ErrShortWrite))
	assert.Contains(t, err.Error(), "writing objects")
}
