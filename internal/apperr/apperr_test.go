package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrappedError(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("listing rooms: %w", Wrap(UpstreamFailure, base, "store unavailable"))

	assert.Equal(t, UpstreamFailure, KindOf(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "store unavailable", Message(err))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, UpstreamFailure, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, NotFound))
	assert.True(t, Is(New(NotFound, "room not found"), NotFound))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		NotFound:          http.StatusNotFound,
		AlreadyExists:     http.StatusConflict,
		InvalidTransition: http.StatusConflict,
		Unauthorized:      http.StatusUnauthorized,
		Forbidden:         http.StatusForbidden,
		ValidationError:   http.StatusBadRequest,
		UpstreamFailure:   http.StatusBadGateway,
	}
	for kind, status := range cases {
		assert.Equal(t, status, HTTPStatus(kind), kind)
	}
}
