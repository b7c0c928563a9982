package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"plain error", errors.New("boom"), Internal},
		{"direct", New(InvalidArgument, "missing id"), InvalidArgument},
		{"wrapped", fmt.Errorf("detail: %w", New(NotFound, "gone")), NotFound},
		{"with cause", Wrap(UpstreamFailure, errors.New("503"), "gmail failed"), UpstreamFailure},
		{"nil", nil, Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("load: %w", New(Unauthenticated, "no credentials"))
	assert.True(t, Is(err, Unauthenticated))
	assert.False(t, Is(err, NotFound))
	assert.False(t, Is(nil, Internal))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{Unauthenticated, http.StatusUnauthorized},
		{InvalidArgument, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{UpstreamFailure, http.StatusBadGateway},
		{Internal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.HTTPStatus())
		})
	}
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(UpstreamFailure, cause, "failed to list messages")

	assert.Equal(t, "failed to list messages: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Missing email ID", Message(New(InvalidArgument, "Missing email ID")))
	assert.Equal(t, "raw", Message(errors.New("raw")))
	assert.Equal(t, "bad count 7", Newf(InvalidArgument, "bad count %d", 7).Error())
}
