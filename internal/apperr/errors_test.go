package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	assert.NoError(t, FromStatus(http.StatusOK))
	assert.NoError(t, FromStatus(http.StatusNoContent))
	assert.ErrorIs(t, FromStatus(http.StatusUnauthorized), ErrAuthExpired)
	assert.ErrorIs(t, FromStatus(http.StatusNotFound), ErrNotFound)
	assert.ErrorIs(t, FromStatus(http.StatusConflict), ErrConflict)
	assert.ErrorIs(t, FromStatus(http.StatusBadRequest), ErrValidation)
	assert.ErrorIs(t, FromStatus(http.StatusBadGateway), ErrNetwork)
}

func TestWrapfKeepsKind(t *testing.T) {
	err := Wrapf(ErrConflict, "accept request %s", "c1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "accept request c1: already applied", err.Error())

	assert.True(t, AlreadyApplied(err))
	assert.True(t, AlreadyApplied(Wrapf(ErrNotFound, "decline")))
	assert.False(t, AlreadyApplied(errors.New("boom")))

	assert.True(t, Retryable(Wrapf(ErrNetwork, "dial")))
	assert.False(t, Retryable(Wrapf(ErrValidation, "bad input")))
}
