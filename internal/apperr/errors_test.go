package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrappersKeepClass(t *testing.T) {
	assert.ErrorIs(t, Configuration("missing %s", "bucket"), ErrConfiguration)
	assert.ErrorIs(t, Validation("filename is required"), ErrValidation)
	assert.ErrorIs(t, NotFound("upload %d", 7), ErrNotFound)
	assert.EqualError(t, Configuration("missing %s", "bucket"), "configuration error: missing bucket")
}

func TestSchemaMismatchKeepsCause(t *testing.T) {
	cause := errors.New("column \"upload\" does not exist")
	err := SchemaMismatch("attach pointer averbacoes", cause)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestStorageKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Storage("head object", cause)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.EqualError(t, err, "storage error: head object: dial tcp: connection refused")
}
