package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesCopiesByKey(t *testing.T) {
	sentinel := New(CodeConflict, "price_changed", "price changed")

	withDetails := sentinel.WithDetails(map[string]any{"newPrice": "10.00"})
	wrapped := fmt.Errorf("place order: %w", withDetails)

	assert.True(t, errors.Is(wrapped, sentinel))
	assert.Nil(t, sentinel.Details(), "sentinel must not be mutated")
	assert.Equal(t, "10.00", As(wrapped).Details()["newPrice"])
}

func TestError_IsDifferentKeys(t *testing.T) {
	a := New(CodeConflict, "a", "a")
	b := New(CodeConflict, "b", "b")
	assert.False(t, errors.Is(a, b))
}

func TestMetadataFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, MetadataFor(CodeConflict).HTTPStatus)
	assert.Equal(t, http.StatusConflict, MetadataFor(CodeDuplicate).HTTPStatus)
	assert.Equal(t, http.StatusInternalServerError, MetadataFor("bogus").HTTPStatus)
}

func TestWrap_Unwraps(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(CodeInternal, "db", cause, "db failed")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestAs_Nil(t *testing.T) {
	assert.Nil(t, As(nil))
	assert.Nil(t, As(errors.New("plain")))
}
