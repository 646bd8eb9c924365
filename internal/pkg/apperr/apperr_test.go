package apperr

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: Unknown},
		{name: "plain", err: errors.New("boom"), want: Unknown},
		{name: "direct", err: New(Conflict, "already a member"), want: Conflict},
		{name: "wrapped with fmt", err: fmt.Errorf("join: %w", NotFoundf("channel %d", 7)), want: NotFound},
		{name: "wrap of cause", err: Wrap(errors.New("dial tcp"), Unavailable, "datastore unavailable"), want: Unavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, Unavailable, "datastore unavailable")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "datastore unavailable", MessageOf(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Nil(t, Wrap(nil, Unavailable, "x"))
}

func TestMessageOfUnknownIsOpaque(t *testing.T) {
	assert.Equal(t, "internal error", MessageOf(errors.New("secret detail")))
}
