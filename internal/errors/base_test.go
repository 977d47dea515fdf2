package errors

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	err := Wrap(errWrapped, "append event")
	require.EqualError(t, err, "append event, err: wrapped error")
	require.True(t, Is(err, errWrapped))
}

func TestWrapNil(t *testing.T) {
	require.NoError(t, Wrap(nil, "noop"))
	require.NoError(t, Wrapf(nil, "noop %d", 1))
}

func TestWrapf(t *testing.T) {
	err := Wrapf(errWrapped, "replay seq=%d", 42)
	require.EqualError(t, err, "replay seq=42, err: wrapped error")
	require.True(t, Is(Wrap(err, "recover"), errWrapped))
}

func TestWrapEmptyText(t *testing.T) {
	require.Equal(t, errWrapped, Wrap(errWrapped, ""))
}
