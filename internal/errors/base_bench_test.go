package errors

import (
	"errors"
	"testing"
)

var errWrapped = errors.New("wrapped error")

func BenchmarkWrap(b *testing.B) {
	b.Run("wrap nil", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			err := Wrap(nil, "submit intent")
			_ = err
		}
	})

	b.Run("wrap error", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			err := Wrap(errWrapped, "submit intent")
			_ = err.Error()
		}
	})

	b.Run("wrapf error", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			err := Wrapf(errWrapped, "submit intent %s", "k-1")
			_ = err.Error()
		}
	})
}
