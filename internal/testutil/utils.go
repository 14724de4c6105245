package testutil

import (
	"testing"

	"github.com/rs/zerolog"
)

// TestLogger returns a logger that writes through t so output is attached to
// the test that produced it.
func TestLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
}
