package testutil

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogger(t *testing.T) *zerolog.Logger {
	t.Helper()
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(zerolog.Disabled)
	return &l
}
