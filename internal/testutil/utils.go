package testutil

import (
	"log"
	"testing"
)

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// TestLogger returns a logger that writes through t.Log, so server output
// is interleaved with test output and shown only for failing tests.
func TestLogger(t *testing.T) *log.Logger {
	return log.New(testWriter{t}, "[test] ", log.LstdFlags)
}
