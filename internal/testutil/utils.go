package testutil

import (
	"bytes"
	"log"
	"os"
	"sync"
	"testing"
)

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[eventchat-test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// LogBuffer collects log output written from several goroutines.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CaptureLogger returns a test logger whose output can be inspected.
func CaptureLogger(t *testing.T) (*log.Logger, *LogBuffer) {
	buf := &LogBuffer{}
	logger := TestLogger(t)
	logger.SetOutput(buf)
	return logger, buf
}
