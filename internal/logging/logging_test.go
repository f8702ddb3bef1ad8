package logging_test

import (
	"testing"

	"git.sr.ht/~jakintosh/inventory/internal/logging"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	t.Parallel()

	logger, err := logging.New("debug", false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug enabled")
	}

	logger, err = logging.New("", true)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) == false {
		t.Fatal("expected development logger to enable debug")
	}

	logger, err = logging.New("warn", false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info disabled at warn")
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := logging.New("chatty", false); err == nil {
		t.Fatal("expected an error")
	}
}
