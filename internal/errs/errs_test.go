package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestConfigError(t *testing.T) {
	err := fmt.Errorf("startup: %w", &ConfigError{Keys: []string{"SPREADSHEET_ID", "GOOGLE_CLIENT_EMAIL"}})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatal("expected ErrConfiguration match")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatal("expected errors.As to find ConfigError")
	}
	want := "missing required configuration: SPREADSHEET_ID, GOOGLE_CLIENT_EMAIL"
	if ce.Error() != want {
		t.Errorf("got %q, want %q", ce.Error(), want)
	}
}

func TestTransportError_UnwrapsCause(t *testing.T) {
	err := &TransportError{Op: "values.get Revenue", Err: context.DeadlineExceeded}
	if !errors.Is(err, ErrTransport) {
		t.Error("expected ErrTransport match")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected cause to unwrap")
	}
	if errors.Is(err, ErrOracle) {
		t.Error("transport error must not match ErrOracle")
	}
}

func TestOracleError(t *testing.T) {
	cause := errors.New("503 upstream")
	err := &OracleError{Role: "generate", Err: cause}
	if !errors.Is(err, ErrOracle) || !errors.Is(err, cause) {
		t.Fatal("expected oracle sentinel and cause to match")
	}
	if err.Error() != "generate oracle: 503 upstream" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
