package db

import (
	"context"
	"testing"
)

func TestOpen_RejectsBadURL(t *testing.T) {
	if _, err := Open(context.Background(), Config{URL: "://not-a-dsn"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestReadyCheck_Unconfigured(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatal("expected error for nil pool")
	}
}
