package redact_test

import (
	"testing"

	"github.com/bdobrica/Jimu/common/redact"
)

func TestString_RedactsSensitiveValues(t *testing.T) {
	line := "sync failed for token syt_abcdef123456 on homeserver"
	const want = "sync failed for token [REDACTED] on homeserver"
	if got := redact.String(line, "syt_abcdef123456"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestString_SkipsShortValues(t *testing.T) {
	line := "abc token"
	if got := redact.String(line, "abc"); got != line {
		t.Fatalf("short value should not be redacted; got %q", got)
	}
}

func TestFlags(t *testing.T) {
	in := map[string]string{"entity": "stores", "redis-password": "hunter22", "auth": ""}
	out := redact.Flags(in)
	if out["entity"] != "stores" {
		t.Errorf("entity = %q, want stores", out["entity"])
	}
	if out["redis-password"] != "[REDACTED]" {
		t.Errorf("redis-password = %q, want redacted", out["redis-password"])
	}
	if out["auth"] != "" {
		t.Errorf("empty sensitive values stay empty, got %q", out["auth"])
	}
	if in["redis-password"] != "hunter22" {
		t.Error("Flags must not modify its input")
	}
}

func TestSet(t *testing.T) {
	var s redact.Set
	s.Add("syt_token_value", "", "ab")
	if got := s.String("using syt_token_value ab"); got != "using [REDACTED] ab" {
		t.Errorf("got %q", got)
	}
}
