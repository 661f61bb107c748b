package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabled(t *testing.T) {
	SetEnabled(false)
	in := "email a@b.com and phone +62 812 3456 7890"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	in := "reach me at a@b.com or +1 415 555 0100 after the talk"
	got := Text(in)
	if !strings.Contains(got, "[REDACTED_EMAIL]") {
		t.Fatalf("expected email redaction in %q", got)
	}
	if !strings.Contains(got, "[REDACTED_PHONE]") {
		t.Fatalf("expected phone redaction in %q", got)
	}
}

func TestPreviewTruncates(t *testing.T) {
	SetEnabled(false)
	if got := Preview("  hello world  ", 5); got != "hello..." {
		t.Fatalf("unexpected preview %q", got)
	}
	if got := Preview("short", 50); got != "short" {
		t.Fatalf("unexpected preview %q", got)
	}
}

func TestTokenMasksAllButTail(t *testing.T) {
	if got := Token("tvs_abcdef1234"); got != "****1234" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := Token("abc"); got != "****" {
		t.Fatalf("short tokens must be fully masked, got %q", got)
	}
	if Token(" ") != "" {
		t.Fatalf("blank token should stay blank")
	}
}
