package domain

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestWithDetail_CutsOnRuneBoundary(t *testing.T) {
	detail := strings.Repeat("a", 4095) + "é"

	event := NewAuditEvent("doc-1", "run-1", StepQualityCheck, StepStatusSuccess, "ok").WithDetail(detail, 4096)

	if !utf8.ValidString(event.Detail) {
		t.Fatalf("detail is not valid UTF-8")
	}
	if len(event.Detail) != 4095 {
		t.Errorf("expected the partial rune to be dropped, got %d bytes", len(event.Detail))
	}
}

func TestWithDetail_NoLimit(t *testing.T) {
	event := NewAuditEvent("doc-1", "", StepHash, StepStatusSuccess, "").WithDetail("crème", 0)
	if event.Detail != "crème" {
		t.Errorf("expected detail kept, got %q", event.Detail)
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"\x00H\x00i", "Hi"},
		{"caf\xe9", "caf�"},
		{"naïve", "naïve"},
	}
	for _, tt := range tests {
		got := CleanText(tt.in)
		if got != tt.want {
			t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if !utf8.ValidString(got) || strings.ContainsRune(got, 0) {
			t.Errorf("CleanText(%q) left invalid text %q", tt.in, got)
		}
	}
}

func TestTruncateText(t *testing.T) {
	if got := TruncateText("日本語", 4); got != "日" {
		t.Errorf("expected one rune, got %q", got)
	}
	if got := TruncateText("日本語", 2); got != "" {
		t.Errorf("expected empty cut, got %q", got)
	}
	if got := TruncateText("abc", 10); got != "abc" {
		t.Errorf("expected unchanged, got %q", got)
	}
}
