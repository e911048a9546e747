package utils

import (
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello", 5) != "hello" {
		t.Error("exact length unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
}

func TestTruncate_persianStaysValidUTF8(t *testing.T) {
	got := Truncate("سهام شرکت فولاد", 4)
	if got != "سهام..." {
		t.Errorf("got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated string is not valid UTF-8")
	}
}
