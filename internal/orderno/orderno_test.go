package orderno

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestNewFormat(t *testing.T) {
	now := time.Date(2025, 3, 7, 23, 59, 0, 0, time.UTC)
	pattern := regexp.MustCompile(`^SPL-20250307-\d{4}$`)

	for i := 0; i < 200; i++ {
		got := New(now)
		if !pattern.MatchString(got) {
			t.Fatalf("order number %q does not match expected format", got)
		}
		suffix := got[strings.LastIndex(got, "-")+1:]
		if suffix < "1000" || suffix > "9999" {
			t.Fatalf("suffix %q out of range", suffix)
		}
	}
}

func TestNewUsesUTCDate(t *testing.T) {
	loc := time.FixedZone("BST", 6*60*60)
	local := time.Date(2025, 3, 8, 2, 0, 0, 0, loc) // 2025-03-07 20:00 UTC
	got := New(local)
	if !strings.HasPrefix(got, "SPL-20250307-") {
		t.Fatalf("expected UTC date in order number, got %q", got)
	}
}
