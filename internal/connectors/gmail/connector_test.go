package gmail

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestParseMailDate(t *testing.T) {
	want := time.Date(2026, 2, 8, 9, 30, 0, 0, time.UTC)
	for _, in := range []string{
		"Sun, 08 Feb 2026 09:30:00 +0000",
		"Sun, 8 Feb 2026 09:30:00 +0000",
		"Sun, 8 Feb 2026 09:30:00 +0000 (UTC)",
		"8 Feb 2026 09:30:00 +0000",
	} {
		got, err := parseMailDate(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%q: got %v", in, got)
		}
	}
	if _, err := parseMailDate("yesterday"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDecodeBase64URL(t *testing.T) {
	raw := []byte("Subject: hi\r\n\r\nbody?>")
	for _, enc := range []string{base64.RawURLEncoding.EncodeToString(raw), base64.URLEncoding.EncodeToString(raw)} {
		got, err := decodeBase64URL(enc)
		if err != nil || string(got) != string(raw) {
			t.Fatalf("got %q err=%v", got, err)
		}
	}
}
