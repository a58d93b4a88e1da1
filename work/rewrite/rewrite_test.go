package rewrite

import (
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	urls := []string{
		"http://example.com/live/stream.ts",
		"https://cdn.example.net/hls/master.m3u8?token=abc&expires=123",
		"http://198.51.100.7:8080/u/p/42",
		"http://example.com/path with spaces/видео.ts",
	}

	for _, u := range urls {
		token := Encode(u)
		got, err := Decode(token)
		if err != nil {
			t.Fatalf("Decode(Encode(%q)): %v", u, err)
		}
		if got != u {
			t.Errorf("round trip: got %q, want %q", got, u)
		}
	}
}

func TestEncodeProducesURLSafeToken(t *testing.T) {
	token := Encode("http://example.com/a?b=c&d=e/f+g")
	if strings.ContainsAny(token, "/+") {
		t.Errorf("token %q contains URL-unsafe characters", token)
	}
}

func TestDecodeToleratesStrippedPadding(t *testing.T) {
	u := "http://example.com/x"
	token := strings.TrimRight(Encode(u), "=")

	got, err := Decode(token)
	if err != nil {
		t.Fatalf("Decode without padding: %v", err)
	}
	if got != u {
		t.Errorf("got %q, want %q", got, u)
	}
}

func TestDecodeRejectsMalformedToken(t *testing.T) {
	for _, token := range []string{"not!!valid", "%%%%", "a"} {
		if _, err := Decode(token); err == nil {
			t.Errorf("Decode(%q) should fail", token)
		}
	}
}
