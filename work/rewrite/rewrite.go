package rewrite

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Stream URL tokens are plain base64url with padding. The token is an opaque
// carrier only, not an access-control mechanism; the relay endpoint sits
// behind subscriber auth at the reverse proxy.

// Encode turns an upstream stream URL into a URL-safe token.
func Encode(streamURL string) string {
	return base64.URLEncoding.EncodeToString([]byte(streamURL))
}

// Decode recovers the upstream URL from a token. Malformed tokens yield an
// error the handler maps to a client error; they never panic.
func Decode(token string) (string, error) {
	// tolerate clients that strip the base64 padding
	if m := len(token) % 4; m != 0 {
		token += strings.Repeat("=", 4-m)
	}

	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("malformed stream token: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("malformed stream token: not valid UTF-8")
	}
	return string(raw), nil
}
