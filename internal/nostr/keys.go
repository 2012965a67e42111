package nostr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"
)

// ErrInvalidKey indicates a key that is neither 64-char hex nor valid bech32.
var ErrInvalidKey = errors.New("invalid key")

// SecretKeyHex accepts an nsec or a hex secret key and returns it as hex.
func SecretKeyHex(s string) (string, error) {
	return decodeKey(s, "nsec")
}

// PubkeysHex converts npubs (or hex pubkeys) to hex.
func PubkeysHex(keys []string) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		h, err := decodeKey(k, "npub")
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func decodeKey(s, prefix string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, prefix+"1") {
		p, v, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		h, ok := v.(string)
		if p != prefix || !ok {
			return "", fmt.Errorf("%w: expected %s", ErrInvalidKey, prefix)
		}
		return h, nil
	}
	if len(s) != 64 {
		return "", fmt.Errorf("%w: expected %s or 64 hex chars", ErrInvalidKey, prefix)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return strings.ToLower(s), nil
}
