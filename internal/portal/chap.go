// Package portal implements the UAM captive-portal pipeline: router identity
// resolution, the CHAP handshake, redirect hygiene, rate limiting, and the
// HTTP surface hotspot clients hit.
package portal

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// ChapResponse computes the WISPr UAM proof: MD5(ident || uamSecret ||
// challenge), lowercase hex. The challenge arrives hex-encoded from the
// router; the secret is used as raw ASCII bytes.
func ChapResponse(ident byte, uamSecret, challengeHex string) (string, error) {
	challenge, err := hex.DecodeString(challengeHex)
	if err != nil {
		return "", fmt.Errorf("portal: malformed challenge: %w", err)
	}
	if len(challenge) == 0 {
		return "", fmt.Errorf("portal: empty challenge")
	}
	h := md5.New()
	h.Write([]byte{ident})
	h.Write([]byte(uamSecret))
	h.Write(challenge)
	return hex.EncodeToString(h.Sum(nil)), nil
}
