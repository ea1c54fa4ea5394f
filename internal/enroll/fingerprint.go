package enroll

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ClientEnvironment holds the browser/environment attributes collected at
// enrollment. Unavailable attributes stay at their zero value; the
// fingerprint degrades rather than failing.
type ClientEnvironment struct {
	UserAgent      string `json:"user_agent"`
	Language       string `json:"language"`
	ScreenWidth    int    `json:"screen_width"`
	ScreenHeight   int    `json:"screen_height"`
	ColorDepth     int    `json:"color_depth"`
	TimezoneOffset int    `json:"timezone_offset"`
	CPUCount       int    `json:"cpu_count"`
	Platform       string `json:"platform"`
}

// fingerprintDelimiter joins the attribute tuple before hashing. Changing
// it invalidates all stored fingerprints.
const fingerprintDelimiter = "|"

// Fingerprint derives a soft fraud/dispute signal from the fixed attribute
// tuple. It is not a security boundary: the hash is stable for a given
// environment and reproducible server-side from the same inputs.
func (e ClientEnvironment) Fingerprint() string {
	parts := []string{
		e.UserAgent,
		e.Language,
		fmt.Sprintf("%dx%dx%d", e.ScreenWidth, e.ScreenHeight, e.ColorDepth),
		fmt.Sprintf("%d", e.TimezoneOffset),
		fmt.Sprintf("%d", e.CPUCount),
		e.Platform,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, fingerprintDelimiter)))
	return hex.EncodeToString(sum[:])
}

// TermsHash computes the content hash over the canonical representation of
// the terms text and version. Both inputs contribute: changing either
// changes the hash.
func TermsHash(content, version string) string {
	sum := sha256.Sum256([]byte(version + "\n" + content))
	return hex.EncodeToString(sum[:])
}

// SignatureHash computes the content hash of a raw signature image payload.
// Empty payloads have no hash; absence of a signature omits the field.
func SignatureHash(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
