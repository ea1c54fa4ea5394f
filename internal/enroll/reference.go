package enroll

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
)

const referenceAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// referencePattern matches PREFIX-YYYYMMDD-XXXX reference codes.
var referencePattern = regexp.MustCompile(`^[A-Z]+-\d{8}-[0-9A-Z]{4}$`)

// NewReference builds a human-presentable enrollment reference of the form
// PREFIX-YYYYMMDD-XXXX, where XXXX is 4 random base-36 uppercase
// characters. It is a user-facing confirmation token, not a credential.
func NewReference(prefix string, now time.Time) (string, error) {
	if prefix == "" {
		prefix = "AWA"
	}
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", eris.Wrap(err, "enroll: read random")
	}
	suffix := make([]byte, 4)
	for i, b := range buf {
		suffix[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102"), suffix), nil
}

// ValidReference reports whether s looks like a reference code.
func ValidReference(s string) bool {
	return referencePattern.MatchString(s)
}
