// Package funnel implements the lead-capture funnel: an explicit state
// machine sequencing a visitor from URL input through audit, package
// selection, enrollment, and one of two unlock paths to completion.
package funnel

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/awa-labs/webauditor/internal/model"
)

// State is a step in the lead-capture funnel.
type State string

const (
	StateURLInput         State = "url-input"
	StateAuditing         State = "auditing"
	StateTeaserResults    State = "teaser-results"
	StatePackageSelection State = "package-selection"
	StateEnrollment       State = "enrollment"
	StateSocialShare      State = "social-share"
	StatePayment          State = "payment"
	StateComplete         State = "complete"
)

// predecessors is the fixed Back map. States absent here have no Back.
var predecessors = map[State]State{
	StatePackageSelection: StateTeaserResults,
	StateEnrollment:       StatePackageSelection,
	StateSocialShare:      StateEnrollment,
	StatePayment:          StateEnrollment,
}

// UnlockPath is the branch that grants access to the full report.
type UnlockPath string

const (
	UnlockSocialShare UnlockPath = "social-share"
	UnlockPayment     UnlockPath = "payment"
)

// UnlockPathFor decides the unlock branch for a package. Evaluated once at
// the enrollment transition; the zero-price tier is monetized via virality.
func UnlockPathFor(pkg model.Package) UnlockPath {
	if pkg.Price == 0 {
		return UnlockSocialShare
	}
	return UnlockPayment
}

func (p UnlockPath) state() State {
	if p == UnlockSocialShare {
		return StateSocialShare
	}
	return StatePayment
}

// NormalizeURL validates and canonicalizes user input into an absolute URL,
// prefixing https:// only when no scheme is present. Normalizing an already
// normalized URL yields the same result.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", eris.New("funnel: url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", eris.Wrapf(err, "funnel: parse url %q", raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", eris.Errorf("funnel: unsupported url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" || !strings.Contains(parsed.Host, ".") {
		return "", eris.Errorf("funnel: invalid host in %q", raw)
	}
	return parsed.String(), nil
}
