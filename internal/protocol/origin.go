package protocol

import (
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultTrustedOrigins are the host fragments accepted when no allow-list
// is configured.
var DefaultTrustedOrigins = []string{"vercel.app", "localhost", "127.0.0.1"}

// AllowList gates inbound messages by sender origin.
//
// Plain entries match when the origin contains them as a substring. Entries
// holding glob metacharacters are matched against the origin's host with
// doublestar semantics, e.g. "*.preview.example.com".
type AllowList struct {
	fragments []string
	globs     []string
}

// NewAllowList builds an allow-list. Empty entries are ignored; with no
// entries at all nothing is allowed.
func NewAllowList(entries ...string) *AllowList {
	a := &AllowList{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		switch {
		case e == "":
		case strings.ContainsAny(e, "*?[{"):
			if doublestar.ValidatePattern(e) {
				a.globs = append(a.globs, strings.ToLower(e))
			}
		default:
			a.fragments = append(a.fragments, strings.ToLower(e))
		}
	}
	return a
}

// DefaultAllowList returns an allow-list over DefaultTrustedOrigins.
func DefaultAllowList() *AllowList {
	return NewAllowList(DefaultTrustedOrigins...)
}

// Allowed reports whether messages from origin are accepted.
func (a *AllowList) Allowed(origin string) bool {
	if a == nil || origin == "" {
		return false
	}
	origin = strings.ToLower(origin)
	for _, f := range a.fragments {
		if strings.Contains(origin, f) {
			return true
		}
	}
	if len(a.globs) == 0 {
		return false
	}
	host := hostOf(origin)
	for _, g := range a.globs {
		if ok, _ := doublestar.Match(g, host); ok {
			return true
		}
	}
	return false
}

// Entries returns the configured entries, fragments first.
func (a *AllowList) Entries() []string {
	out := make([]string, 0, len(a.fragments)+len(a.globs))
	out = append(out, a.fragments...)
	return append(out, a.globs...)
}

func hostOf(origin string) string {
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return u.Hostname()
	}
	return origin
}
