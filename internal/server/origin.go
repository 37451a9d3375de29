package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// originPolicy is the compiled form of Config.AllowedOrigins. A wildcard
// entry admits any well-formed origin; a missing Origin header is never
// admitted.
type originPolicy struct {
	wildcard bool
	allowed  map[string]struct{}
}

// compileOrigins canonicalizes the configured entries to scheme://host and
// returns the policy along with the canonical list. Blank and malformed
// entries are dropped.
func compileOrigins(entries []string) (originPolicy, []string) {
	policy := originPolicy{allowed: make(map[string]struct{}, len(entries))}
	var canonical []string

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
			continue
		case entry == "*":
			policy.wildcard = true
			continue
		}

		origin, ok := canonicalOrigin(entry)
		if !ok {
			logrus.WithField("origin", entry).Warn("Ignoring invalid origin in configuration")
			continue
		}
		if _, dup := policy.allowed[origin]; dup {
			continue
		}
		policy.allowed[origin] = struct{}{}
		canonical = append(canonical, origin)
	}

	return policy, canonical
}

func canonicalOrigin(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

func (p originPolicy) permits(origin string) bool {
	if origin == "" {
		return false
	}
	canonical, ok := canonicalOrigin(origin)
	if !ok {
		return false
	}
	if p.wildcard {
		return true
	}
	_, ok = p.allowed[canonical]
	return ok
}

// allowOrigin is the upgrader's origin check against the active configuration.
func allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if activeOriginPolicy().permits(origin) {
		return true
	}

	logrus.WithFields(logrus.Fields{
		"component": "origin",
		"origin":    origin,
		"remote":    r.RemoteAddr,
	}).Warn("Rejected websocket upgrade from disallowed origin")
	return false
}
