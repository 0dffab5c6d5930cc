package models

import (
	"net/url"
	"strings"
)

// Roles carried in the identity token.
const (
	RoleWorker   = "worker"
	RoleAuditor  = "auditor"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

func ValidRole(r string) bool {
	switch r {
	case RoleWorker, RoleAuditor, RoleOperator, RoleAdmin:
		return true
	}
	return false
}

// NormalizeIdentifier canonicalizes a target URL or company key so that the
// same target is stored once: lower case, no scheme, no leading "www.", no
// query, fragment or trailing slash.
func NormalizeIdentifier(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "://"); i >= 0 {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			s = u.Host + u.EscapedPath()
		} else {
			s = s[i+3:]
		}
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimRight(s, "/")
}
