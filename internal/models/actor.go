package models

import (
	"fmt"

	"github.com/garnizeh/taskgate/internal/apperr"
)

// Actor is the caller identity supplied by the auth layer.
type Actor struct {
	UserID     int64    `json:"user_id"`
	Role       string   `json:"role"`
	Categories []string `json:"categories"`
}

// InScope reports whether the actor may act within categoryID. A "*"
// category grants every category.
func (a Actor) InScope(categoryID string) bool {
	for _, c := range a.Categories {
		if c == Wildcard || c == categoryID {
			return true
		}
	}
	return false
}

func (a Actor) CanWork() bool    { return a.Role == RoleWorker || a.Role == RoleAdmin }
func (a Actor) CanAudit() bool   { return a.Role == RoleAuditor || a.Role == RoleAdmin }
func (a Actor) CanOperate() bool { return a.Role == RoleOperator || a.Role == RoleAdmin }

// CheckScope returns an admission denial when categoryID is out of scope.
func (a Actor) CheckScope(categoryID string) error {
	if a.InScope(categoryID) {
		return nil
	}
	return apperr.Denied(apperr.ReasonOutOfScope, fmt.Sprintf("category %s is outside the caller's scope", categoryID), 0)
}

// Require returns an admission denial unless allowed is true.
func (a Actor) Require(allowed bool, what string) error {
	if allowed {
		return nil
	}
	return apperr.Denied(apperr.ReasonForbiddenRole, fmt.Sprintf("role %q may not %s", a.Role, what), 0)
}
