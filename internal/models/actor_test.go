package models

import (
	"testing"

	"github.com/garnizeh/taskgate/internal/apperr"
)

func TestActorScope(t *testing.T) {
	a := Actor{UserID: 1, Role: RoleWorker, Categories: []string{"product_a"}}
	if !a.InScope("product_a") || a.InScope("product_b") {
		t.Fatalf("unexpected scope result for %#v", a)
	}
	if err := a.CheckScope("product_b"); !apperr.Is(err, apperr.KindAdmissionDenied) {
		t.Fatalf("expected admission denied, got %v", err)
	}

	all := Actor{Role: RoleAdmin, Categories: []string{Wildcard}}
	if !all.InScope("anything") {
		t.Fatalf("expected wildcard scope to match")
	}
	if !all.CanWork() || !all.CanAudit() || !all.CanOperate() {
		t.Fatalf("expected admin to hold every capability")
	}

	if a.CanAudit() || a.CanOperate() {
		t.Fatalf("expected worker to lack audit and operate")
	}
	if err := a.Require(a.CanAudit(), "approve tasks"); !apperr.Is(err, apperr.KindAdmissionDenied) {
		t.Fatalf("expected denial for missing role, got %v", err)
	}
}
