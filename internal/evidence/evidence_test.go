package evidence_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/garnizeh/taskgate/internal/apperr"
	"github.com/garnizeh/taskgate/internal/config"
	"github.com/garnizeh/taskgate/internal/dbtest"
	"github.com/garnizeh/taskgate/internal/evidence"
	"github.com/garnizeh/taskgate/internal/models"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func png(tail string) []byte {
	return append(append([]byte(nil), pngHeader...), tail...)
}

func TestHashIsStable(t *testing.T) {
	a := evidence.Hash(png("same"))
	b := evidence.Hash(png("same"))
	c := evidence.Hash(png("other"))
	if a != b {
		t.Fatalf("expected identical bytes to hash equal")
	}
	if a == c {
		t.Fatalf("expected different bytes to hash differently")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestCheck(t *testing.T) {
	v := evidence.NewVerifier(config.EvidenceConfig{MaxBytes: 64}, nil)
	goodHash := evidence.Hash(png("x"))

	cases := []struct {
		name    string
		in      evidence.Input
		wantErr bool
	}{
		{"png bytes", evidence.Input{Bytes: png("x")}, false},
		{"png bytes declared", evidence.Input{Bytes: png("x"), MimeType: "image/png"}, false},
		{"declared mismatch", evidence.Input{Bytes: png("x"), MimeType: "image/jpeg"}, true},
		{"text content", evidence.Input{Bytes: []byte("hello world")}, true},
		{"too large", evidence.Input{Bytes: png(strings.Repeat("a", 64))}, true},
		{"hash only", evidence.Input{Hash: goodHash, MimeType: "image/png", Size: 10}, false},
		{"hash only upper case", evidence.Input{Hash: strings.ToUpper(goodHash), MimeType: "image/png", Size: 10}, false},
		{"hash only no size", evidence.Input{Hash: goodHash, MimeType: "image/png"}, true},
		{"hash only no mime", evidence.Input{Hash: goodHash, Size: 10}, true},
		{"short hash", evidence.Input{Hash: "abc", MimeType: "image/png", Size: 10}, true},
		{"non hex hash", evidence.Input{Hash: strings.Repeat("z", 64), MimeType: "image/png", Size: 10}, true},
		{"hash mismatch", evidence.Input{Bytes: png("x"), Hash: evidence.Hash(png("y"))}, true},
		{"nothing", evidence.Input{MimeType: "image/png", Size: 10}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := v.Check(tc.in)
			if tc.wantErr {
				if !apperr.Is(err, apperr.KindValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Check error: %v", err)
			}
			if c.Hash != goodHash || c.MimeType != "image/png" {
				t.Fatalf("unexpected checked evidence: %#v", c)
			}
		})
	}
}

func TestVerifyScopes(t *testing.T) {
	repo := dbtest.Repo(t, false)
	ctx := context.Background()
	v := evidence.NewVerifier(config.EvidenceConfig{}, nil)
	img := png(string(bytes.Repeat([]byte{1}, 32)))

	tg, err := repo.GetOrCreateTarget(ctx, models.TargetWebsite, "acme.example")
	if err != nil {
		t.Fatalf("GetOrCreateTarget error: %v", err)
	}
	task := &models.Task{Kind: models.TaskResearch, TargetID: tg.ID, CategoryID: "product_a", ActionType: "research"}
	if _, err := repo.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}

	first, err := v.Verify(ctx, repo, evidence.Input{Bytes: img}, evidence.Scope{ActionType: "research", CategoryID: "product_a"})
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if first.IsDuplicate {
		t.Fatalf("expected first evidence to be novel")
	}

	a := &models.Action{TaskID: task.ID, UserID: 1, Step: 1, ActionType: "research", CategoryID: "product_a", TargetID: tg.ID, DayBucket: "2026-03-01"}
	if _, err := repo.CreateAction(ctx, a); err != nil {
		t.Fatalf("CreateAction error: %v", err)
	}
	if _, err := repo.CreateScreenshot(ctx, &models.Screenshot{ActionID: a.ID, MimeType: first.MimeType, FileSize: first.Size, Hash: first.Hash, UploadedBy: 1}); err != nil {
		t.Fatalf("CreateScreenshot error: %v", err)
	}

	same, err := v.Verify(ctx, repo, evidence.Input{Bytes: img}, evidence.Scope{ActionType: "research", CategoryID: "product_a"})
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !same.IsDuplicate || len(same.Matches) != 1 || same.Matches[0].ActionID != a.ID {
		t.Fatalf("expected duplicate of action %d, got %#v", a.ID, same)
	}

	scoped, err := v.Verify(ctx, repo, evidence.Input{Bytes: img}, evidence.Scope{ActionType: "research", CategoryID: "product_b"})
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if scoped.IsDuplicate {
		t.Fatalf("expected other category to miss without system-wide search")
	}

	wide, err := v.Verify(ctx, repo, evidence.Input{Bytes: img}, evidence.Scope{ActionType: "research", CategoryID: "product_b", SystemWide: true})
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !wide.IsDuplicate {
		t.Fatalf("expected system-wide search to find the match")
	}
}
