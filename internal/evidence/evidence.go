// Package evidence validates screenshots and detects reused content.
package evidence

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/garnizeh/taskgate/internal/apperr"
	"github.com/garnizeh/taskgate/internal/config"
	"github.com/garnizeh/taskgate/internal/models"
	"github.com/garnizeh/taskgate/pkg/repository"
)

const maxMatches = 10

// Input is a stored evidence reference plus its bytes or a precomputed hash.
type Input struct {
	FilePath string `json:"file_path"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash,omitempty"`
	Bytes    []byte `json:"bytes,omitempty"`
}

// Checked is an Input that passed format checks.
type Checked struct {
	FilePath string
	MimeType string
	Size     int64
	Hash     string
}

type Scope struct {
	ActionType string
	CategoryID string
	SystemWide bool
}

type Result struct {
	Checked
	IsDuplicate bool
	Matches     []models.Screenshot
}

type Verifier struct {
	maxBytes   int64
	allowed    map[string]bool
	systemWide bool
	logger     *slog.Logger
}

func NewVerifier(cfg config.EvidenceConfig, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Verifier{maxBytes: cfg.MaxBytes, allowed: map[string]bool{}, systemWide: cfg.SystemWideDedup, logger: logger}
	if v.maxBytes <= 0 {
		v.maxBytes = 10 << 20
	}
	types := cfg.AllowedMIMETypes
	if len(types) == 0 {
		types = []string{"image/png", "image/jpeg", "image/webp"}
	}
	for _, t := range types {
		v.allowed[strings.ToLower(t)] = true
	}
	return v
}

// SystemWide reports whether duplicates are searched past the action scope.
func (v *Verifier) SystemWide() bool { return v.systemWide }

// Hash returns the hex BLAKE2b-256 digest of b.
func Hash(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Check enforces size and MIME constraints and derives the content hash.
// Violations are validation errors; nothing is looked up or written.
func (v *Verifier) Check(in Input) (Checked, error) {
	c := Checked{FilePath: in.FilePath, Size: in.Size}

	declared := ""
	if in.MimeType != "" {
		mt, _, err := mime.ParseMediaType(in.MimeType)
		if err != nil {
			return c, apperr.Validation("invalid_mime", "unparseable mime type %q", in.MimeType)
		}
		declared = strings.ToLower(mt)
	}

	if len(in.Bytes) > 0 {
		c.Size = int64(len(in.Bytes))
		sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(in.Bytes))
		if declared != "" && declared != sniffed {
			return c, apperr.Validation("invalid_mime", "declared %s but content is %s", declared, sniffed)
		}
		declared = sniffed
	}
	if declared == "" {
		return c, apperr.Validation("invalid_mime", "mime type is required")
	}
	if !v.allowed[declared] {
		return c, apperr.Validation("invalid_mime", "mime type %s not allowed", declared)
	}
	c.MimeType = declared

	if c.Size <= 0 {
		return c, apperr.Validation("invalid_size", "evidence is empty")
	}
	if c.Size > v.maxBytes {
		return c, apperr.Validation("invalid_size", "evidence is %d bytes, limit %d", c.Size, v.maxBytes)
	}

	given := strings.ToLower(strings.TrimSpace(in.Hash))
	if given != "" {
		if len(given) != 2*blake2b.Size256 {
			return c, apperr.Validation("invalid_hash", "hash must be %d hex characters", 2*blake2b.Size256)
		}
		if _, err := hex.DecodeString(given); err != nil {
			return c, apperr.Validation("invalid_hash", "hash is not hex")
		}
	}
	switch {
	case len(in.Bytes) > 0:
		c.Hash = Hash(in.Bytes)
		if given != "" && given != c.Hash {
			return c, apperr.Validation("invalid_hash", "hash does not match content")
		}
	case given != "":
		c.Hash = given
	default:
		return c, apperr.Validation("invalid_hash", "evidence bytes or hash are required")
	}
	return c, nil
}

// Duplicates searches prior screenshots with the hash, first within the
// action type and category, then the whole corpus when scope allows.
func (v *Verifier) Duplicates(ctx context.Context, repo repository.EvidenceRepo, hash string, scope Scope) ([]models.Screenshot, error) {
	matches, err := repo.FindScreenshotsByHash(ctx, hash, scope.ActionType, scope.CategoryID, maxMatches)
	if err != nil {
		return nil, fmt.Errorf("find screenshots by hash: %w", err)
	}
	if len(matches) == 0 && scope.SystemWide {
		matches, err = repo.FindScreenshotsByHash(ctx, hash, "", "", maxMatches)
		if err != nil {
			return nil, fmt.Errorf("find screenshots by hash: %w", err)
		}
	}
	return matches, nil
}

// Verify is Check followed by Duplicates. A duplicate is reported, never
// rejected.
func (v *Verifier) Verify(ctx context.Context, repo repository.EvidenceRepo, in Input, scope Scope) (Result, error) {
	c, err := v.Check(in)
	if err != nil {
		return Result{Checked: c}, err
	}
	matches, err := v.Duplicates(ctx, repo, c.Hash, scope)
	if err != nil {
		return Result{Checked: c}, err
	}
	if len(matches) > 0 {
		v.logger.Info("duplicate evidence detected",
			slog.String("hash", c.Hash),
			slog.Int("matches", len(matches)),
			slog.Int64("first_action_id", matches[0].ActionID))
	}
	return Result{Checked: c, IsDuplicate: len(matches) > 0, Matches: matches}, nil
}
