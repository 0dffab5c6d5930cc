package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/qri-io/jsonschema"

	"github.com/garnizeh/taskgate/internal/apperr"
	"github.com/garnizeh/taskgate/internal/models"
	"github.com/garnizeh/taskgate/internal/rules"
)

// ruleSchema is the accepted shape of a PUT /v1/rules/{categoryId} body.
const ruleSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"action_type": {"type": "string", "minLength": 1, "maxLength": 128},
		"role": {"type": "string", "enum": ["*", "worker", "auditor", "operator", "admin"]},
		"daily_limit_override": {"type": ["integer", "null"], "minimum": 0},
		"cooldown_days_override": {"type": ["integer", "null"], "minimum": 0},
		"required_actions": {"type": "integer", "minimum": 1, "maximum": 20},
		"screenshot_required": {"type": "boolean"},
		"strict_order": {"type": "boolean"},
		"status": {"type": "string", "enum": ["active", "inactive"]},
		"priority": {"type": "integer"}
	}
}`

type rulePayload struct {
	ActionType           string `json:"action_type"`
	Role                 string `json:"role"`
	DailyLimitOverride   *int   `json:"daily_limit_override"`
	CooldownDaysOverride *int   `json:"cooldown_days_override"`
	RequiredActions      int    `json:"required_actions"`
	ScreenshotRequired   *bool  `json:"screenshot_required"`
	StrictOrder          bool   `json:"strict_order"`
	Status               string `json:"status"`
	Priority             int    `json:"priority"`
}

type RulesHandler struct {
	store  *rules.Store
	schema *jsonschema.Schema
}

func NewRulesHandler(store *rules.Store) *RulesHandler {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(ruleSchema), rs); err != nil {
		panic(fmt.Sprintf("rule schema: %v", err))
	}
	return &RulesHandler{store: store, schema: rs}
}

type rulesResponse struct {
	CategoryID string                `json:"category_id"`
	Role       string                `json:"role"`
	Rules      []models.CategoryRule `json:"rules"`
	Effective  []rules.EffectiveRule `json:"effective"`
}

// GetRules lists a category's rule rows and the effective rule per action
// type for a role (the caller's role by default).
func (h *RulesHandler) GetRules(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	categoryID := mux.Vars(r)["categoryId"]
	if err := actor.CheckScope(categoryID); err != nil {
		writeError(w, r, err)
		return
	}
	role := r.URL.Query().Get("role")
	if role == "" {
		role = actor.Role
	}
	if !models.ValidRole(role) {
		writeError(w, r, apperr.Validation("invalid_role", "unknown role %q", role))
		return
	}

	rows, err := h.store.List(r.Context(), categoryID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	eff, err := h.store.EffectiveSet(r.Context(), categoryID, role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []models.CategoryRule{}
	}
	writeJSON(w, rulesResponse{CategoryID: categoryID, Role: role, Rules: rows, Effective: eff}, http.StatusOK)
}

// PutRule validates the body against the rule schema and upserts the row
// keyed by (category, action type, role).
func (h *RulesHandler) PutRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	if err := actor.Require(actor.CanOperate(), "manage rules"); err != nil {
		writeError(w, r, err)
		return
	}
	categoryID := mux.Vars(r)["categoryId"]
	if err := actor.CheckScope(categoryID); err != nil {
		writeError(w, r, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, apperr.Validation("invalid_body", "read body: %v", err))
		return
	}
	keyErrs, err := h.schema.ValidateBytes(r.Context(), body)
	if err != nil {
		writeError(w, r, apperr.Validation("invalid_body", "invalid json: %v", err))
		return
	}
	if len(keyErrs) > 0 {
		msgs := make([]string, 0, len(keyErrs))
		for _, ke := range keyErrs {
			msgs = append(msgs, fmt.Sprintf("%s: %s", ke.PropertyPath, ke.Message))
		}
		writeError(w, r, apperr.Validation("invalid_rule", "%s", strings.Join(msgs, "; ")))
		return
	}

	var p rulePayload
	if err := json.Unmarshal(body, &p); err != nil {
		writeError(w, r, apperr.Validation("invalid_body", "invalid json: %v", err))
		return
	}
	cr := &models.CategoryRule{
		CategoryID:           categoryID,
		ActionType:           p.ActionType,
		Role:                 p.Role,
		DailyLimitOverride:   p.DailyLimitOverride,
		CooldownDaysOverride: p.CooldownDaysOverride,
		RequiredActions:      p.RequiredActions,
		ScreenshotRequired:   p.ScreenshotRequired == nil || *p.ScreenshotRequired,
		StrictOrder:          p.StrictOrder,
		Status:               models.RuleStatus(p.Status),
		Priority:             p.Priority,
	}
	if err := h.store.Upsert(r.Context(), cr); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, cr, http.StatusOK)
}
