package models

// Domain models matching the database schema in db/migrations/0001_init.sql.
// Timestamps are unix milliseconds (UTC); nullable timestamps are pointers.

type TargetKind string

const (
	TargetCompany  TargetKind = "company"
	TargetWebsite  TargetKind = "website"
	TargetLinkedIn TargetKind = "linkedin"
)

func (k TargetKind) Valid() bool {
	switch k {
	case TargetCompany, TargetWebsite, TargetLinkedIn:
		return true
	}
	return false
}

type Target struct {
	ID         int64      `json:"id" db:"id"`
	Kind       TargetKind `json:"kind" db:"kind"`
	Identifier string     `json:"identifier" db:"identifier"`
	Created    int64      `json:"created" db:"created"`
}

type TaskKind string

const (
	TaskResearch TaskKind = "research"
	TaskInquiry  TaskKind = "inquiry"
)

func (k TaskKind) Valid() bool {
	return k == TaskResearch || k == TaskInquiry
}

type Task struct {
	ID             int64      `json:"id" db:"id"`
	Kind           TaskKind   `json:"kind" db:"kind"`
	TargetID       int64      `json:"target_id" db:"target_id"`
	CategoryID     string     `json:"category_id" db:"category_id"`
	ActionType     string     `json:"action_type" db:"action_type"`
	Status         TaskStatus `json:"status" db:"status"`
	AssignedTo     *int64     `json:"assigned_to_user_id,omitempty" db:"assigned_to_user_id"`
	AssignedRole   string     `json:"assigned_role,omitempty" db:"assigned_role"`
	ClaimedAt      *int64     `json:"claimed_at,omitempty" db:"claimed_at"`
	ClaimExpiresAt *int64     `json:"claim_expires_at,omitempty" db:"claim_expires_at"`
	Attempt        int        `json:"attempt" db:"attempt"`
	Version        int64      `json:"version" db:"version"`
	Created        int64      `json:"created" db:"created"`
	Updated        int64      `json:"updated" db:"updated"`
}

// ClaimedBy reports whether the task is currently assigned to userID.
func (t *Task) ClaimedBy(userID int64) bool {
	return t.AssignedTo != nil && *t.AssignedTo == userID
}

// ClaimLive reports whether the claim has not expired at nowMS.
func (t *Task) ClaimLive(nowMS int64) bool {
	return t.ClaimExpiresAt != nil && *t.ClaimExpiresAt > nowMS
}

type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeApproved  Outcome = "approved"
	OutcomeRejected  Outcome = "rejected"
	OutcomeAbandoned Outcome = "abandoned"
)

// Live outcomes occupy a step and count against quota.
func (o Outcome) Live() bool {
	return o == OutcomePending || o == OutcomeApproved
}

type Action struct {
	ID               int64   `json:"id" db:"id"`
	TaskID           int64   `json:"task_id" db:"task_id"`
	UserID           int64   `json:"user_id" db:"user_id"`
	Step             int     `json:"step" db:"step"`
	ActionType       string  `json:"action_type" db:"action_type"`
	CategoryID       string  `json:"category_id" db:"category_id"`
	TargetID         int64   `json:"target_id" db:"target_id"`
	Outcome          Outcome `json:"outcome" db:"outcome"`
	DayBucket        string  `json:"day_bucket" db:"day_bucket"`
	PreviousActionID *int64  `json:"previous_action_id,omitempty" db:"previous_action_id"`
	Notes            string  `json:"notes,omitempty" db:"notes"`
	DecidedBy        *int64  `json:"decided_by,omitempty" db:"decided_by"`
	DecidedAt        *int64  `json:"decided_at,omitempty" db:"decided_at"`
	Created          int64   `json:"created" db:"created"`
}

type Screenshot struct {
	ID         int64  `json:"id" db:"id"`
	ActionID   int64  `json:"action_id" db:"action_id"`
	FilePath   string `json:"file_path" db:"file_path"`
	MimeType   string `json:"mime_type" db:"mime_type"`
	FileSize   int64  `json:"file_size" db:"file_size"`
	Hash       string `json:"hash" db:"hash"`
	Duplicate  bool   `json:"is_duplicate" db:"is_duplicate"`
	UploadedBy int64  `json:"uploaded_by_user_id" db:"uploaded_by_user_id"`
	Created    int64  `json:"created" db:"created"`
}

type FlaggedAction struct {
	ID         int64   `json:"id" db:"id"`
	UserID     int64   `json:"user_id" db:"user_id"`
	TargetID   int64   `json:"target_id" db:"target_id"`
	ActionType string  `json:"action_type" db:"action_type"`
	CategoryID string  `json:"category_id" db:"category_id"`
	Role       string  `json:"role" db:"role"`
	ActionID   *int64  `json:"action_id,omitempty" db:"action_id"`
	TaskID     *int64  `json:"task_id,omitempty" db:"task_id"`
	Reason     string  `json:"reason" db:"reason"`
	Resolved   bool    `json:"resolved" db:"resolved"`
	Resolution *string `json:"resolution,omitempty" db:"resolution"`
	ResolvedBy *int64  `json:"resolved_by,omitempty" db:"resolved_by"`
	Created    int64   `json:"created" db:"created"`
	ResolvedAt *int64  `json:"resolved_at,omitempty" db:"resolved_at"`
}

const FlagReasonReusedScreenshot = "reused screenshot"

type RuleStatus string

const (
	RuleActive   RuleStatus = "active"
	RuleInactive RuleStatus = "inactive"
)

// Wildcard matches any action type or role in a CategoryRule.
const Wildcard = "*"

type CategoryRule struct {
	ID                   int64      `json:"id" db:"id"`
	CategoryID           string     `json:"category_id" db:"category_id"`
	ActionType           string     `json:"action_type" db:"action_type"`
	Role                 string     `json:"role" db:"role"`
	DailyLimitOverride   *int       `json:"daily_limit_override,omitempty" db:"daily_limit_override"`
	CooldownDaysOverride *int       `json:"cooldown_days_override,omitempty" db:"cooldown_days_override"`
	RequiredActions      int        `json:"required_actions" db:"required_actions"`
	ScreenshotRequired   bool       `json:"screenshot_required" db:"screenshot_required"`
	StrictOrder          bool       `json:"strict_order" db:"strict_order"`
	Status               RuleStatus `json:"status" db:"status"`
	Priority             int        `json:"priority" db:"priority"`
	Created              int64      `json:"created" db:"created"`
	Updated              int64      `json:"updated" db:"updated"`
}

type CooldownRecord struct {
	ID                int64  `json:"id" db:"id"`
	UserID            int64  `json:"user_id" db:"user_id"`
	TargetID          int64  `json:"target_id" db:"target_id"`
	ActionType        string `json:"action_type" db:"action_type"`
	CategoryID        string `json:"category_id" db:"category_id"`
	ActionCount       int    `json:"action_count" db:"action_count"`
	CooldownStartedAt int64  `json:"cooldown_started_at" db:"cooldown_started_at"`
	Updated           int64  `json:"updated" db:"updated"`
}

type LastContact struct {
	TargetID      int64    `json:"target_id" db:"target_id"`
	CategoryID    string   `json:"category_id" db:"category_id"`
	LastContacted int64    `json:"last_contacted_at" db:"last_contacted_at"`
	ContactedBy   int64    `json:"contacted_by_user_id" db:"contacted_by_user_id"`
	TaskType      TaskKind `json:"task_type" db:"task_type"`
}

type RoleMetrics struct {
	ID         int64  `json:"id" db:"id"`
	UserID     int64  `json:"user_id" db:"user_id"`
	Role       string `json:"role" db:"role"`
	CategoryID string `json:"category_id" db:"category_id"`
	Date       string `json:"date" db:"date"`
	Total      int    `json:"total_actions" db:"total_actions"`
	Approved   int    `json:"approved_actions" db:"approved_actions"`
	Rejected   int    `json:"rejected_actions" db:"rejected_actions"`
	Flagged    int    `json:"flagged_actions" db:"flagged_actions"`
	Updated    int64  `json:"updated" db:"updated"`
}

type PaymentRecord struct {
	ID         int64  `json:"id" db:"id"`
	TaskID     int64  `json:"task_id" db:"task_id"`
	UserID     int64  `json:"user_id" db:"user_id"`
	Eligible   bool   `json:"eligible" db:"eligible"`
	EligibleAt *int64 `json:"eligible_at,omitempty" db:"eligible_at"`
	Created    int64  `json:"created" db:"created"`
}
