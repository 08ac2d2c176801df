package domain

// Activity is the lifecycle dimension of a task's composite status.
type Activity string

const (
	ActivityInactive  Activity = "inactive"
	ActivityActive    Activity = "active"
	ActivityUrgent    Activity = "urgent"
	ActivityCompleted Activity = "completed"
)

// ValidActivity reports whether s names a known activity value.
func ValidActivity(s string) bool {
	switch Activity(s) {
	case ActivityInactive, ActivityActive, ActivityUrgent, ActivityCompleted:
		return true
	}
	return false
}

// Reserving reports whether tasks in this activity hold a token reservation.
func (a Activity) Reserving() bool {
	return a == ActivityActive || a == ActivityUrgent
}

type Project struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status" enum:"pending,approved,rejected,archived"`
	Description    string `json:"description,omitempty"`
	TokenPool      int    `json:"token_pool"`
	TokensSpent    int    `json:"tokens_spent"`
	TokensReserved int    `json:"tokens_reserved"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	SkillID      string   `json:"skill_id,omitempty"`
	SkillLevel   int      `json:"skill_level"`
	RewardTokens int      `json:"reward_tokens"`
	Activity     Activity `json:"activity" enum:"inactive,active,urgent,completed"`
	Submitted    bool     `json:"submitted"`
	SubmittedAt  *string  `json:"submitted_at,omitempty" format:"date-time"`
	Assignees    []string `json:"assignees"`
	DependsOn    []string `json:"depends_on,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
	CompletedAt  *string  `json:"completed_at,omitempty" format:"date-time"`
}

// StatusLabel derives the compound status token exposed on the API:
// "completed" and "submitted" override the "<activity>-<assignment>" form.
func (t Task) StatusLabel() string {
	if t.Activity == ActivityCompleted {
		return "completed"
	}
	if t.Submitted {
		return "submitted"
	}
	assignment := "unassigned"
	if len(t.Assignees) > 0 {
		assignment = "assigned"
	}
	return string(t.Activity) + "-" + assignment
}

type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Balance     int    `json:"balance"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// ExperienceEntry is one row of a member's append-only payout audit trail.
type ExperienceEntry struct {
	ID        int64  `json:"id"`
	MemberID  string `json:"member_id"`
	TaskID    string `json:"task_id"`
	Tokens    int    `json:"tokens"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// SkillProgress is a member's accumulated experience in one skill.
type SkillProgress struct {
	MemberID  string `json:"member_id"`
	SkillID   string `json:"skill_id"`
	Exp       int    `json:"exp"`
	Level     int    `json:"level"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// PayoutSummary reports what an approval paid out.
type PayoutSummary struct {
	TaskID         string         `json:"task_id"`
	RewardTokens   int            `json:"reward_tokens"`
	PerMemberShare int            `json:"per_member_share"`
	Remainder      int            `json:"remainder"`
	UpdatedLevels  map[string]int `json:"updated_levels"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string  `json:"id"`
	ActorID   string  `json:"actor_id"`
	Name      string  `json:"name,omitempty"`
	KeyHash   string  `json:"-"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	RevokedAt *string `json:"revoked_at,omitempty" format:"date-time"`
}
