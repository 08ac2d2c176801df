package server

import (
	"taskmint/internal/domain"
)

type CreateProjectRequest struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type ProjectResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	Description    string `json:"description,omitempty"`
	TokenPool      int    `json:"token_pool"`
	TokensSpent    int    `json:"tokens_spent"`
	TokensReserved int    `json:"tokens_reserved"`
	TokensFree     int    `json:"tokens_free"`
	CreatedAt      string `json:"created_at"`
}

func projectResponse(p *domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:             p.ID,
		Name:           p.Name,
		Status:         p.Status,
		Description:    p.Description,
		TokenPool:      p.TokenPool,
		TokensSpent:    p.TokensSpent,
		TokensReserved: p.TokensReserved,
		TokensFree:     p.TokenPool - p.TokensSpent - p.TokensReserved,
		CreatedAt:      p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for i := range items {
		out = append(out, projectResponse(&items[i]))
	}
	return out
}

type CreateTaskRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	SkillID      string `json:"skill_id,omitempty"`
	SkillLevel   int    `json:"skill_level,omitempty"`
	RewardTokens int    `json:"reward_tokens,omitempty" minimum:"0"`
	Activity     string `json:"activity,omitempty" enum:"inactive,active,urgent"`
}

type TaskResponse struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	SkillID      string   `json:"skill_id,omitempty"`
	SkillLevel   int      `json:"skill_level"`
	RewardTokens int      `json:"reward_tokens"`
	Activity     string   `json:"activity"`
	Submitted    bool     `json:"submitted"`
	Status       string   `json:"status"`
	Assignees    []string `json:"assignees"`
	DependsOn    []string `json:"depends_on,omitempty"`
	SubmittedAt  *string  `json:"submitted_at,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
	CompletedAt  *string  `json:"completed_at,omitempty"`
}

func taskResponse(t *domain.Task) TaskResponse {
	assignees := t.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	return TaskResponse{
		ID:           t.ID,
		ProjectID:    t.ProjectID,
		Title:        t.Title,
		Description:  t.Description,
		SkillID:      t.SkillID,
		SkillLevel:   t.SkillLevel,
		RewardTokens: t.RewardTokens,
		Activity:     string(t.Activity),
		Submitted:    t.Submitted,
		Status:       t.StatusLabel(),
		Assignees:    assignees,
		DependsOn:    t.DependsOn,
		SubmittedAt:  t.SubmittedAt,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		CompletedAt:  t.CompletedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for i := range items {
		out = append(out, taskResponse(&items[i]))
	}
	return out
}

type PayoutResponse struct {
	TaskID         string         `json:"task_id"`
	RewardTokens   int            `json:"reward_tokens"`
	PerMemberShare int            `json:"per_member_share"`
	Remainder      int            `json:"remainder"`
	UpdatedLevels  map[string]int `json:"updated_levels"`
}

type ApproveResponse struct {
	Task   TaskResponse   `json:"task"`
	Payout PayoutResponse `json:"payout"`
}

func payoutResponse(s *domain.PayoutSummary) PayoutResponse {
	levels := s.UpdatedLevels
	if levels == nil {
		levels = map[string]int{}
	}
	return PayoutResponse{
		TaskID:         s.TaskID,
		RewardTokens:   s.RewardTokens,
		PerMemberShare: s.PerMemberShare,
		Remainder:      s.Remainder,
		UpdatedLevels:  levels,
	}
}

type MemberResponse struct {
	ID          string                  `json:"id"`
	DisplayName string                  `json:"display_name,omitempty"`
	Balance     int                     `json:"balance"`
	Skills      []SkillProgressResponse `json:"skills"`
	CreatedAt   string                  `json:"created_at"`
}

type SkillProgressResponse struct {
	SkillID string `json:"skill_id"`
	Exp     int    `json:"exp"`
	Level   int    `json:"level"`
}

func memberResponse(m *domain.Member, skills []domain.SkillProgress) MemberResponse {
	out := MemberResponse{
		ID:          m.ID,
		DisplayName: m.DisplayName,
		Balance:     m.Balance,
		Skills:      []SkillProgressResponse{},
		CreatedAt:   m.CreatedAt,
	}
	for _, s := range skills {
		out.Skills = append(out.Skills, SkillProgressResponse{SkillID: s.SkillID, Exp: s.Exp, Level: s.Level})
	}
	return out
}

type GranularPieceRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	SkillID      string `json:"skill_id,omitempty"`
	SkillLevel   int    `json:"skill_level,omitempty"`
	RewardTokens int    `json:"reward_tokens,omitempty" minimum:"0"`
	DependsOn    []int  `json:"depends_on,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, EventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Type:       e.Type,
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
		})
	}
	return out
}
