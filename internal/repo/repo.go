package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskmint/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps all persistence of projects, tasks, members and payouts.
type Store struct {
	DB *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ---- Projects ----

func (s *Store) CreateProjectTx(ctx context.Context, tx *sql.Tx, p *domain.Project) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, status, description, token_pool, tokens_spent, tokens_reserved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Status, p.Description, p.TokenPool, p.TokensSpent, p.TokensReserved, p.CreatedAt)
	return err
}

func (s *Store) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	return getProject(ctx, s.DB, id)
}

func (s *Store) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Project, error) {
	return getProject(ctx, tx, id)
}

func getProject(ctx context.Context, q querier, id string) (*domain.Project, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, status, description, token_pool, tokens_spent, tokens_reserved, created_at
		FROM projects WHERE id = ?`, id)
	var p domain.Project
	err := row.Scan(&p.ID, &p.Name, &p.Status, &p.Description, &p.TokenPool, &p.TokensSpent, &p.TokensReserved, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, status, description, token_pool, tokens_spent, tokens_reserved, created_at
		FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.Description, &p.TokenPool, &p.TokensSpent, &p.TokensReserved, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SingleProject returns the only project in the workspace, or an error
// when there are zero or several.
func (s *Store) SingleProject(ctx context.Context) (*domain.Project, error) {
	items, err := s.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) != 1 {
		return nil, fmt.Errorf("workspace has %d projects: %w", len(items), ErrNotFound)
	}
	return &items[0], nil
}

// UpdateProjectTokensTx persists the ledger counters of a project.
func (s *Store) UpdateProjectTokensTx(ctx context.Context, tx *sql.Tx, p *domain.Project) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE projects SET token_pool = ?, tokens_spent = ?, tokens_reserved = ? WHERE id = ?`,
		p.TokenPool, p.TokensSpent, p.TokensReserved, p.ID)
	if err != nil {
		return err
	}
	return mustAffect(res, "project", p.ID)
}

func (s *Store) UpdateProjectStatusTx(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "project", id)
}

// ---- Project configs ----

func (s *Store) SaveProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string, raw []byte, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO project_configs (project_id, raw_yaml, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET raw_yaml = excluded.raw_yaml, updated_at = excluded.updated_at`,
		projectID, raw, updatedAt)
	return err
}

func (s *Store) GetProjectConfig(ctx context.Context, projectID string) ([]byte, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, `SELECT raw_yaml FROM project_configs WHERE project_id = ?`, projectID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("config for project %s: %w", projectID, ErrNotFound)
	}
	return raw, err
}

// ---- Tasks ----

func (s *Store) InsertTaskTx(ctx context.Context, tx *sql.Tx, t *domain.Task) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, skill_id, skill_level, reward_tokens,
			activity, submitted, submitted_at, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Description, t.SkillID, t.SkillLevel, t.RewardTokens,
		string(t.Activity), boolInt(t.Submitted), t.SubmittedAt, t.CreatedAt, t.UpdatedAt, t.CompletedAt)
	if err != nil {
		return err
	}
	if err := replaceAssignees(ctx, tx, t.ID, t.Assignees); err != nil {
		return err
	}
	return replaceDeps(ctx, tx, t.ID, t.DependsOn)
}

func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return getTask(ctx, s.DB, id)
}

func (s *Store) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Task, error) {
	return getTask(ctx, tx, id)
}

func getTask(ctx context.Context, q querier, id string) (*domain.Task, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, project_id, title, description, skill_id, skill_level, reward_tokens,
			activity, submitted, submitted_at, created_at, updated_at, completed_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	if t.Assignees, err = listAssignees(ctx, q, id); err != nil {
		return nil, err
	}
	if t.DependsOn, err = listDeps(ctx, q, id); err != nil {
		return nil, err
	}
	return t, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var activity string
	var submitted int
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.SkillID, &t.SkillLevel,
		&t.RewardTokens, &activity, &submitted, &t.SubmittedAt, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	t.Activity = domain.Activity(activity)
	t.Submitted = submitted != 0
	return &t, nil
}

// UpdateTaskTx persists everything mutable on a task, assignees included.
func (s *Store) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t *domain.Task) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, skill_id = ?, skill_level = ?, reward_tokens = ?,
			activity = ?, submitted = ?, submitted_at = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		t.Title, t.Description, t.SkillID, t.SkillLevel, t.RewardTokens,
		string(t.Activity), boolInt(t.Submitted), t.SubmittedAt, t.UpdatedAt, t.CompletedAt, t.ID)
	if err != nil {
		return err
	}
	if err := mustAffect(res, "task", t.ID); err != nil {
		return err
	}
	return replaceAssignees(ctx, tx, t.ID, t.Assignees)
}

func (s *Store) DeleteTaskTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "task", id)
}

func (s *Store) ListTasks(ctx context.Context, projectID string, activity string) ([]domain.Task, error) {
	query := `
		SELECT id, project_id, title, description, skill_id, skill_level, reward_tokens,
			activity, submitted, submitted_at, created_at, updated_at, completed_at
		FROM tasks WHERE project_id = ?`
	args := []any{projectID}
	if activity != "" {
		query += ` AND activity = ?`
		args = append(args, activity)
	}
	query += ` ORDER BY created_at`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Assignees, err = listAssignees(ctx, s.DB, out[i].ID); err != nil {
			return nil, err
		}
		if out[i].DependsOn, err = listDeps(ctx, s.DB, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CountTasksByLabel groups a project's tasks by their compound status
// label (activity plus submitted plus assignment).
func (s *Store) CountTasksByLabel(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT t.activity, t.submitted,
			EXISTS (SELECT 1 FROM task_assignees a WHERE a.task_id = t.id),
			count(*)
		FROM tasks t WHERE t.project_id = ?
		GROUP BY 1, 2, 3`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var activity string
		var submitted, assigned, count int
		if err := rows.Scan(&activity, &submitted, &assigned, &count); err != nil {
			return nil, err
		}
		t := domain.Task{Activity: domain.Activity(activity), Submitted: submitted != 0}
		if assigned != 0 {
			t.Assignees = []string{""}
		}
		res[t.StatusLabel()] += count
	}
	return res, rows.Err()
}

// ---- Assignees ----

func (s *Store) AddAssigneeTx(ctx context.Context, tx *sql.Tx, taskID, memberID string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO task_assignees (task_id, member_id) VALUES (?, ?)`, taskID, memberID)
	return err
}

func (s *Store) RemoveAssigneeTx(ctx context.Context, tx *sql.Tx, taskID, memberID string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM task_assignees WHERE task_id = ? AND member_id = ?`, taskID, memberID)
	return err
}

func listAssignees(ctx context.Context, q querier, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT member_id FROM task_assignees WHERE task_id = ? ORDER BY member_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func replaceAssignees(ctx context.Context, tx *sql.Tx, taskID string, members []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	for _, m := range members {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO task_assignees (task_id, member_id) VALUES (?, ?)`, taskID, m); err != nil {
			return err
		}
	}
	return nil
}

// ---- Dependencies ----

func listDeps(ctx context.Context, q querier, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT depends_on_task_id FROM task_deps WHERE task_id = ? ORDER BY depends_on_task_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func replaceDeps(ctx context.Context, tx *sql.Tx, taskID string, deps []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_deps WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	for _, d := range deps {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO task_deps (task_id, depends_on_task_id) VALUES (?, ?)`, taskID, d); err != nil {
			return err
		}
	}
	return nil
}

// ---- Members ----

// EnsureMemberTx creates the member row if it does not exist yet.
func (s *Store) EnsureMemberTx(ctx context.Context, tx *sql.Tx, id, createdAt string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO members (id, display_name, balance, created_at) VALUES (?, ?, 0, ?)
		ON CONFLICT(id) DO NOTHING`, id, id, createdAt)
	return err
}

func (s *Store) GetMember(ctx context.Context, id string) (*domain.Member, error) {
	return getMember(ctx, s.DB, id)
}

func (s *Store) GetMemberTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Member, error) {
	return getMember(ctx, tx, id)
}

func getMember(ctx context.Context, q querier, id string) (*domain.Member, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, display_name, balance, created_at FROM members WHERE id = ?`, id)
	var m domain.Member
	err := row.Scan(&m.ID, &m.DisplayName, &m.Balance, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListMembers(ctx context.Context) ([]domain.Member, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, display_name, balance, created_at FROM members ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.DisplayName, &m.Balance, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) AddMemberBalanceTx(ctx context.Context, tx *sql.Tx, id string, delta int) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE members SET balance = balance + ? WHERE id = ?`, delta, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "member", id)
}

// ---- Experience and skill progress ----

func (s *Store) AppendExperienceTx(ctx context.Context, tx *sql.Tx, e *domain.ExperienceEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO member_experience (member_id, task_id, tokens, created_at)
		VALUES (?, ?, ?, ?)`,
		e.MemberID, e.TaskID, e.Tokens, e.CreatedAt)
	return err
}

func (s *Store) ListExperience(ctx context.Context, memberID string) ([]domain.ExperienceEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, member_id, task_id, tokens, created_at
		FROM member_experience WHERE member_id = ? ORDER BY id`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ExperienceEntry
	for rows.Next() {
		var e domain.ExperienceEntry
		if err := rows.Scan(&e.ID, &e.MemberID, &e.TaskID, &e.Tokens, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetSkillProgressTx(ctx context.Context, tx *sql.Tx, memberID, skillID string) (*domain.SkillProgress, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT member_id, skill_id, exp, level, updated_at
		FROM skill_progress WHERE member_id = ? AND skill_id = ?`, memberID, skillID)
	var p domain.SkillProgress
	err := row.Scan(&p.MemberID, &p.SkillID, &p.Exp, &p.Level, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("skill progress %s/%s: %w", memberID, skillID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpsertSkillProgressTx(ctx context.Context, tx *sql.Tx, p *domain.SkillProgress) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO skill_progress (member_id, skill_id, exp, level, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(member_id, skill_id) DO UPDATE SET
			exp = excluded.exp, level = excluded.level, updated_at = excluded.updated_at`,
		p.MemberID, p.SkillID, p.Exp, p.Level, p.UpdatedAt)
	return err
}

func (s *Store) ListSkillProgress(ctx context.Context, memberID string) ([]domain.SkillProgress, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT member_id, skill_id, exp, level, updated_at
		FROM skill_progress WHERE member_id = ? ORDER BY skill_id`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SkillProgress
	for rows.Next() {
		var p domain.SkillProgress
		if err := rows.Scan(&p.MemberID, &p.SkillID, &p.Exp, &p.Level, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---- Events ----

func (s *Store) ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, ts, type, COALESCE(project_id, ''), entity_kind, COALESCE(entity_id, ''), actor_id, payload_json
		FROM events WHERE project_id = ? ORDER BY id DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventsAfter returns up to limit events with id greater than cursor,
// oldest first. Used by the webhook dispatcher.
func (s *Store) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, ts, type, COALESCE(project_id, ''), entity_kind, COALESCE(entity_id, ''), actor_id, payload_json
		FROM events WHERE id > ? AND project_id = ? ORDER BY id LIMIT ?`, cursor, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM events WHERE project_id = ?`, projectID).Scan(&id)
	return id, err
}

// ---- helpers ----

func mustAffect(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// IsUniqueViolation reports whether err is a SQLite unique constraint failure.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
