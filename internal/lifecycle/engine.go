// Package lifecycle coordinates task state transitions, token escrow and
// reward payout. Every public operation runs as one transaction: the
// project row is read first, then the task row, and either everything
// commits or nothing is applied.
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskmint/internal/config"
	"taskmint/internal/domain"
	"taskmint/internal/events"
	"taskmint/internal/ledger"
	"taskmint/internal/repo"
	"taskmint/internal/rewards"
)

type Engine struct {
	DB     *sql.DB
	Store  *repo.Store
	Events events.Writer
	Config *config.Config

	// Now is injectable for tests.
	Now func() time.Time
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:     db,
		Store:  repo.New(db),
		Events: events.Writer{},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e *Engine) now() string {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func (e *Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, busyOr(err)
	}
	return tx, nil
}

func (e *Engine) rejectPolicy() config.RejectPolicy {
	if e.Config != nil && e.Config.Lifecycle.OnReject == config.RejectPreserve {
		return config.RejectPreserve
	}
	return config.RejectToActive
}

// loadProjectAndTask reads the project row before the task row. Every
// operation goes through it so lock order is uniform.
func (e *Engine) loadProjectAndTask(ctx context.Context, tx *sql.Tx, taskID string) (*domain.Project, *domain.Task, error) {
	var projectID string
	err := tx.QueryRowContext(ctx, `SELECT project_id FROM tasks WHERE id = ?`, taskID).Scan(&projectID)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("task %s: %w", taskID, repo.ErrNotFound)
	}
	if err != nil {
		return nil, nil, busyOr(err)
	}
	project, err := e.Store.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return nil, nil, err
	}
	task, err := e.Store.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return nil, nil, err
	}
	return project, task, nil
}

// InitProject registers a new pending project with an empty token pool.
func (e *Engine) InitProject(ctx context.Context, actorID, id, name, description string) (*domain.Project, error) {
	if id == "" {
		id = uuid.NewString()
	}
	p := &domain.Project{
		ID:          id,
		Name:        name,
		Status:      "pending",
		Description: description,
		CreatedAt:   e.now(),
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Store.CreateProjectTx(ctx, tx, p); err != nil {
		return nil, busyOr(err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectInit, p.ID, "project", p.ID, actorID, events.EventPayload{"name": name}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, busyOr(err)
	}
	return p, nil
}

// SetProjectApproval decides a pending project. Approval funds the token
// pool at the configured default; rejection funds the smaller rejected
// pool so the project can still run a few probation tasks.
func (e *Engine) SetProjectApproval(ctx context.Context, actorID, projectID string, approved bool) (*domain.Project, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := e.Store.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	pool := 250
	rejectedPool := 80
	if e.Config != nil && e.Config.Tokens.DefaultPool > 0 {
		pool = e.Config.Tokens.DefaultPool
		rejectedPool = e.Config.Tokens.RejectedPool
	}
	if approved {
		p.Status = "approved"
		p.TokenPool = pool
	} else {
		p.Status = "rejected"
		p.TokenPool = rejectedPool
	}
	if p.TokenPool < p.TokensSpent+p.TokensReserved {
		return nil, ledger.InsufficientTokensError{
			ProjectID: p.ID,
			Pool:      p.TokenPool,
			Spent:     p.TokensSpent,
			Reserved:  p.TokensReserved,
			Requested: 0,
		}
	}
	if err := e.Store.UpdateProjectStatusTx(ctx, tx, p.ID, p.Status); err != nil {
		return nil, err
	}
	if err := e.Store.UpdateProjectTokensTx(ctx, tx, p); err != nil {
		return nil, busyOr(err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectApproval, p.ID, "project", p.ID, actorID,
		events.EventPayload{"approved": approved, "token_pool": p.TokenPool}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, busyOr(err)
	}
	return p, nil
}

type CreateTaskInput struct {
	ID           string
	ProjectID    string
	Title        string
	Description  string
	SkillID      string
	SkillLevel   int
	RewardTokens int
	Activity     domain.Activity
}

// CreateTask persists a new task. An active or urgent initial activity
// must win a reservation for the reward first; if the pool lacks
// headroom nothing is persisted.
func (e *Engine) CreateTask(ctx context.Context, actorID string, in CreateTaskInput) (*domain.Task, error) {
	if in.Title == "" {
		return nil, validationf("task title is required")
	}
	if in.RewardTokens < 0 {
		return nil, validationf("reward_tokens must be non-negative")
	}
	if in.Activity == "" {
		in.Activity = domain.ActivityInactive
	}
	if !domain.ValidActivity(string(in.Activity)) || in.Activity == domain.ActivityCompleted {
		return nil, validationf("invalid initial activity %q", in.Activity)
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := e.Store.GetProjectTx(ctx, tx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if in.Activity.Reserving() {
		if err := ledger.Reserve(p, in.RewardTokens); err != nil {
			return nil, err
		}
		if err := e.Store.UpdateProjectTokensTx(ctx, tx, p); err != nil {
			return nil, busyOr(err)
		}
	}

	ts := e.now()
	id := in.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(in.ProjectID+"|"+in.Title+"|"+ts)).String()
	}
	t := &domain.Task{
		ID:           id,
		ProjectID:    in.ProjectID,
		Title:        in.Title,
		Description:  in.Description,
		SkillID:      in.SkillID,
		SkillLevel:   in.SkillLevel,
		RewardTokens: in.RewardTokens,
		Activity:     in.Activity,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	if err := e.Store.InsertTaskTx(ctx, tx, t); err != nil {
		return nil, busyOr(err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskCreated, p.ID, "task", t.ID, actorID,
		events.EventPayload{"title": t.Title, "activity": string(t.Activity), "reward_tokens": t.RewardTokens}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, busyOr(err)
	}
	return t, nil
}

// Claim adds the member to the task's assignee set. Assignment is a set,
// so several members can hold the same task; claiming twice is a no-op.
func (e *Engine) Claim(ctx context.Context, actorID, taskID, memberID string) (*domain.Task, error) {
	if memberID == "" {
		memberID = actorID
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, t, err := e.loadProjectAndTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Activity == domain.ActivityCompleted {
		return nil, IllegalTransitionError{Op: "claim", TaskID: t.ID, Status: t.StatusLabel()}
	}
	ts := e.now()
	if err := e.Store.EnsureMemberTx(ctx, tx, memberID, ts); err != nil {
		return nil, busyOr(err)
	}
	if err := e.Store.AddAssigneeTx(ctx, tx, t.ID, memberID); err != nil {
		return nil, busyOr(err)
	}
	t.Assignees = appendUnique(t.Assignees, memberID)
	t.UpdatedAt = ts
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET updated_at = ? WHERE id = ?`, ts, t.ID); err != nil {
		return nil, busyOr(err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskClaimed, p.ID, "task", t.ID, actorID,
		events.EventPayload{"member_id": memberID}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, busyOr(err)
	}
	return t, nil
}

// Drop removes the member from the assignee set. Dropping a member who
// was never assigned succeeds without effect.
func (e *Engine) Drop(ctx context.Context, actorID, taskID, memberID string) (*domain.Task, error) {
	if memberID == "" {
		memberID = actorID
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, t, err := e.loadProjectAndTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if err := e.Store.RemoveAssigneeTx(ctx, tx, t.ID, memberID); err != nil {
		return nil, busyOr(err)
	}
	t.Assignees = removeString(t.Assignees, memberID)
	ts := e.now()
	t.UpdatedAt = ts
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET updated_at = ? WHERE id = ?`, ts, t.ID); err != nil {
		return nil, busyOr(err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskDropped, p.ID, "task", t.ID, actorID,
		events.EventPayload{"member_id": memberID}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, busyOr(err)
	}
	return t, nil
}

// Submit marks an assigned active or urgent task as awaiting review.
func (e *Engine) Submit(ctx context.Context, actorID, taskID string) (*domain.Task, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, t, err := e.loadProjectAndTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if !t.Activity.Reserving() || t.Submitted {
		return nil, IllegalTransitionError{Op: "submit", TaskID: t.ID, Status: t.StatusLabel()}
	}
	if len(t.Assignees) == 0 {
		return nil, IllegalTransitionError{Op: "submit", TaskID: t.ID, Status: t.StatusLabel()}
	}
	ts := e.now()
	t.Submitted = true
	t.SubmittedAt = &ts
	t.UpdatedAt = ts
	if err := e.Store.UpdateTaskTx(ctx, tx, t); err != nil {
		return nil, busyOr(err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskSubmitted, p.ID, "task", t.ID, actorID, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, busyOr(err)
	}
	return t, nil
}

// Reject returns a submitted task to work. What activity it returns to
// is the configured rejection policy: "active" resets to plain active,
// "preserve" keeps the activity it was submitted with.
func (e *Engine) Reject(ctx context.Context, actorID, taskID string) (*domain.Task, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, t, err := e.loadProjectAndTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if !t.Submitted || t.Activity == domain.ActivityCompleted {
		return nil, IllegalTransitionError{Op: "reject", TaskID: t.ID, Status: t.StatusLabel()}
	}
	t.Submitted = false
	t.SubmittedAt = nil
	if e.rejectPolicy() == config.RejectToActive {
		// Both active and urgent hold a reservation, so no ledger move.
		t.Activity = domain.ActivityActive
	}
	t.UpdatedAt = e.now()
	if err := e.Store.UpdateTaskTx(ctx, tx, t); err != nil {
		return nil, busyOr(err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskRejected, p.ID, "task", t.ID, actorID,
		events.EventPayload{"activity": string(t.Activity)}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, busyOr(err)
	}
	return t, nil
}

// Approve completes a submitted task: the reservation becomes a spend,
// every assignee is paid an equal floor share, and skill progress moves.
// All of it one transaction; a failed payout rolls back the approval.
func (e *Engine) Approve(ctx context.Context, actorID, taskID string) (*domain.Task, *domain.PayoutSummary, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	p, t, err := e.loadProjectAndTask(ctx, tx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if !t.Submitted || t.Activity == domain.ActivityCompleted {
		return nil, nil, IllegalTransitionError{Op: "approve", TaskID: t.ID, Status: t.StatusLabel()}
	}
	if len(t.Assignees) == 0 {
		return nil, nil, fmt.Errorf("task %s: %w", t.ID, ErrNoAssignees)
	}

	dist := &rewards.Distributor{Store: e.Store, Now: e.Now}
	summary, err := dist.Distribute(ctx, tx, t)
	if err != nil {
		return nil, nil, busyOr(err)
	}

	ledger.Commit(p, t.RewardTokens)
	if err := e.Store.UpdateProjectTokensTx(ctx, tx, p); err != nil {
		return nil, nil, busyOr(err)
	}

	ts := e.now()
	t.Activity = domain.ActivityCompleted
	t.Submitted = false
	t.SubmittedAt = nil
	t.Assignees = nil
	t.CompletedAt = &ts
	t.UpdatedAt = ts
	if err := e.Store.UpdateTaskTx(ctx, tx, t); err != nil {
		return nil, nil, busyOr(err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskApproved, p.ID, "task", t.ID, actorID,
		events.EventPayload{"per_member_share": summary.PerMemberShare, "remainder": summary.Remainder}); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, busyOr(err)
	}
	return t, summary, nil
}

// UpdateReward changes a task's reward. While the task holds a
// reservation the delta is adjusted against the pool; a failed
// adjustment leaves the reward untouched.
func (e *Engine) UpdateReward(ctx context.Context, actorID, taskID string, newReward int) (*domain.Task, error) {
	if newReward < 0 {
		return nil, validationf("reward_tokens must be non-negative")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, t, err := e.loadProjectAndTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Activity == domain.ActivityCompleted {
		return nil, IllegalTransitionError{Op: "update reward of", TaskID: t.ID, Status: t.StatusLabel()}
	}
	if t.Activity.Reserving() {
		if err := ledger.Adjust(p, newReward-t.RewardTokens); err != nil {
			return nil, err
		}
		if err := e.Store.UpdateProjectTokensTx(ctx, tx, p); err != nil {
			return nil, busyOr(err)
		}
	}
	old := t.RewardTokens
	t.RewardTokens = newReward
	t.UpdatedAt = e.now()
	if err := e.Store.UpdateTaskTx(ctx, tx, t); err != nil {
		return nil, busyOr(err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskReward, p.ID, "task", t.ID, actorID,
		events.EventPayload{"from": old, "to": newReward}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, busyOr(err)
	}
	return t, nil
}

// ChangeActivity moves a task between activity values. Entering active
// or urgent from a non-reserving activity takes a fresh reservation;
// leaving them releases it. Active and urgent swap with no ledger move.
// Entering completed this way pays nobody; approval is the paid path.
func (e *Engine) ChangeActivity(ctx context.Context, actorID, taskID string, newActivity domain.Activity) (*domain.Task, error) {
	if !domain.ValidActivity(string(newActivity)) {
		return nil, validationf("invalid activity %q", newActivity)
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, t, err := e.loadProjectAndTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Activity == newActivity {
		// Idempotent; no ledger mutation, no event.
		return t, busyOr(tx.Commit())
	}

	switch {
	case newActivity.Reserving() && !t.Activity.Reserving():
		if err := ledger.Reserve(p, t.RewardTokens); err != nil {
			return nil, err
		}
	case !newActivity.Reserving() && t.Activity.Reserving():
		ledger.Release(p, t.RewardTokens)
	}
	if err := e.Store.UpdateProjectTokensTx(ctx, tx, p); err != nil {
		return nil, busyOr(err)
	}

	ts := e.now()
	old := t.Activity
	t.Activity = newActivity
	t.UpdatedAt = ts
	if !newActivity.Reserving() {
		t.Submitted = false
		t.SubmittedAt = nil
	}
	if newActivity == domain.ActivityCompleted {
		t.Assignees = nil
		t.CompletedAt = &ts
	} else {
		t.CompletedAt = nil
	}
	if err := e.Store.UpdateTaskTx(ctx, tx, t); err != nil {
		return nil, busyOr(err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskActivity, p.ID, "task", t.ID, actorID,
		events.EventPayload{"from": string(old), "to": string(newActivity)}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, busyOr(err)
	}
	return t, nil
}

// GranularPiece describes one replacement task. DependsOn holds local
// indexes into the pieces slice; they are remapped to persisted ids.
type GranularPiece struct {
	Title        string
	Description  string
	SkillID      string
	SkillLevel   int
	RewardTokens int
	DependsOn    []int
}

// Granularize replaces a task with finer-grained pieces. The original is
// deleted, releasing any reservation it held; the pieces are created
// inactive and reserve their own rewards when activated.
func (e *Engine) Granularize(ctx context.Context, actorID, taskID string, pieces []GranularPiece) ([]domain.Task, error) {
	if len(pieces) == 0 {
		return nil, validationf("granularize needs at least one replacement task")
	}
	for i, piece := range pieces {
		if piece.Title == "" {
			return nil, validationf("piece %d: title is required", i)
		}
		if piece.RewardTokens < 0 {
			return nil, validationf("piece %d: reward_tokens must be non-negative", i)
		}
		for _, dep := range piece.DependsOn {
			if dep < 0 || dep >= len(pieces) || dep == i {
				return nil, validationf("piece %d: invalid dependency index %d", i, dep)
			}
		}
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, t, err := e.loadProjectAndTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Activity == domain.ActivityCompleted {
		return nil, IllegalTransitionError{Op: "granularize", TaskID: t.ID, Status: t.StatusLabel()}
	}
	if t.Activity.Reserving() {
		// The original's reservation dies with it; pieces start inactive
		// and reserve again when activated.
		ledger.Release(p, t.RewardTokens)
		if err := e.Store.UpdateProjectTokensTx(ctx, tx, p); err != nil {
			return nil, busyOr(err)
		}
	}
	if err := e.Store.DeleteTaskTx(ctx, tx, t.ID); err != nil {
		return nil, busyOr(err)
	}

	ts := e.now()
	ids := make([]string, len(pieces))
	for i := range pieces {
		ids[i] = uuid.NewSHA1(uuid.NameSpaceOID, []byte(t.ID+"|"+pieces[i].Title+"|"+fmt.Sprint(i)+"|"+ts)).String()
	}
	out := make([]domain.Task, 0, len(pieces))
	for i, piece := range pieces {
		deps := make([]string, 0, len(piece.DependsOn))
		for _, dep := range piece.DependsOn {
			deps = append(deps, ids[dep])
		}
		nt := domain.Task{
			ID:           ids[i],
			ProjectID:    t.ProjectID,
			Title:        piece.Title,
			Description:  piece.Description,
			SkillID:      piece.SkillID,
			SkillLevel:   piece.SkillLevel,
			RewardTokens: piece.RewardTokens,
			Activity:     domain.ActivityInactive,
			DependsOn:    deps,
			CreatedAt:    ts,
			UpdatedAt:    ts,
		}
		if nt.SkillID == "" {
			nt.SkillID = t.SkillID
		}
		if err := e.Store.InsertTaskTx(ctx, tx, &nt); err != nil {
			return nil, busyOr(err)
		}
		out = append(out, nt)
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskGranularized, p.ID, "task", t.ID, actorID,
		events.EventPayload{"replacements": ids}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, busyOr(err)
	}
	return out, nil
}

// ResetPeriod zeroes the project's spent counter. Reservations track live
// obligations and survive the reset.
func (e *Engine) ResetPeriod(ctx context.Context, actorID, projectID string) (*domain.Project, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := e.Store.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	ledger.ResetPeriod(p)
	if err := e.Store.UpdateProjectTokensTx(ctx, tx, p); err != nil {
		return nil, busyOr(err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeLedgerReset, p.ID, "project", p.ID, actorID, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, busyOr(err)
	}
	return p, nil
}

func appendUnique(xs []string, x string) []string {
	for _, v := range xs {
		if v == x {
			return xs
		}
	}
	return append(xs, x)
}

func removeString(xs []string, x string) []string {
	out := xs[:0]
	for _, v := range xs {
		if v != x {
			out = append(out, v)
		}
	}
	return out
}
