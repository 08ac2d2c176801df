package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"taskmint/internal/config"
	"taskmint/internal/db"
	"taskmint/internal/domain"
	"taskmint/internal/ledger"
	"taskmint/internal/migrate"
	"taskmint/internal/repo"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := New(conn, config.Default("p1"))
	e.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func approvedProject(t *testing.T, e *Engine) *domain.Project {
	t.Helper()
	ctx := context.Background()
	if _, err := e.InitProject(ctx, "admin", "p1", "Demo", ""); err != nil {
		t.Fatalf("init project: %v", err)
	}
	p, err := e.SetProjectApproval(ctx, "admin", "p1", true)
	if err != nil {
		t.Fatalf("approve project: %v", err)
	}
	return p
}

func TestProjectApprovalFundsPool(t *testing.T) {
	e := newTestEngine(t)
	p := approvedProject(t, e)
	if p.TokenPool != 250 {
		t.Fatalf("token pool = %d, want 250", p.TokenPool)
	}
	if p.Status != "approved" {
		t.Fatalf("status = %q, want approved", p.Status)
	}
}

func TestProjectRejectionFundsSmallerPool(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.InitProject(ctx, "admin", "p1", "Demo", ""); err != nil {
		t.Fatal(err)
	}
	p, err := e.SetProjectApproval(ctx, "admin", "p1", false)
	if err != nil {
		t.Fatal(err)
	}
	if p.TokenPool != 80 || p.Status != "rejected" {
		t.Fatalf("got pool=%d status=%q, want 80/rejected", p.TokenPool, p.Status)
	}
}

func TestCreateActiveTaskReserves(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "alice", CreateTaskInput{
		ProjectID: "p1", Title: "Wire the API", RewardTokens: 100, Activity: domain.ActivityActive,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.StatusLabel() != "active-unassigned" {
		t.Fatalf("status label = %q", task.StatusLabel())
	}
	p, err := e.Store.GetProject(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if p.TokensReserved != 100 {
		t.Fatalf("reserved = %d, want 100", p.TokensReserved)
	}
}

func TestCreateTaskInsufficientTokensPersistsNothing(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	_, err := e.CreateTask(ctx, "alice", CreateTaskInput{
		ProjectID: "p1", Title: "Too big", RewardTokens: 300, Activity: domain.ActivityActive,
	})
	var ite ledger.InsufficientTokensError
	if !errors.As(err, &ite) {
		t.Fatalf("want InsufficientTokensError, got %v", err)
	}
	if ite.Pool != 250 || ite.Requested != 300 {
		t.Fatalf("error carries pool=%d requested=%d", ite.Pool, ite.Requested)
	}
	tasks, err := e.Store.ListTasks(ctx, "p1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Fatalf("task was persisted despite reservation failure")
	}
	p, _ := e.Store.GetProject(ctx, "p1")
	if p.TokensReserved != 0 {
		t.Fatalf("reserved = %d, want 0", p.TokensReserved)
	}
}

func TestEndToEndApprovalScenario(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "admin", CreateTaskInput{
		ProjectID: "p1", Title: "Build exporter", SkillID: "golang", RewardTokens: 100, Activity: domain.ActivityActive,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Claim(ctx, "alice", task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Claim(ctx, "bob", task.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(ctx, "alice", task.ID); err != nil {
		t.Fatal(err)
	}

	done, summary, err := e.Approve(ctx, "admin", task.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if summary.PerMemberShare != 50 || summary.Remainder != 0 {
		t.Fatalf("payout share=%d remainder=%d, want 50/0", summary.PerMemberShare, summary.Remainder)
	}
	if done.StatusLabel() != "completed" {
		t.Fatalf("status = %q, want completed", done.StatusLabel())
	}
	if len(done.Assignees) != 0 {
		t.Fatalf("assignees not cleared: %v", done.Assignees)
	}

	p, _ := e.Store.GetProject(ctx, "p1")
	if p.TokensSpent != 100 || p.TokensReserved != 0 {
		t.Fatalf("ledger spent=%d reserved=%d, want 100/0", p.TokensSpent, p.TokensReserved)
	}
	for _, member := range []string{"alice", "bob"} {
		m, err := e.Store.GetMember(ctx, member)
		if err != nil {
			t.Fatal(err)
		}
		if m.Balance != 50 {
			t.Fatalf("%s balance = %d, want 50", member, m.Balance)
		}
		progress, err := e.Store.ListSkillProgress(ctx, member)
		if err != nil {
			t.Fatal(err)
		}
		if len(progress) != 1 || progress[0].Exp != 50 || progress[0].Level != 2 {
			t.Fatalf("%s skill progress = %+v", member, progress)
		}
	}
}

func TestRewardSplitFloorsRemainder(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "admin", CreateTaskInput{
		ProjectID: "p1", Title: "Small task", RewardTokens: 10, Activity: domain.ActivityActive,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range []string{"a", "b", "c"} {
		if _, err := e.Claim(ctx, m, task.ID, m); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.Submit(ctx, "a", task.ID); err != nil {
		t.Fatal(err)
	}
	_, summary, err := e.Approve(ctx, "admin", task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if summary.PerMemberShare != 3 || summary.Remainder != 1 {
		t.Fatalf("share=%d remainder=%d, want 3/1", summary.PerMemberShare, summary.Remainder)
	}
	for _, m := range []string{"a", "b", "c"} {
		member, _ := e.Store.GetMember(ctx, m)
		if member.Balance != 3 {
			t.Fatalf("%s balance = %d, want 3", m, member.Balance)
		}
	}
}

func TestApproveUnsubmittedIsIllegal(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "admin", CreateTaskInput{
		ProjectID: "p1", Title: "Not ready", RewardTokens: 40, Activity: domain.ActivityActive,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Claim(ctx, "alice", task.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	_, _, err = e.Approve(ctx, "admin", task.ID)
	var ite IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("want IllegalTransitionError, got %v", err)
	}
	if ite.Status != "active-assigned" {
		t.Fatalf("error status = %q, want active-assigned", ite.Status)
	}

	// Nothing moved.
	p, _ := e.Store.GetProject(ctx, "p1")
	if p.TokensSpent != 0 || p.TokensReserved != 40 {
		t.Fatalf("ledger spent=%d reserved=%d, want 0/40", p.TokensSpent, p.TokensReserved)
	}
	got, _ := e.Store.GetTask(ctx, task.ID)
	if got.StatusLabel() != "active-assigned" {
		t.Fatalf("status = %q, want active-assigned", got.StatusLabel())
	}
}

func TestSubmitRequiresAssignees(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "admin", CreateTaskInput{
		ProjectID: "p1", Title: "Nobody's task", RewardTokens: 10, Activity: domain.ActivityActive,
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Submit(ctx, "admin", task.ID)
	var ite IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("want IllegalTransitionError, got %v", err)
	}
}

func TestRejectDefaultPolicyDiscardsUrgency(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "admin", CreateTaskInput{
		ProjectID: "p1", Title: "Urgent work", RewardTokens: 20, Activity: domain.ActivityUrgent,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Claim(ctx, "alice", task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(ctx, "alice", task.ID); err != nil {
		t.Fatal(err)
	}
	got, err := e.Reject(ctx, "admin", task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Activity != domain.ActivityActive {
		t.Fatalf("activity = %q, want active", got.Activity)
	}
	if got.StatusLabel() != "active-assigned" {
		t.Fatalf("status = %q, want active-assigned", got.StatusLabel())
	}
}

func TestRejectPreservePolicyKeepsUrgency(t *testing.T) {
	e := newTestEngine(t)
	e.Config.Lifecycle.OnReject = config.RejectPreserve
	approvedProject(t, e)
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "admin", CreateTaskInput{
		ProjectID: "p1", Title: "Urgent work", RewardTokens: 20, Activity: domain.ActivityUrgent,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Claim(ctx, "alice", task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(ctx, "alice", task.ID); err != nil {
		t.Fatal(err)
	}
	got, err := e.Reject(ctx, "admin", task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Activity != domain.ActivityUrgent {
		t.Fatalf("activity = %q, want urgent", got.Activity)
	}
}

func TestChangeActivityLedgerMoves(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "admin", CreateTaskInput{
		ProjectID: "p1", Title: "Toggler", RewardTokens: 60,
	})
	if err != nil {
		t.Fatal(err)
	}
	reserved := func() int {
		p, err := e.Store.GetProject(ctx, "p1")
		if err != nil {
			t.Fatal(err)
		}
		return p.TokensReserved
	}
	if reserved() != 0 {
		t.Fatalf("inactive task reserved tokens")
	}
	if _, err := e.ChangeActivity(ctx, "admin", task.ID, domain.ActivityActive); err != nil {
		t.Fatal(err)
	}
	if reserved() != 60 {
		t.Fatalf("reserved = %d after activation, want 60", reserved())
	}
	// active -> urgent is free.
	if _, err := e.ChangeActivity(ctx, "admin", task.ID, domain.ActivityUrgent); err != nil {
		t.Fatal(err)
	}
	if reserved() != 60 {
		t.Fatalf("reserved = %d after urgent, want 60", reserved())
	}
	// Same activity is an idempotent no-op.
	if _, err := e.ChangeActivity(ctx, "admin", task.ID, domain.ActivityUrgent); err != nil {
		t.Fatal(err)
	}
	if reserved() != 60 {
		t.Fatalf("idempotent change moved the ledger")
	}
	if _, err := e.ChangeActivity(ctx, "admin", task.ID, domain.ActivityInactive); err != nil {
		t.Fatal(err)
	}
	if reserved() != 0 {
		t.Fatalf("reserved = %d after deactivation, want 0", reserved())
	}
}

func TestUpdateRewardAdjustsReservation(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "admin", CreateTaskInput{
		ProjectID: "p1", Title: "Repricing", RewardTokens: 100, Activity: domain.ActivityActive,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateReward(ctx, "admin", task.ID, 150); err != nil {
		t.Fatal(err)
	}
	p, _ := e.Store.GetProject(ctx, "p1")
	if p.TokensReserved != 150 {
		t.Fatalf("reserved = %d, want 150", p.TokensReserved)
	}

	// Raising beyond headroom fails and leaves the reward alone.
	_, err = e.UpdateReward(ctx, "admin", task.ID, 400)
	var ite ledger.InsufficientTokensError
	if !errors.As(err, &ite) {
		t.Fatalf("want InsufficientTokensError, got %v", err)
	}
	got, _ := e.Store.GetTask(ctx, task.ID)
	if got.RewardTokens != 150 {
		t.Fatalf("reward = %d, want unchanged 150", got.RewardTokens)
	}
	p, _ = e.Store.GetProject(ctx, "p1")
	if p.TokensReserved != 150 {
		t.Fatalf("reserved = %d, want unchanged 150", p.TokensReserved)
	}
}

func TestGranularizeRemapsDependencies(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "admin", CreateTaskInput{
		ProjectID: "p1", Title: "Epic", RewardTokens: 120, Activity: domain.ActivityActive,
	})
	if err != nil {
		t.Fatal(err)
	}
	pieces, err := e.Granularize(ctx, "admin", task.ID, []GranularPiece{
		{Title: "Design", RewardTokens: 30},
		{Title: "Implement", RewardTokens: 60, DependsOn: []int{0}},
		{Title: "Ship", RewardTokens: 30, DependsOn: []int{0, 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(pieces) != 3 {
		t.Fatalf("got %d pieces", len(pieces))
	}
	if _, err := e.Store.GetTask(ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("original task still present: %v", err)
	}
	for _, piece := range pieces {
		if piece.Activity != domain.ActivityInactive {
			t.Fatalf("piece %s activity = %q, want inactive", piece.Title, piece.Activity)
		}
	}
	impl, err := e.Store.GetTask(ctx, pieces[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(impl.DependsOn) != 1 || impl.DependsOn[0] != pieces[0].ID {
		t.Fatalf("dependency not remapped: %v", impl.DependsOn)
	}
	ship, err := e.Store.GetTask(ctx, pieces[2].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ship.DependsOn) != 2 {
		t.Fatalf("ship deps = %v", ship.DependsOn)
	}
	// The original's reservation was released; pieces start unfunded.
	p, _ := e.Store.GetProject(ctx, "p1")
	if p.TokensReserved != 0 {
		t.Fatalf("reserved = %d, want 0", p.TokensReserved)
	}
}

func TestResetPeriodKeepsReservations(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	done, err := e.CreateTask(ctx, "admin", CreateTaskInput{
		ProjectID: "p1", Title: "Paid", RewardTokens: 50, Activity: domain.ActivityActive,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Claim(ctx, "alice", done.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(ctx, "alice", done.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.Approve(ctx, "admin", done.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateTask(ctx, "admin", CreateTaskInput{
		ProjectID: "p1", Title: "Live", RewardTokens: 70, Activity: domain.ActivityActive,
	}); err != nil {
		t.Fatal(err)
	}

	p, err := e.ResetPeriod(ctx, "admin", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if p.TokensSpent != 0 {
		t.Fatalf("spent = %d after reset, want 0", p.TokensSpent)
	}
	if p.TokensReserved != 70 {
		t.Fatalf("reserved = %d after reset, want 70", p.TokensReserved)
	}
}

func TestClaimCompletedTaskIsIllegal(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "admin", CreateTaskInput{
		ProjectID: "p1", Title: "Done already", RewardTokens: 10, Activity: domain.ActivityActive,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Claim(ctx, "alice", task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(ctx, "alice", task.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.Approve(ctx, "admin", task.ID); err != nil {
		t.Fatal(err)
	}
	_, err = e.Claim(ctx, "bob", task.ID, "bob")
	var ite IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("want IllegalTransitionError, got %v", err)
	}
}

func TestDropIsNoOpTolerant(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "admin", CreateTaskInput{
		ProjectID: "p1", Title: "Solo", RewardTokens: 10, Activity: domain.ActivityActive,
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := e.Drop(ctx, "nobody", task.ID, "nobody")
	if err != nil {
		t.Fatalf("drop of never-assigned member should succeed: %v", err)
	}
	if len(got.Assignees) != 0 {
		t.Fatalf("assignees = %v", got.Assignees)
	}
}

func TestUnknownTaskIsNotFound(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	_, err := e.Claim(ctx, "alice", "no-such-task", "alice")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestConcurrentClaimsBothSucceed(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "admin", CreateTaskInput{
		ProjectID: "p1", Title: "Shared", RewardTokens: 10, Activity: domain.ActivityActive,
	})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, member := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, member string) {
			defer wg.Done()
			_, errs[i] = e.Claim(ctx, member, task.ID, member)
		}(i, member)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("claim %d failed: %v", i, err)
		}
	}
	got, err := e.Store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Assignees) != 2 {
		t.Fatalf("assignees = %v, want both members", got.Assignees)
	}
}

func TestClaimRacingDeactivationKeepsLedgerConsistent(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		task, err := e.CreateTask(ctx, "admin", CreateTaskInput{
			ProjectID: "p1", Title: fmt.Sprintf("Contended %d", i), RewardTokens: 40, Activity: domain.ActivityActive,
		})
		if err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = e.Claim(ctx, "alice", task.ID, "")
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = e.ChangeActivity(ctx, "admin", task.ID, domain.ActivityInactive)
		}()
		wg.Wait()
		for j, err := range errs {
			if err != nil {
				t.Fatalf("iteration %d op %d: %v", i, j, err)
			}
		}

		p, err := e.Store.GetProject(ctx, "p1")
		if err != nil {
			t.Fatal(err)
		}
		if p.TokensReserved != 0 {
			t.Fatalf("iteration %d: tokens_reserved = %d, want 0", i, p.TokensReserved)
		}
		if p.TokensSpent+p.TokensReserved > p.TokenPool {
			t.Fatalf("iteration %d: spent %d + reserved %d exceeds pool %d",
				i, p.TokensSpent, p.TokensReserved, p.TokenPool)
		}
		got, err := e.Store.GetTask(ctx, task.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Activity != domain.ActivityInactive {
			t.Fatalf("iteration %d: activity = %q, want inactive", i, got.Activity)
		}
	}
}

func TestCreateTaskRejectsMalformedInput(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	cases := []CreateTaskInput{
		{ProjectID: "p1", RewardTokens: 10},
		{ProjectID: "p1", Title: "Negative", RewardTokens: -1},
		{ProjectID: "p1", Title: "Done on arrival", Activity: domain.ActivityCompleted},
	}
	for i, in := range cases {
		_, err := e.CreateTask(ctx, "admin", in)
		var ve ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("case %d: got %v, want ValidationError", i, err)
		}
	}
}

func TestLedgerInvariantAcrossSequence(t *testing.T) {
	e := newTestEngine(t)
	approvedProject(t, e)
	ctx := context.Background()

	check := func(step string) {
		p, err := e.Store.GetProject(ctx, "p1")
		if err != nil {
			t.Fatal(err)
		}
		if p.TokensSpent+p.TokensReserved > p.TokenPool {
			t.Fatalf("%s: spent(%d)+reserved(%d) > pool(%d)", step, p.TokensSpent, p.TokensReserved, p.TokenPool)
		}
	}

	t1, err := e.CreateTask(ctx, "admin", CreateTaskInput{ProjectID: "p1", Title: "One", RewardTokens: 100, Activity: domain.ActivityActive})
	if err != nil {
		t.Fatal(err)
	}
	check("create t1")
	t2, err := e.CreateTask(ctx, "admin", CreateTaskInput{ProjectID: "p1", Title: "Two", RewardTokens: 100, Activity: domain.ActivityUrgent})
	if err != nil {
		t.Fatal(err)
	}
	check("create t2")
	if _, err := e.UpdateReward(ctx, "admin", t2.ID, 150); err != nil {
		t.Fatal(err)
	}
	check("update t2 reward")
	if _, err := e.Claim(ctx, "alice", t1.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(ctx, "alice", t1.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.Approve(ctx, "admin", t1.ID); err != nil {
		t.Fatal(err)
	}
	check("approve t1")
	if _, err := e.ChangeActivity(ctx, "admin", t2.ID, domain.ActivityInactive); err != nil {
		t.Fatal(err)
	}
	check("deactivate t2")
}
