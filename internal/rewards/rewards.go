// Package rewards splits an approved task's reward across its assignees
// and advances each assignee's skill progression.
package rewards

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"taskmint/internal/domain"
	"taskmint/internal/repo"
)

// ErrNoAssignees is returned when a payout is attempted for a task
// nobody is assigned to.
var ErrNoAssignees = errors.New("task has no assignees")

// Split divides reward into equal integer shares. The remainder is not
// redistributed; it stays unpaid.
func Split(reward, assignees int) (share, remainder int) {
	if assignees <= 0 {
		return 0, reward
	}
	share = reward / assignees
	return share, reward - share*assignees
}

// LevelForExp maps accumulated experience to a level.
func LevelForExp(exp int) int {
	if exp < 0 {
		exp = 0
	}
	return int(math.Sqrt(float64(exp)/40.0)) + 1
}

// Distributor pays out approved tasks inside the caller's transaction.
type Distributor struct {
	Store *repo.Store
	Now   func() time.Time
}

// Distribute credits each assignee floor(reward/n) tokens, records the
// experience entries, and bumps skill progress for the task's skill.
// Must be called inside the approval transaction.
func (d *Distributor) Distribute(ctx context.Context, tx *sql.Tx, task *domain.Task) (*domain.PayoutSummary, error) {
	if len(task.Assignees) == 0 {
		return nil, fmt.Errorf("task %s: %w", task.ID, ErrNoAssignees)
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	ts := now().UTC().Format(time.RFC3339)

	share, remainder := Split(task.RewardTokens, len(task.Assignees))
	summary := &domain.PayoutSummary{
		TaskID:         task.ID,
		RewardTokens:   task.RewardTokens,
		PerMemberShare: share,
		Remainder:      remainder,
		UpdatedLevels:  map[string]int{},
	}

	for _, memberID := range task.Assignees {
		if err := d.Store.EnsureMemberTx(ctx, tx, memberID, ts); err != nil {
			return nil, err
		}
		if share > 0 {
			if err := d.Store.AddMemberBalanceTx(ctx, tx, memberID, share); err != nil {
				return nil, err
			}
		}
		if err := d.Store.AppendExperienceTx(ctx, tx, &domain.ExperienceEntry{
			MemberID:  memberID,
			TaskID:    task.ID,
			Tokens:    share,
			CreatedAt: ts,
		}); err != nil {
			return nil, err
		}
		if task.SkillID == "" {
			continue
		}
		level, err := d.bumpSkill(ctx, tx, memberID, task.SkillID, share, ts)
		if err != nil {
			return nil, err
		}
		summary.UpdatedLevels[memberID] = level
	}
	return summary, nil
}

func (d *Distributor) bumpSkill(ctx context.Context, tx *sql.Tx, memberID, skillID string, exp int, ts string) (int, error) {
	progress, err := d.Store.GetSkillProgressTx(ctx, tx, memberID, skillID)
	if errors.Is(err, repo.ErrNotFound) {
		progress = &domain.SkillProgress{MemberID: memberID, SkillID: skillID}
	} else if err != nil {
		return 0, err
	}
	progress.Exp += exp
	progress.Level = LevelForExp(progress.Exp)
	progress.UpdatedAt = ts
	if err := d.Store.UpsertSkillProgressTx(ctx, tx, progress); err != nil {
		return 0, err
	}
	return progress.Level, nil
}
