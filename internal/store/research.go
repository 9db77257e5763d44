package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// CreateResearchTask inserts a new task in the awaiting_focus state
// (spec.md §4.7's state machine).
func (s *Store) CreateResearchTask(ctx context.Context, t ResearchTask) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO research_tasks (thread_id, "user", focus, status, max_iterations, focus_deadline)
		VALUES ($1,$2,$3,'awaiting_focus',$4,$5) RETURNING id`,
		t.ThreadID, t.User, t.Focus, t.MaxIterations, t.FocusDeadline,
	).Scan(&id)
	return id, err
}

// ResearchTaskByID fetches a single task.
func (s *Store) ResearchTaskByID(ctx context.Context, id int64) (ResearchTask, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, thread_id, "user", focus, status, iteration, max_iterations, report, created_at, focus_deadline
		FROM research_tasks WHERE id = $1`, id)
	t, err := scanResearchTaskRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ResearchTask{}, ErrNotFound
	}
	return t, err
}

// ActiveResearchTaskForThread returns the task awaiting focus or in progress
// for a thread, if any — a thread has at most one active task at a time
// (spec.md §4.7).
func (s *Store) ActiveResearchTaskForThread(ctx context.Context, threadID string) (ResearchTask, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, thread_id, "user", focus, status, iteration, max_iterations, report, created_at, focus_deadline
		FROM research_tasks WHERE thread_id = $1 AND status IN ('awaiting_focus','in_progress')
		ORDER BY created_at DESC LIMIT 1`, threadID)
	t, err := scanResearchTaskRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ResearchTask{}, ErrNotFound
	}
	return t, err
}

// AwaitingFocusResearchTasks returns every task still waiting on a
// user-supplied focus, for the research agent's timeout sweep.
func (s *Store) AwaitingFocusResearchTasks(ctx context.Context) ([]ResearchTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, thread_id, "user", focus, status, iteration, max_iterations, report, created_at, focus_deadline
		FROM research_tasks WHERE status = 'awaiting_focus'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResearchTask
	for rows.Next() {
		t, err := scanResearchTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InProgressResearchTasks returns every task the scheduler should advance.
func (s *Store) InProgressResearchTasks(ctx context.Context) ([]ResearchTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, thread_id, "user", focus, status, iteration, max_iterations, report, created_at, focus_deadline
		FROM research_tasks WHERE status = 'in_progress'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResearchTask
	for rows.Next() {
		t, err := scanResearchTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetResearchFocus records the user-supplied focus and transitions
// awaiting_focus -> in_progress.
func (s *Store) SetResearchFocus(ctx context.Context, id int64, focus string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE research_tasks SET focus = $1, status = 'in_progress' WHERE id = $2 AND status = 'awaiting_focus'`, focus, id)
	return err
}

// AdvanceResearchIteration increments a task's iteration counter and
// replaces its report with the given merged draft.
func (s *Store) AdvanceResearchIteration(ctx context.Context, id int64, report string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE research_tasks SET iteration = iteration + 1, report = $1 WHERE id = $2 AND status = 'in_progress'`, report, id)
	return err
}

// CompleteResearchTask transitions in_progress -> completed.
func (s *Store) CompleteResearchTask(ctx context.Context, id int64, report string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE research_tasks SET status = 'completed', report = $1 WHERE id = $2`, report, id)
	return err
}

// FailResearchTask transitions a task to failed, recording the reason in
// its report field.
func (s *Store) FailResearchTask(ctx context.Context, id int64, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE research_tasks SET status = 'failed', report = $1 WHERE id = $2`, reason, id)
	return err
}

// InsertResearchIteration records one step of a task's history.
func (s *Store) InsertResearchIteration(ctx context.Context, it ResearchIteration) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO research_iterations (task_id, iteration, query, sources, report_fragment)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		it.TaskID, it.Iteration, it.Query, it.Sources, it.ReportFragment,
	).Scan(&id)
	return id, err
}

// IterationsForTask returns a task's iteration history in order.
func (s *Store) IterationsForTask(ctx context.Context, taskID int64) ([]ResearchIteration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, iteration, query, sources, report_fragment, created_at
		FROM research_iterations WHERE task_id = $1 ORDER BY iteration`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResearchIteration
	for rows.Next() {
		var it ResearchIteration
		if err := rows.Scan(&it.ID, &it.TaskID, &it.Iteration, &it.Query, &it.Sources, &it.ReportFragment, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanResearchTaskRow(row rowScanner) (ResearchTask, error) {
	var t ResearchTask
	if err := row.Scan(&t.ID, &t.ThreadID, &t.User, &t.Focus, &t.Status, &t.Iteration, &t.MaxIterations, &t.Report, &t.CreatedAt, &t.FocusDeadline); err != nil {
		return ResearchTask{}, err
	}
	return t, nil
}
