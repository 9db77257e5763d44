package store

import (
	"context"
)

// LogSearch inserts a SearchLog row.
func (s *Store) LogSearch(ctx context.Context, l SearchLog) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO search_logs ("user", query, response, timestamp, extracted, trigger, learn_prompt_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		l.User, l.Query, l.Response, timeOrNow(l.Timestamp), l.Extracted, l.Trigger, l.LearnPromptID,
	).Scan(&id)
	return id, err
}

// UnextractedSearchLogs returns un-extracted logs, newest first, bounded to
// limit, per spec.md §4.3's "newest first, bounded batch".
func (s *Store) UnextractedSearchLogs(ctx context.Context, limit int) ([]SearchLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", query, response, timestamp, extracted, trigger, learn_prompt_id
		FROM search_logs WHERE extracted = FALSE ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchLog
	for rows.Next() {
		var l SearchLog
		if err := rows.Scan(&l.ID, &l.User, &l.Query, &l.Response, &l.Timestamp, &l.Extracted, &l.Trigger, &l.LearnPromptID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkSearchLogExtracted flips extracted false->true regardless of whether
// the pass yielded knowledge (spec.md §4.3 invariant: "Mark the search log
// extracted regardless of yield"). Idempotent: extracting an
// already-extracted log is a no-op, satisfying "no log is processed twice".
func (s *Store) MarkSearchLogExtracted(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE search_logs SET extracted = TRUE WHERE id = $1 AND extracted = FALSE`, id)
	return err
}

// CreateLearnPrompt inserts an active LearnPrompt.
func (s *Store) CreateLearnPrompt(ctx context.Context, p LearnPrompt) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO learn_prompts ("user", prompt, status, searches_remaining)
		VALUES ($1,$2,'active',$3) RETURNING id`, p.User, p.Prompt, p.SearchesRemaining,
	).Scan(&id)
	return id, err
}

// DecrementLearnPromptSearches decrements the remaining search budget and
// flips status to completed when it hits zero (spec.md §3's LearnPrompt
// lifecycle). Runs in one transaction since it's a read-then-write.
func (s *Store) DecrementLearnPromptSearches(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var remaining int
	if err := tx.QueryRow(ctx, `SELECT searches_remaining FROM learn_prompts WHERE id = $1 FOR UPDATE`, id).Scan(&remaining); err != nil {
		return err
	}
	remaining--
	if remaining < 0 {
		remaining = 0
	}
	status := LearnPromptActive
	if remaining == 0 {
		status = LearnPromptCompleted
	}
	if _, err := tx.Exec(ctx, `UPDATE learn_prompts SET searches_remaining = $1, status = $2 WHERE id = $3`, remaining, status, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UnannouncedCompletedLearnPrompts returns completed prompts not yet
// announced (spec.md §4.6 class 1).
func (s *Store) UnannouncedCompletedLearnPrompts(ctx context.Context, user string) ([]LearnPrompt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", prompt, status, searches_remaining, announced_at, created_at
		FROM learn_prompts WHERE "user" = $1 AND status = 'completed' AND announced_at IS NULL
		ORDER BY created_at`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LearnPrompt
	for rows.Next() {
		var p LearnPrompt
		if err := rows.Scan(&p.ID, &p.User, &p.Prompt, &p.Status, &p.SearchesRemaining, &p.AnnouncedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AllSearchLogsExtracted reports whether every search log tied to a learn
// prompt has finished extraction — the gate spec.md §4.6 class 1 requires
// before announcing completion.
func (s *Store) AllSearchLogsExtracted(ctx context.Context, learnPromptID int64) (bool, error) {
	var remaining int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM search_logs WHERE learn_prompt_id = $1 AND extracted = FALSE`, learnPromptID).Scan(&remaining)
	return remaining == 0, err
}

// MarkLearnPromptAnnounced sets announced_at once.
func (s *Store) MarkLearnPromptAnnounced(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE learn_prompts SET announced_at = NOW() WHERE id = $1 AND announced_at IS NULL`, id)
	return err
}
