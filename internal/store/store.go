package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/autopress/autopress/config"
	"github.com/autopress/autopress/internal/pipeline"
	"github.com/lib/pq"
)

// Store persists work items and stage results in PostgreSQL. It implements
// pipeline.Store.
type Store struct {
	DB *sql.DB
}

// New opens a connection pool against the configured database.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) CreateWorkItem(ctx context.Context, item *pipeline.WorkItem) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO work_items
			(id, topic, language, country, target_word_count, available_categories,
			 created_at, due_at, cron, status, attempt, last_error, post_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,'','')`,
		item.ID, item.Topic, item.Language, item.Country, item.TargetWordCount,
		pq.Array(item.AvailableCategories), item.CreatedAt, item.DueAt, item.Cron,
		string(item.Status), item.Attempt,
	)
	if err != nil {
		return fmt.Errorf("insert work item: %w", err)
	}
	return nil
}

func (s *Store) GetWorkItem(ctx context.Context, id string) (pipeline.WorkItem, error) {
	var item pipeline.WorkItem
	var status string
	var categories pq.StringArray
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, topic, language, country, target_word_count, available_categories,
		       created_at, due_at, cron, status, attempt, last_error, post_id
		FROM work_items WHERE id = $1`, id,
	).Scan(
		&item.ID, &item.Topic, &item.Language, &item.Country, &item.TargetWordCount,
		&categories, &item.CreatedAt, &item.DueAt, &item.Cron, &status,
		&item.Attempt, &item.LastError, &item.PostID,
	)
	if err == sql.ErrNoRows {
		return pipeline.WorkItem{}, fmt.Errorf("work item %s not found", id)
	}
	if err != nil {
		return pipeline.WorkItem{}, fmt.Errorf("load work item: %w", err)
	}
	item.AvailableCategories = categories
	item.Status = pipeline.Status(status)
	return item, nil
}

func (s *Store) UpdateWorkItemStatus(ctx context.Context, id string, status pipeline.Status, lastError string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE work_items SET status = $2, last_error = $3 WHERE id = $1`,
		id, string(status), lastError,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("work item %s not found", id)
	}
	return nil
}

func (s *Store) SetWorkItemPost(ctx context.Context, id, postID string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE work_items SET post_id = $2 WHERE id = $1`, id, postID)
	return err
}

func (s *Store) ResetForRetry(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE work_items
		SET status = $2, attempt = attempt + 1, last_error = ''
		WHERE id = $1 AND status = $3`,
		id, string(pipeline.StatusPending), string(pipeline.StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("reset for retry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("work item %s is not in a failed state", id)
	}
	return nil
}

func (s *Store) RescheduleWorkItem(ctx context.Context, id string, dueAt time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE work_items SET due_at = $2, status = $3, last_error = '' WHERE id = $1`,
		id, dueAt, string(pipeline.StatusPending))
	return err
}

func (s *Store) AppendStageResult(ctx context.Context, res pipeline.StageResult) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO stage_results (work_item_id, stage, attempt, payload, error, accepted, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		res.WorkItemID, res.Stage, res.Attempt, []byte(res.Payload), res.Error, res.Accepted, res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stage result: %w", err)
	}
	return nil
}

func (s *Store) StageResults(ctx context.Context, workItemID string) ([]pipeline.StageResult, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT work_item_id, stage, attempt, payload, error, accepted, created_at
		FROM stage_results WHERE work_item_id = $1
		ORDER BY created_at, attempt`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("query stage results: %w", err)
	}
	defer rows.Close()

	var out []pipeline.StageResult
	for rows.Next() {
		var r pipeline.StageResult
		var payload []byte
		if err := rows.Scan(&r.WorkItemID, &r.Stage, &r.Attempt, &payload, &r.Error, &r.Accepted, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Payload = payload
		out = append(out, r)
	}
	return out, rows.Err()
}

// DueWorkItems returns pending items whose due time has passed, oldest first.
func (s *Store) DueWorkItems(ctx context.Context, now time.Time, limit int) ([]pipeline.WorkItem, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, topic, language, country, target_word_count, available_categories,
		       created_at, due_at, cron, status, attempt, last_error, post_id
		FROM work_items
		WHERE status = $1 AND due_at <= $2
		ORDER BY due_at
		LIMIT $3`,
		string(pipeline.StatusPending), now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due items: %w", err)
	}
	defer rows.Close()

	var out []pipeline.WorkItem
	for rows.Next() {
		var item pipeline.WorkItem
		var status string
		var categories pq.StringArray
		if err := rows.Scan(
			&item.ID, &item.Topic, &item.Language, &item.Country, &item.TargetWordCount,
			&categories, &item.CreatedAt, &item.DueAt, &item.Cron, &status,
			&item.Attempt, &item.LastError, &item.PostID,
		); err != nil {
			return nil, err
		}
		item.AvailableCategories = categories
		item.Status = pipeline.Status(status)
		out = append(out, item)
	}
	return out, rows.Err()
}
