package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/autopress/autopress/internal/pipeline"
)

func TestCreateWorkItem(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	item := pipeline.WorkItem{
		ID:                  "item-1",
		Topic:               "electric bikes",
		Language:            "en",
		TargetWordCount:     2000,
		AvailableCategories: []string{"Technology"},
		CreatedAt:           time.Now(),
		DueAt:               time.Now(),
		Status:              pipeline.StatusPending,
	}

	mock.ExpectExec("INSERT INTO work_items").
		WithArgs(item.ID, item.Topic, item.Language, item.Country, item.TargetWordCount,
			sqlmock.AnyArg(), item.CreatedAt, item.DueAt, item.Cron,
			string(item.Status), item.Attempt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.CreateWorkItem(context.Background(), &item); err != nil {
		t.Fatalf("CreateWorkItem: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetWorkItem(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	now := time.Now()
	cols := []string{"id", "topic", "language", "country", "target_word_count",
		"available_categories", "created_at", "due_at", "cron", "status",
		"attempt", "last_error", "post_id"}
	mock.ExpectQuery("SELECT (.+) FROM work_items WHERE id").
		WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"item-1", "electric bikes", "en", "us", 2000,
			"{Technology,News}", now, now, "", "drafting",
			0, "", ""))

	item, err := st.GetWorkItem(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("GetWorkItem: %v", err)
	}
	if item.Status != pipeline.StatusDrafting {
		t.Errorf("status = %s", item.Status)
	}
	if len(item.AvailableCategories) != 2 || item.AvailableCategories[0] != "Technology" {
		t.Errorf("categories = %v", item.AvailableCategories)
	}
}

func TestGetWorkItemNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectQuery("SELECT (.+) FROM work_items WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := st.GetWorkItem(context.Background(), "missing"); err == nil {
		t.Fatal("want not-found error")
	}
}

func TestResetForRetryRequiresFailedState(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	query := regexp.QuoteMeta(`
		UPDATE work_items
		SET status = $2, attempt = attempt + 1, last_error = ''
		WHERE id = $1 AND status = $3`)
	mock.ExpectExec(query).
		WithArgs("item-1", string(pipeline.StatusPending), string(pipeline.StatusFailed)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.ResetForRetry(context.Background(), "item-1"); err == nil {
		t.Fatal("want error when no failed row matched")
	}
}

func TestAppendStageResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	res := pipeline.StageResult{
		WorkItemID: "item-1",
		Stage:      pipeline.StageDraft,
		Attempt:    2,
		Payload:    []byte(`{"word_count":2100}`),
		Accepted:   true,
		CreatedAt:  time.Now(),
	}
	mock.ExpectExec("INSERT INTO stage_results").
		WithArgs(res.WorkItemID, res.Stage, res.Attempt, []byte(res.Payload), res.Error, res.Accepted, res.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := st.AppendStageResult(context.Background(), res); err != nil {
		t.Fatalf("AppendStageResult: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
