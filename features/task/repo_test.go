package task_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docproof/apps/backend/features/task"
)

var taskColumns = []string{"id", "type", "status", "progress", "stage", "error", "document_ref", "created_at", "updated_at"}

func TestPostgresRepo_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	tk := &task.Task{ID: "t1", Type: task.TypeAnalysis, Status: task.StatusPending, DocumentRef: "abc"}
	input := []byte(`{"task_id":"t1"}`)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tasks (id, type, status, progress, stage, error, document_ref)")).
		WithArgs("t1", "analysis", "pending", 0, "", "", "abc").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO task_inputs (task_id, payload) VALUES ($1, $2)")).
		WithArgs("t1", input).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = task.NewPostgresRepo(db).Create(context.Background(), tk, input)
	require.NoError(t, err)
	assert.Equal(t, now, tk.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Create_RollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tasks")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO task_inputs")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = task.NewPostgresRepo(db).Create(context.Background(), &task.Task{ID: "t1"}, nil)
	assert.True(t, errors.Is(err, task.ErrPersistenceFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := task.NewPostgresRepo(db)

	t.Run("Active", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE tasks")).
			WithArgs("t1", "running", 40, "extracted", "").
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))

		tk := &task.Task{ID: "t1", Status: task.StatusRunning, Progress: 40, Stage: "extracted"}
		require.NoError(t, repo.Update(context.Background(), tk))
		assert.Equal(t, now, tk.UpdatedAt)
	})

	t.Run("Inactive", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE tasks")).WillReturnError(sql.ErrNoRows)

		err := repo.Update(context.Background(), &task.Task{ID: "t1", Status: task.StatusRunning})
		assert.Equal(t, task.ErrTaskInactive, err)
	})

	t.Run("Database error", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE tasks")).WillReturnError(errors.New("connection lost"))

		err := repo.Update(context.Background(), &task.Task{ID: "t1", Status: task.StatusRunning})
		assert.True(t, errors.Is(err, task.ErrPersistenceFailed))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := task.NewPostgresRepo(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM tasks WHERE id = $1")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(taskColumns).AddRow("t1", "analysis", "succeeded", 100, "done", "", "abc", now, now))

	tk, err := repo.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, tk.Status)
	assert.Equal(t, 100, tk.Progress)
	assert.Equal(t, "done", tk.Stage)

	mock.ExpectQuery(regexp.QuoteMeta("FROM tasks WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.Get(context.Background(), "missing")
	assert.Equal(t, task.ErrNotFound, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_CountByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM tasks GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("running", 2).
			AddRow("failed", 1))

	counts, err := task.NewPostgresRepo(db).CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[task.Status]int{task.StatusRunning: 2, task.StatusFailed: 1}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
