package attachments

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/notekeeper/internal/common"
	"github.com/dmitrijs2005/notekeeper/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var upsertQuery = regexp.MustCompile(`INSERT INTO attachments .* ON CONFLICT .* DO UPDATE SET .* WHERE attachments\.user_id = EXCLUDED\.user_id;`)

func TestCreateOrUpdate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(upsertQuery.String()).
		WithArgs("a1", "n1", "u1", "report.pdf", "users/2025/1/2/key", int64(1024), int64(4), "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateOrUpdate(context.Background(), &models.Attachment{
		ID:          "a1",
		NoteID:      "n1",
		UserID:      "u1",
		Filename:    "report.pdf",
		StorageKey:  "users/2025/1/2/key",
		Size:        1024,
		Version:     4,
		UploadState: models.UploadStatePending,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateOrUpdate_ForeignOwnerRowsAffected0(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(upsertQuery.String()).
		WithArgs("a1", "n1", "u2", "x", "k", int64(1), int64(1), "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.CreateOrUpdate(context.Background(), &models.Attachment{
		ID: "a1", NoteID: "n1", UserID: "u2", Filename: "x", StorageKey: "k",
		Size: 1, Version: 1, UploadState: models.UploadStatePending,
	})
	if !errors.Is(err, common.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict, got %v", err)
	}
}

func TestSelectUpdated_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`SELECT .* from attachments\s+WHERE user_id=\$1 and version>\$2`)

	rows := sqlmock.NewRows([]string{"id", "note_id", "user_id", "filename", "storage_key", "size", "version", "upload_state"}).
		AddRow("a1", "n1", "u1", "report.pdf", "k1", int64(10), int64(2), "uploaded").
		AddRow("a2", "n1", "u1", "photo.png", "k2", int64(20), int64(5), "pending")

	mock.ExpectQuery(q.String()).WithArgs("u1", int64(1)).WillReturnRows(rows)

	got, err := repo.SelectUpdated(context.Background(), "u1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 rows, got %d", len(got))
	}
	if got[0].ID != "a1" || got[0].UploadState != "uploaded" {
		t.Fatalf("unexpected first row: %+v", got[0])
	}
}

func TestMarkUploaded_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`update attachments set upload_state='uploaded' where id=\$1 and user_id=\$2`)
	mock.ExpectExec(q.String()).WithArgs("a1", "u1").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkUploaded(context.Background(), "u1", "a1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMarkUploaded_WrongRowsAffected(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`update attachments set upload_state='uploaded' where id=\$1 and user_id=\$2`)
	mock.ExpectExec(q.String()).WithArgs("ghost", "u1").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkUploaded(context.Background(), "u1", "ghost")
	if err == nil || !regexp.MustCompile(`wrong rows affected count: 0`).MatchString(err.Error()) {
		t.Fatalf("expected wrong rows affected error, got %v", err)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`SELECT .* from attachments\s+WHERE id=\$1 and user_id=\$2`)
	mock.ExpectQuery(q.String()).WithArgs("absent", "u1").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "u1", "absent")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}
