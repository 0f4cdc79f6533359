package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/avtogeo/avtobot/internal/store"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		raw.Close()
	})
	return &DB{db: raw}, mock
}

func TestUpsertUser(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(int64(42), "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := db.UpsertUser(context.Background(), 42, "alice"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestGetUserMissingReturnsNil(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT id, username, language, created_at`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "language", "created_at"}))

	u, err := db.GetUser(context.Background(), 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u != nil {
		t.Errorf("user = %+v, want nil", u)
	}
}

func TestGetUser(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT id, username, language, created_at`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "language", "created_at"}).
			AddRow(int64(42), "alice", "ka", now))

	u, err := db.GetUser(context.Background(), 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.Username != "alice" || u.Language != "ka" {
		t.Errorf("user = %+v", u)
	}
}

func TestCreateThreadMapsUniqueViolation(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`INSERT INTO threads`).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	rec := &store.ThreadRecord{UserID: 42, ThreadID: 7, CreatedAt: time.Now()}
	if err := db.CreateThread(context.Background(), rec); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestGetThreadMissingReturnsNil(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT user_id, username, thread_id, created_at`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "username", "thread_id", "created_at"}))

	rec, err := db.GetThread(context.Background(), 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Errorf("rec = %+v, want nil", rec)
	}
}

func TestCreatePostFillsGeneratedID(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`INSERT INTO posts`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	rec := &store.PostRecord{
		UserID:     42,
		PostID:     501,
		MessageIDs: []int{501, 502},
		Text:       "ad",
		MediaKeys:  []string{"k1"},
		Published:  true,
		AdminID:    1,
		CreatedAt:  time.Now(),
	}
	if err := db.CreatePost(context.Background(), rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID != 9 {
		t.Errorf("id = %d", rec.ID)
	}
}

func TestListActivePosts(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "post_id", "message_ids", "body", "media_keys",
		"published", "deleted", "deleted_at", "admin_id", "created_at",
	}).AddRow(int64(1), int64(42), 501, "{501,502}", "ad", "{k1,k2}",
		true, false, nil, int64(1), now)
	mock.ExpectQuery(`SELECT .+ FROM posts`).WillReturnRows(rows)

	posts, err := db.ListActivePosts(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("posts = %d", len(posts))
	}
	p := posts[0]
	if p.PostID != 501 || len(p.MessageIDs) != 2 || len(p.MediaKeys) != 2 {
		t.Errorf("post = %+v", p)
	}
	if p.DeletedAt != nil {
		t.Errorf("deleted_at = %v", p.DeletedAt)
	}
}

func TestMarkPostsDeletedReturnsAffectedRows(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE posts SET deleted`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := db.MarkPostsDeleted(context.Background(), []int64{1, 2, 3}, time.Now())
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if n != 2 {
		t.Errorf("affected = %d", n)
	}
}

func TestMarkPostsDeletedEmptyIsNoop(t *testing.T) {
	db, _ := newMockDB(t)
	n, err := db.MarkPostsDeleted(context.Background(), nil, time.Now())
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestSetHeartbeat(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`INSERT INTO heartbeat`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := db.SetHeartbeat(context.Background(), time.Now()); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
}

func TestTryAcquireWinsOnInsert(t *testing.T) {
	db, mock := newMockDB(t)
	l, err := NewLocker(db)
	if err != nil {
		t.Fatalf("locker: %v", err)
	}
	mock.ExpectExec(`INSERT INTO locks`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := l.TryAcquire(context.Background(), "create_topic:42", 10*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Error("expected lock won")
	}
}

func TestTryAcquireLosesToLiveLease(t *testing.T) {
	db, mock := newMockDB(t)
	l, err := NewLocker(db)
	if err != nil {
		t.Fatalf("locker: %v", err)
	}
	mock.ExpectExec(`INSERT INTO locks`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := l.TryAcquire(context.Background(), "create_topic:42", 10*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Error("expected lock lost while lease is live")
	}
}

func TestReleaseDeletesOwnLeaseOnly(t *testing.T) {
	db, mock := newMockDB(t)
	l, err := NewLocker(db)
	if err != nil {
		t.Fatalf("locker: %v", err)
	}
	mock.ExpectExec(`DELETE FROM locks`).
		WithArgs("create_topic:42", l.owner).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := l.Release(context.Background(), "create_topic:42"); err != nil {
		t.Fatalf("release: %v", err)
	}
}
