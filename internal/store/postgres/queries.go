package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/avtogeo/avtobot/internal/store"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint
// breach.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// UpsertUser registers a user or refreshes the stored username.
func (d *DB) UpsertUser(ctx context.Context, id int64, username string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO users (id, username)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username`,
		id, username)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", id, err)
	}
	return nil
}

// GetUser returns a user or nil when unknown.
func (d *DB) GetUser(ctx context.Context, id int64) (*store.User, error) {
	var u store.User
	err := d.db.QueryRowContext(ctx, `
		SELECT id, username, language, created_at
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.Language, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

// SetUserLanguage stores the user's interface language.
func (d *DB) SetUserLanguage(ctx context.Context, id int64, lang string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE users SET language = $2 WHERE id = $1`, id, lang)
	if err != nil {
		return fmt.Errorf("set language for %d: %w", id, err)
	}
	return nil
}

// ListRecipientIDs returns every registered user id.
func (d *DB) ListRecipientIDs(ctx context.Context) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ListRecipientIDsExcept returns every registered user id not in
// excluded.
func (d *DB) ListRecipientIDsExcept(ctx context.Context, excluded []int64) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id FROM users WHERE id <> ALL($1) ORDER BY id`,
		pq.Array(excluded))
	if err != nil {
		return nil, fmt.Errorf("list recipients except: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetThread returns the user's forum thread or nil when none exists.
func (d *DB) GetThread(ctx context.Context, userID int64) (*store.ThreadRecord, error) {
	var rec store.ThreadRecord
	err := d.db.QueryRowContext(ctx, `
		SELECT user_id, username, thread_id, created_at
		FROM threads WHERE user_id = $1`, userID).
		Scan(&rec.UserID, &rec.Username, &rec.ThreadID, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread for %d: %w", userID, err)
	}
	return &rec, nil
}

// GetThreadUser resolves a forum thread id back to its user, 0 when
// the thread is unknown.
func (d *DB) GetThreadUser(ctx context.Context, threadID int64) (int64, error) {
	var userID int64
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id FROM threads WHERE thread_id = $1`, threadID).
		Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get thread user for %d: %w", threadID, err)
	}
	return userID, nil
}

// CreateThread inserts the user-to-thread mapping. A concurrent insert
// for the same user surfaces as store.ErrDuplicate.
func (d *DB) CreateThread(ctx context.Context, rec *store.ThreadRecord) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO threads (user_id, username, thread_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		rec.UserID, rec.Username, rec.ThreadID, rec.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create thread for %d: %w", rec.UserID, err)
	}
	return nil
}

// CreatePost persists a published post and fills in the generated id.
func (d *DB) CreatePost(ctx context.Context, rec *store.PostRecord) error {
	msgIDs := make(pq.Int64Array, len(rec.MessageIDs))
	for i, id := range rec.MessageIDs {
		msgIDs[i] = int64(id)
	}
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO posts (user_id, post_id, message_ids, body, media_keys, published, admin_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		rec.UserID, rec.PostID, msgIDs, rec.Text,
		pq.Array(rec.MediaKeys), rec.Published, rec.AdminID, rec.CreatedAt).
		Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

// ListActivePosts returns published posts not yet marked deleted.
func (d *DB) ListActivePosts(ctx context.Context) ([]*store.PostRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, post_id, message_ids, body, media_keys, published, deleted, deleted_at, admin_id, created_at
		FROM posts
		WHERE published AND NOT deleted
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active posts: %w", err)
	}
	defer rows.Close()

	var posts []*store.PostRecord
	for rows.Next() {
		var rec store.PostRecord
		var msgIDs pq.Int64Array
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.PostID, &msgIDs,
			&rec.Text, pq.Array(&rec.MediaKeys), &rec.Published,
			&rec.Deleted, &rec.DeletedAt, &rec.AdminID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		rec.MessageIDs = make([]int, len(msgIDs))
		for i, id := range msgIDs {
			rec.MessageIDs[i] = int(id)
		}
		posts = append(posts, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active posts: %w", err)
	}
	return posts, nil
}

// MarkPostsDeleted flags the given posts as deleted in one statement
// and returns the number of rows that actually flipped. Re-marking an
// already deleted post is a no-op.
func (d *DB) MarkPostsDeleted(ctx context.Context, ids []int64, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE posts SET deleted = TRUE, deleted_at = $2
		WHERE id = ANY($1) AND NOT deleted`,
		pq.Array(ids), at)
	if err != nil {
		return 0, fmt.Errorf("mark posts deleted: %w", err)
	}
	return res.RowsAffected()
}

// SetHeartbeat records process liveness in the singleton heartbeat row.
func (d *DB) SetHeartbeat(ctx context.Context, at time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO heartbeat (id, beat_at) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET beat_at = EXCLUDED.beat_at`, at)
	if err != nil {
		return fmt.Errorf("set heartbeat: %w", err)
	}
	return nil
}
