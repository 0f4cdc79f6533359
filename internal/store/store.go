// Package store defines the persistence records and the full Store
// interface implemented by the postgres backend. Consumers depend on
// narrow slices of this interface declared on their side.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned by create operations when the uniqueness
// constraint already holds a record.
var ErrDuplicate = errors.New("record already exists")

// User is a registered end user (broadcast recipient).
type User struct {
	ID        int64
	Username  string
	Language  string
	CreatedAt time.Time
}

// ThreadRecord maps an end user to their forum topic in the moderation
// group. Created at most once per user.
type ThreadRecord struct {
	UserID    int64
	Username  string
	ThreadID  int64
	CreatedAt time.Time
}

// PostRecord is one published unit in the channel. Created on publish;
// only the deletion flag is ever mutated afterward.
type PostRecord struct {
	ID         int64
	UserID     int64 // subject of the post (forward origin or operator)
	PostID     int   // primary (first) channel message id
	MessageIDs []int // every channel message id of the post
	Text       string
	MediaKeys  []string // object storage keys
	Published  bool
	Deleted    bool
	DeletedAt  *time.Time
	AdminID    int64 // operator who published
	CreatedAt  time.Time
}

// Store is the persistence contract. Implementations must make
// CreateThread atomic with respect to the user-id uniqueness
// constraint and MarkPostsDeleted idempotent.
type Store interface {
	// Users.
	UpsertUser(ctx context.Context, id int64, username string) error
	GetUser(ctx context.Context, id int64) (*User, error)
	SetUserLanguage(ctx context.Context, id int64, lang string) error
	ListRecipientIDs(ctx context.Context) ([]int64, error)
	ListRecipientIDsExcept(ctx context.Context, excluded []int64) ([]int64, error)

	// Threads.
	GetThread(ctx context.Context, userID int64) (*ThreadRecord, error)
	GetThreadUser(ctx context.Context, threadID int64) (int64, error)
	CreateThread(ctx context.Context, rec *ThreadRecord) error

	// Posts.
	CreatePost(ctx context.Context, rec *PostRecord) error
	ListActivePosts(ctx context.Context) ([]*PostRecord, error)
	MarkPostsDeleted(ctx context.Context, ids []int64, at time.Time) (int64, error)

	// Liveness.
	SetHeartbeat(ctx context.Context, at time.Time) error

	Close() error
}
