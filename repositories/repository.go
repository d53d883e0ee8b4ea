package repositories

import (
	"context"
	"errors"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"user-directory/models"
)

var (
	// ErrNotFound is returned when a lookup by id or username matches nothing.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateUsername is returned when the storage-level unique
	// username constraint rejects a write.
	ErrDuplicateUsername = errors.New("username already taken")
)

// UserRepository interface defines User-related database operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	// FindByUsername matches case-insensitively.
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, user *models.User) error
	// FindAll returns every user without the password hash, oldest first.
	FindAll(ctx context.Context) ([]models.User, error)
}

// NoteRepository covers the note queries the user directory needs.
type NoteRepository interface {
	Create(ctx context.Context, note *models.Note) error
	CountByUser(ctx context.Context, userID string) (int64, error)
}

// TxFunc receives repositories bound to the running transaction.
type TxFunc func(ctx context.Context, users UserRepository, notes NoteRepository) error

// Store owns the database handle and hands out repositories.
type Store interface {
	Users() UserRepository
	Notes() NoteRepository
	// RunInTx runs fn atomically where the backend supports it.
	RunInTx(ctx context.Context, fn TxFunc) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// UsernameKey folds a username for case-insensitive comparison.
func UsernameKey(username string) string {
	return cases.Fold().String(norm.NFC.String(username))
}
