package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"user-directory/auth"
	"user-directory/models"
	"user-directory/repositories"
)

// The UserService interface defines the user directory operations. Every
// call carries the authenticated caller explicitly.
type UserService interface {
	ListUsers(ctx context.Context, principal *auth.Principal) ([]models.User, error)
	CreateUser(ctx context.Context, principal *auth.Principal, input *CreateUserInput) (*models.User, error)
	UpdateUser(ctx context.Context, principal *auth.Principal, input *UpdateUserInput) (*models.User, error)
	DeleteUser(ctx context.Context, principal *auth.Principal, input *DeleteUserInput) (*models.User, error)
}

// --- Structs for Input ---

type CreateUserInput struct {
	Username string `json:"username" validate:"required" description:"Unique, case-insensitive"`
	Password string `json:"password" validate:"required"`
	// Roles is optional; anything but a non-empty list falls back to the
	// configured default roles.
	Roles RoleList `json:"roles,omitempty"`
}

type UpdateUserInput struct {
	ID       string `json:"id" validate:"required"`
	Username string `json:"username" validate:"required"`
	// Password is optional; when empty the stored hash is kept.
	Password string   `json:"password,omitempty"`
	Roles    []string `json:"roles" validate:"required,min=1"`
	Active   *bool    `json:"active" validate:"required"`
}

type DeleteUserInput struct {
	ID string `json:"id" validate:"required"`
}

// RoleList decodes a JSON list of role labels. Numbers and booleans in the
// list become their literal text. Any other value, or a list holding objects,
// lists or nulls, decodes to nil so a malformed optional roles field never
// fails a create.
type RoleList []string

func (r *RoleList) UnmarshalJSON(data []byte) error {
	*r = nil

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil || len(items) == 0 {
		return nil
	}

	roles := make([]string, 0, len(items))
	for _, item := range items {
		role, ok := roleLabel(item)
		if !ok {
			return nil
		}
		roles = append(roles, role)
	}
	*r = roles
	return nil
}

func roleLabel(raw json.RawMessage) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	switch v := v.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// Options tunes the service.
type Options struct {
	PasswordCost int
	DefaultRoles []string
}

// The userService structure is the implementation of the UserService interface
type userService struct {
	store    repositories.Store
	validate *validator.Validate
	opts     Options
	now      func() time.Time
}

var _ UserService = (*userService)(nil)

// NewUserService creates a new UserService instance
func NewUserService(store repositories.Store, opts Options) UserService {
	if opts.PasswordCost == 0 {
		opts.PasswordCost = 10
	}
	return &userService{
		store:    store,
		validate: validator.New(),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ListUsers returns every user without password hashes.
func (s *userService) ListUsers(ctx context.Context, principal *auth.Principal) ([]models.User, error) {
	if principal == nil {
		return nil, errUnauthenticated()
	}

	users, err := s.store.Users().FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	if len(users) == 0 {
		return nil, newError(KindNotFound, "No users found")
	}
	return users, nil
}

// CreateUser handles the creation of a new user.
func (s *userService) CreateUser(ctx context.Context, principal *auth.Principal, input *CreateUserInput) (*models.User, error) {
	if principal == nil {
		return nil, errUnauthenticated()
	}
	if input == nil || s.validate.Struct(input) != nil {
		return nil, newError(KindValidation, "Username and password are required")
	}

	hashedPassword, err := s.hashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	roles := []string(input.Roles)
	if len(roles) == 0 {
		roles = append([]string{}, s.opts.DefaultRoles...)
	}

	now := s.now()
	user := &models.User{
		ID:        uuid.NewString(),
		Username:  input.Username,
		Password:  hashedPassword,
		Roles:     roles,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, users repositories.UserRepository, _ repositories.NoteRepository) error {
		// Check duplicate
		_, err := users.FindByUsername(ctx, input.Username)
		if err == nil {
			return errDuplicate(input.Username)
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return fmt.Errorf("error checking existing user: %w", err)
		}

		if err := users.Create(ctx, user); err != nil {
			if errors.Is(err, repositories.ErrDuplicateUsername) {
				return errDuplicate(input.Username)
			}
			return &Error{Kind: KindCreateFailed, Message: "Failed to create user", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateUser replaces username, roles and active flag, and the password
// when one is supplied.
func (s *userService) UpdateUser(ctx context.Context, principal *auth.Principal, input *UpdateUserInput) (*models.User, error) {
	if principal == nil {
		return nil, errUnauthenticated()
	}
	if input == nil || s.validate.Struct(input) != nil {
		return nil, newError(KindValidation, "All fields except password are required")
	}

	var hashedPassword string
	if input.Password != "" {
		var err error
		if hashedPassword, err = s.hashPassword(input.Password); err != nil {
			return nil, err
		}
	}

	var updated *models.User
	err := s.store.RunInTx(ctx, func(ctx context.Context, users repositories.UserRepository, _ repositories.NoteRepository) error {
		user, err := users.FindByID(ctx, input.ID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return errUserNotFound()
			}
			return fmt.Errorf("error retrieving user for update: %w", err)
		}

		// Check for duplicate held by another user
		existing, err := users.FindByUsername(ctx, input.Username)
		if err == nil && existing.ID != user.ID {
			return errDuplicate(input.Username)
		} else if err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return fmt.Errorf("error checking username uniqueness: %w", err)
		}

		user.Username = input.Username
		user.Active = *input.Active
		user.Roles = input.Roles
		if hashedPassword != "" {
			user.Password = hashedPassword
		}
		user.UpdatedAt = s.now()

		if err := users.Update(ctx, user); err != nil {
			switch {
			case errors.Is(err, repositories.ErrDuplicateUsername):
				return errDuplicate(input.Username)
			case errors.Is(err, repositories.ErrNotFound):
				return errUserNotFound()
			}
			return fmt.Errorf("failed to save user updates: %w", err)
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteUser removes a user that no note refers to and returns the removed
// record.
func (s *userService) DeleteUser(ctx context.Context, principal *auth.Principal, input *DeleteUserInput) (*models.User, error) {
	if principal == nil {
		return nil, errUnauthenticated()
	}
	if input == nil || s.validate.Struct(input) != nil {
		return nil, newError(KindValidation, "User ID is required")
	}

	var deleted *models.User
	err := s.store.RunInTx(ctx, func(ctx context.Context, users repositories.UserRepository, notes repositories.NoteRepository) error {
		count, err := notes.CountByUser(ctx, input.ID)
		if err != nil {
			return fmt.Errorf("error counting user notes: %w", err)
		}
		if count > 0 {
			return newError(KindIntegrityGuard, "User has assigned notes")
		}

		user, err := users.FindByID(ctx, input.ID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return errUserNotFound()
			}
			return fmt.Errorf("failed to obtain user information: %w", err)
		}

		if err := users.Delete(ctx, user); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return errUserNotFound()
			}
			return fmt.Errorf("failed to delete user: %w", err)
		}
		deleted = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (s *userService) hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.PasswordCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", newError(KindValidation, "Password must be at most 72 bytes")
		}
		return "", fmt.Errorf("could not hash password: %w", err)
	}
	return string(hashed), nil
}

func errUnauthenticated() *Error {
	return newError(KindUnauthenticated, "Unauthorized")
}

func errUserNotFound() *Error {
	return newError(KindNotFound, "User not found")
}

func errDuplicate(username string) *Error {
	return newError(KindConflict, "Username %s already exists", username)
}
