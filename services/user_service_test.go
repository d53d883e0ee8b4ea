package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"user-directory/auth"
	"user-directory/config"
	"user-directory/database"
	"user-directory/models"
	"user-directory/repositories"
)

var caller = &auth.Principal{UserID: "caller", Username: "caller", Roles: []string{"Admin"}}

// setupTestStore opens a fresh sqlite database in a temp dir.
func setupTestStore(t *testing.T) repositories.Store {
	t.Helper()
	db, err := database.OpenGorm(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		URL:    filepath.Join(t.TempDir(), "test.db"),
	}, zap.NewNop())
	require.NoError(t, err)

	store := repositories.NewGormStore(db)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func setupTestService(t *testing.T, defaultRoles ...string) (UserService, repositories.Store) {
	t.Helper()
	store := setupTestStore(t)
	return NewUserService(store, Options{PasswordCost: bcrypt.MinCost, DefaultRoles: defaultRoles}), store
}

func assertKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, kind, svcErr.Kind, "unexpected error: %v", err)
}

func boolPtr(b bool) *bool { return &b }

func countUsers(t *testing.T, store repositories.Store) int {
	t.Helper()
	users, err := store.Users().FindAll(context.Background())
	require.NoError(t, err)
	return len(users)
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		svc, store := setupTestService(t)

		user, err := svc.CreateUser(ctx, caller, &CreateUserInput{Username: "alice", Password: "secret123", Roles: RoleList{"Manager"}})
		require.NoError(t, err)
		assert.NotEmpty(t, user.ID)
		assert.True(t, user.Active)

		stored, err := store.Users().FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", stored.Username)
		assert.Equal(t, []string{"Manager"}, stored.Roles)
		assert.NotEqual(t, "secret123", stored.Password)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("secret123")))
	})

	t.Run("Default cost is ten", func(t *testing.T) {
		store := setupTestStore(t)
		svc := NewUserService(store, Options{})

		user, err := svc.CreateUser(ctx, caller, &CreateUserInput{Username: "dora", Password: "pw"})
		require.NoError(t, err)
		cost, err := bcrypt.Cost([]byte(user.Password))
		require.NoError(t, err)
		assert.Equal(t, 10, cost)
	})

	t.Run("Username already exists case-insensitively", func(t *testing.T) {
		svc, store := setupTestService(t)

		_, err := svc.CreateUser(ctx, caller, &CreateUserInput{Username: "Bob", Password: "pw"})
		require.NoError(t, err)

		_, err = svc.CreateUser(ctx, caller, &CreateUserInput{Username: "bob", Password: "pw"})
		assertKind(t, err, KindConflict)
		assert.Equal(t, 1, countUsers(t, store))
	})

	t.Run("Missing password", func(t *testing.T) {
		svc, store := setupTestService(t)

		_, err := svc.CreateUser(ctx, caller, &CreateUserInput{Username: "carol"})
		assertKind(t, err, KindValidation)

		_, err = store.Users().FindByUsername(ctx, "carol")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	t.Run("Missing username", func(t *testing.T) {
		svc, _ := setupTestService(t)
		_, err := svc.CreateUser(ctx, caller, &CreateUserInput{Password: "pw"})
		assertKind(t, err, KindValidation)
	})

	t.Run("Roles fall back to defaults", func(t *testing.T) {
		svc, _ := setupTestService(t, "Employee")

		user, err := svc.CreateUser(ctx, caller, &CreateUserInput{Username: "erin", Password: "pw"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Employee"}, user.Roles)
	})

	t.Run("No roles without defaults", func(t *testing.T) {
		svc, _ := setupTestService(t)

		user, err := svc.CreateUser(ctx, caller, &CreateUserInput{Username: "frank", Password: "pw", Roles: RoleList{}})
		require.NoError(t, err)
		assert.Empty(t, user.Roles)
	})

	t.Run("Password too long", func(t *testing.T) {
		svc, _ := setupTestService(t)
		long := make([]byte, 73)
		for i := range long {
			long[i] = 'a'
		}
		_, err := svc.CreateUser(ctx, caller, &CreateUserInput{Username: "gina", Password: string(long)})
		assertKind(t, err, KindValidation)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		svc, _ := setupTestService(t)
		_, err := svc.CreateUser(ctx, nil, &CreateUserInput{Username: "x", Password: "y"})
		assertKind(t, err, KindUnauthenticated)
	})
}

func TestRoleListUnmarshal(t *testing.T) {
	tests := []struct {
		name  string
		roles string
		want  RoleList
	}{
		{"strings", `["Admin","Manager"]`, RoleList{"Admin", "Manager"}},
		{"scalars become labels", `[1,2.5,true,"Manager"]`, RoleList{"1", "2.5", "true", "Manager"}},
		{"not a list", `"Admin"`, nil},
		{"object", `{"role":"Admin"}`, nil},
		{"empty list", `[]`, nil},
		{"null", `null`, nil},
		{"nested element", `["Admin",["Manager"]]`, nil},
		{"object element", `[{"name":"Admin"}]`, nil},
		{"null element", `["Admin",null]`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in CreateUserInput
			body := `{"username":"a","password":"b","roles":` + tt.roles + `}`
			require.NoError(t, json.Unmarshal([]byte(body), &in))
			assert.Equal(t, tt.want, in.Roles)
		})
	}
}

func TestCreateUserCoercesScalarRoles(t *testing.T) {
	ctx := context.Background()
	svc, store := setupTestService(t)

	var in CreateUserInput
	require.NoError(t, json.Unmarshal([]byte(`{"username":"numbers","password":"pw","roles":[1,2]}`), &in))
	_, err := svc.CreateUser(ctx, caller, &in)
	require.NoError(t, err)

	stored, err := store.Users().FindByUsername(ctx, "numbers")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, stored.Roles)
}

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)

	_, err := svc.ListUsers(ctx, caller)
	assertKind(t, err, KindNotFound)

	_, err = svc.CreateUser(ctx, caller, &CreateUserInput{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, caller, &CreateUserInput{Username: "bob", Password: "pw"})
	require.NoError(t, err)

	users, err := svc.ListUsers(ctx, caller)
	require.NoError(t, err)
	require.Len(t, users, 2)
	for _, u := range users {
		assert.Empty(t, u.Password)
	}

	_, err = svc.ListUsers(ctx, nil)
	assertKind(t, err, KindUnauthenticated)
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (UserService, repositories.Store, *models.User) {
		svc, store := setupTestService(t)
		user, err := svc.CreateUser(ctx, caller, &CreateUserInput{Username: "alice", Password: "original", Roles: RoleList{"Employee"}})
		require.NoError(t, err)
		stored, err := store.Users().FindByID(ctx, user.ID)
		require.NoError(t, err)
		return svc, store, stored
	}

	t.Run("Invalid roles leave record unchanged", func(t *testing.T) {
		svc, store, before := setup(t)

		for _, roles := range [][]string{nil, {}} {
			_, err := svc.UpdateUser(ctx, caller, &UpdateUserInput{ID: before.ID, Username: "renamed", Roles: roles, Active: boolPtr(false)})
			assertKind(t, err, KindValidation)
		}

		after, err := store.Users().FindByID(ctx, before.ID)
		require.NoError(t, err)
		assert.Equal(t, before.Username, after.Username)
		assert.Equal(t, before.Roles, after.Roles)
		assert.True(t, after.Active)
	})

	t.Run("Missing active or id", func(t *testing.T) {
		svc, _, before := setup(t)

		_, err := svc.UpdateUser(ctx, caller, &UpdateUserInput{ID: before.ID, Username: "alice", Roles: []string{"Admin"}})
		assertKind(t, err, KindValidation)

		_, err = svc.UpdateUser(ctx, caller, &UpdateUserInput{Username: "alice", Roles: []string{"Admin"}, Active: boolPtr(true)})
		assertKind(t, err, KindValidation)
	})

	t.Run("Not found", func(t *testing.T) {
		svc, _, _ := setup(t)
		_, err := svc.UpdateUser(ctx, caller, &UpdateUserInput{ID: uuid.NewString(), Username: "x", Roles: []string{"Admin"}, Active: boolPtr(true)})
		assertKind(t, err, KindNotFound)
	})

	t.Run("Username held by another user", func(t *testing.T) {
		svc, _, alice := setup(t)
		_, err := svc.CreateUser(ctx, caller, &CreateUserInput{Username: "Bob", Password: "pw"})
		require.NoError(t, err)

		_, err = svc.UpdateUser(ctx, caller, &UpdateUserInput{ID: alice.ID, Username: "BOB", Roles: []string{"Employee"}, Active: boolPtr(true)})
		assertKind(t, err, KindConflict)
	})

	t.Run("Omitted password keeps hash", func(t *testing.T) {
		svc, store, before := setup(t)

		updated, err := svc.UpdateUser(ctx, caller, &UpdateUserInput{ID: before.ID, Username: "Alice", Roles: []string{"Manager", "Admin"}, Active: boolPtr(false)})
		require.NoError(t, err)
		assert.Equal(t, "Alice", updated.Username)

		after, err := store.Users().FindByID(ctx, before.ID)
		require.NoError(t, err)
		assert.Equal(t, before.Password, after.Password)
		assert.Equal(t, "Alice", after.Username)
		assert.Equal(t, []string{"Manager", "Admin"}, after.Roles)
		assert.False(t, after.Active)
	})

	t.Run("Supplied password is rehashed", func(t *testing.T) {
		svc, store, before := setup(t)

		_, err := svc.UpdateUser(ctx, caller, &UpdateUserInput{ID: before.ID, Username: "alice", Password: "changed", Roles: []string{"Employee"}, Active: boolPtr(true)})
		require.NoError(t, err)

		after, err := store.Users().FindByID(ctx, before.ID)
		require.NoError(t, err)
		assert.NotEqual(t, before.Password, after.Password)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(after.Password), []byte("changed")))
	})
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()

	t.Run("Missing id", func(t *testing.T) {
		svc, _ := setupTestService(t)
		_, err := svc.DeleteUser(ctx, caller, &DeleteUserInput{})
		assertKind(t, err, KindValidation)
	})

	t.Run("User has notes", func(t *testing.T) {
		svc, store := setupTestService(t)
		user, err := svc.CreateUser(ctx, caller, &CreateUserInput{Username: "alice", Password: "pw"})
		require.NoError(t, err)

		now := time.Now()
		require.NoError(t, store.Notes().Create(ctx, &models.Note{ID: uuid.NewString(), User: user.ID, Title: "todo", CreatedAt: now, UpdatedAt: now}))

		_, err = svc.DeleteUser(ctx, caller, &DeleteUserInput{ID: user.ID})
		assertKind(t, err, KindIntegrityGuard)

		_, err = store.Users().FindByID(ctx, user.ID)
		assert.NoError(t, err)
	})

	t.Run("Not found", func(t *testing.T) {
		svc, _ := setupTestService(t)
		_, err := svc.DeleteUser(ctx, caller, &DeleteUserInput{ID: uuid.NewString()})
		assertKind(t, err, KindNotFound)
	})

	t.Run("Success", func(t *testing.T) {
		svc, store := setupTestService(t)
		user, err := svc.CreateUser(ctx, caller, &CreateUserInput{Username: "alice", Password: "pw"})
		require.NoError(t, err)

		deleted, err := svc.DeleteUser(ctx, caller, &DeleteUserInput{ID: user.ID})
		require.NoError(t, err)
		assert.Equal(t, "alice", deleted.Username)

		_, err = store.Users().FindByID(ctx, user.ID)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestSeedBootstrapAdmin(t *testing.T) {
	ctx := context.Background()
	svc, store := setupTestService(t)
	admin := config.BootstrapAdmin{Username: "admin", Password: "adminpassword", Roles: []string{"Admin"}}

	created, err := SeedBootstrapAdmin(ctx, svc, admin, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = SeedBootstrapAdmin(ctx, svc, admin, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, created)

	user, err := store.Users().FindByUsername(ctx, "ADMIN")
	require.NoError(t, err)
	assert.Equal(t, []string{"Admin"}, user.Roles)

	created, err = SeedBootstrapAdmin(ctx, svc, config.BootstrapAdmin{}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, created)
}
