package repositories

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"user-directory/models"
)

// GormStore implements Store on a SQL database (mysql or sqlite).
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Users() UserRepository { return NewUserRepository(s.db) }
func (s *GormStore) Notes() NoteRepository { return NewNoteRepository(s.db) }

func (s *GormStore) RunInTx(ctx context.Context, fn TxFunc) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewUserRepository(tx), NewNoteRepository(tx))
	})
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new User
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	user.UsernameKey = UsernameKey(user.Username)
	return translate(r.db.WithContext(ctx).Create(user).Error)
}

// FindByID finds User by ID
func (r *userRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// FindByUsername finds User by the folded username key
func (r *userRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username_key = ?", UsernameKey(username)).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// Update writes every column of the user, including zero values.
func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	user.UsernameKey = UsernameKey(user.Username)
	result := r.db.WithContext(ctx).Model(user).Select("*").Updates(user)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete deletes User
func (r *userRepository) Delete(ctx context.Context, user *models.User) error {
	result := r.db.WithContext(ctx).Where("id = ?", user.ID).Delete(&models.User{})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindAll returns all users without their password hashes
func (r *userRepository) FindAll(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).Omit("password").Order("created_at, id").Find(&users).Error
	if err != nil {
		return nil, translate(err)
	}
	return users, nil
}

type noteRepository struct {
	db *gorm.DB
}

func NewNoteRepository(db *gorm.DB) NoteRepository {
	return &noteRepository{db: db}
}

func (r *noteRepository) Create(ctx context.Context, note *models.Note) error {
	return translate(r.db.WithContext(ctx).Create(note).Error)
}

func (r *noteRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Note{}).Where(map[string]interface{}{"user": userID}).Count(&count).Error
	if err != nil {
		return 0, translate(err)
	}
	return count, nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateUsername
	default:
		return fmt.Errorf("database error: %w", err)
	}
}
