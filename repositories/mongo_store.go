package repositories

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"user-directory/database"
	"user-directory/models"
)

// MongoStore implements Store on a MongoDB database.
type MongoStore struct {
	client       *mongo.Client
	users        *MongoUserRepository
	notes        *MongoNoteRepository
	transactions bool
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore wraps an already connected client. Transactions need a
// replica set, so they are opt-in.
func NewMongoStore(client *mongo.Client, dbName string, transactions bool) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		client:       client,
		users:        NewMongoUserRepository(db),
		notes:        NewMongoNoteRepository(db),
		transactions: transactions,
	}
}

func (s *MongoStore) Users() UserRepository { return s.users }
func (s *MongoStore) Notes() NoteRepository { return s.notes }

func (s *MongoStore) RunInTx(ctx context.Context, fn TxFunc) error {
	if !s.transactions {
		return fn(ctx, s.users, s.notes)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("error starting session: %w", err)
	}
	defer session.EndSession(ctx)

	// Operations issued with the session context join the transaction.
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, s.users, s.notes)
	})
	return err
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// MongoUserRepository implements the UserRepository interface for MongoDB
type MongoUserRepository struct {
	collection *mongo.Collection
}

// NewMongoUserRepository creates a new MongoUserRepository
func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{collection: db.Collection(database.UsersCollection)}
}

func (r *MongoUserRepository) Create(ctx context.Context, user *models.User) error {
	_, err := r.collection.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("error inserting user: %w", err)
	}
	return nil
}

func (r *MongoUserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id}, options.FindOne())
}

func (r *MongoUserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"username": username}, options.FindOne().SetCollation(database.UsernameCollation))
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*models.User, error) {
	var user models.User
	err := r.collection.FindOne(ctx, filter, opts).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding user: %w", err)
	}
	return &user, nil
}

func (r *MongoUserRepository) Update(ctx context.Context, user *models.User) error {
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": user.ID}, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("error updating user: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUserRepository) Delete(ctx context.Context, user *models.User) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": user.ID})
	if err != nil {
		return fmt.Errorf("error deleting user: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUserRepository) FindAll(ctx context.Context) ([]models.User, error) {
	opts := options.Find().
		SetProjection(bson.M{"password": 0}).
		SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("error decoding users: %w", err)
	}
	return users, nil
}

// MongoNoteRepository implements the NoteRepository interface for MongoDB
type MongoNoteRepository struct {
	collection *mongo.Collection
}

// NewMongoNoteRepository creates a new MongoNoteRepository
func NewMongoNoteRepository(db *mongo.Database) *MongoNoteRepository {
	return &MongoNoteRepository{collection: db.Collection(database.NotesCollection)}
}

func (r *MongoNoteRepository) Create(ctx context.Context, note *models.Note) error {
	if _, err := r.collection.InsertOne(ctx, note); err != nil {
		return fmt.Errorf("error inserting note: %w", err)
	}
	return nil
}

func (r *MongoNoteRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"user": userID})
	if err != nil {
		return 0, fmt.Errorf("error counting notes: %w", err)
	}
	return count, nil
}
