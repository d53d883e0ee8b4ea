package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"user-directory/config"
	"user-directory/models"
)

const (
	UsersCollection = "users"
	NotesCollection = "notes"
)

// UsernameCollation makes "Bob", "bob" and "BOB" compare equal while keeping
// accents significant.
var UsernameCollation = &options.Collation{Locale: "en", Strength: 2}

// ConnectMongo opens a client, verifies it with a ping and makes sure the
// users collection carries the case-insensitive unique username index.
func ConnectMongo(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout(cfg))
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	if err := EnsureMongoIndexes(ctx, client.Database(cfg.Name)); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	log.Info("Connected to MongoDB", zap.String("database", cfg.Name))
	return client, nil
}

// EnsureMongoIndexes creates the indexes the repositories rely on. It is
// idempotent.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(UsersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "username", Value: 1}},
		Options: options.Index().
			SetName("username_ci_unique").
			SetUnique(true).
			SetCollation(UsernameCollation),
	})
	if err != nil {
		return fmt.Errorf("failed to create username index: %w", err)
	}

	_, err = db.Collection(NotesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user", Value: 1}},
		Options: options.Index().SetName("user"),
	})
	if err != nil {
		return fmt.Errorf("failed to create notes user index: %w", err)
	}
	return nil
}

// OpenGorm opens a SQL database for the mysql or sqlite driver and migrates
// the user and note tables.
func OpenGorm(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverMySQL:
		dialector = mysql.Open(cfg.URL)
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	gormLogger := logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true, // Keep password hashes out of the log
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := db.AutoMigrate(&models.User{}, &models.Note{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if ddl := usernameKeyDDL(cfg.Driver); ddl != "" {
		if err := db.Exec(ddl).Error; err != nil {
			return nil, fmt.Errorf("failed to set username key collation: %w", err)
		}
	}

	log.Info("Database connection successful and migrations complete.", zap.String("driver", cfg.Driver))
	return db, nil
}

// usernameKeyDDL returns the statement that gives username_key a binary
// collation. The key is already case folded, and MySQL's default collation
// would also fold accents. Other drivers compare bytes already.
func usernameKeyDDL(driver string) string {
	if driver != config.DriverMySQL {
		return ""
	}
	return "ALTER TABLE `users` MODIFY `username_key` VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL"
}

func connectTimeout(cfg config.DatabaseConfig) time.Duration {
	if cfg.ConnectTimeout <= 0 {
		return 10 * time.Second
	}
	return cfg.ConnectTimeout
}
