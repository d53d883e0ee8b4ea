package models

import "time"

// User is the persisted shape of a directory account. The same struct is
// stored by the Mongo and gorm stores.
type User struct {
	ID       string `bson:"_id" gorm:"primaryKey;size:36" json:"id"`
	Username string `bson:"username" gorm:"size:255;not null" json:"username"`
	// UsernameKey is the case-folded username the gorm store indexes for
	// uniqueness. Mongo relies on a collation index instead.
	UsernameKey string    `bson:"-" gorm:"size:255;not null;uniqueIndex" json:"-"`
	Password    string    `bson:"password" gorm:"not null" json:"-"` // Don't expose password hash
	Roles       []string  `bson:"roles" gorm:"serializer:json" json:"roles"`
	Active      bool      `bson:"active" json:"active"`
	CreatedAt   time.Time `bson:"created_at" json:"-"`
	UpdatedAt   time.Time `bson:"updated_at" json:"-"`
}
