package models

import "time"

// Note is only consulted by the user directory: a note pointing at a user
// blocks that user's deletion.
type Note struct {
	ID        string    `bson:"_id" gorm:"primaryKey;size:36" json:"id"`
	User      string    `bson:"user" gorm:"size:36;not null;index" json:"user"`
	Title     string    `bson:"title" gorm:"not null" json:"title"`
	Text      string    `bson:"text" json:"text"`
	Completed bool      `bson:"completed" json:"completed"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
