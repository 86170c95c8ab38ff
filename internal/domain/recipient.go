package domain

import "time"

// PushToken is the current push device token for a user. The client
// registration flow overwrites it; the push error classifier deletes it when
// the transport reports the token permanently invalid.
type PushToken struct {
	UserID    string `gorm:"type:varchar(64);primaryKey"`
	Token     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// UserContact holds the email address on file for a user. Absence is not an
// error: the email channel simply skips the user.
type UserContact struct {
	UserID    string `gorm:"type:varchar(64);primaryKey"`
	Email     string `gorm:"type:varchar(255);not null"`
	UpdatedAt time.Time
}
