package model

import "time"

// Document is an uploaded file owned by a single user. The raw bytes live on
// disk under StoredName; Content holds the extracted plain text used for
// summaries and chat context. Summary stays empty until first computed.
type Document struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index" json:"user_id"`
	OriginalName string    `gorm:"size:256;not null" json:"original_name"`
	StoredName   string    `gorm:"size:128;not null;uniqueIndex" json:"-"`
	FileType     string    `gorm:"size:16;not null" json:"file_type"`
	SizeBytes    int64     `gorm:"not null" json:"size_bytes"`
	Content      string    `gorm:"type:longtext" json:"-"`
	Summary      string    `gorm:"type:text" json:"summary,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
