package stories

import (
	"time"

	"github.com/google/uuid"
)

// Theme, Language and Tone are the selectable catalog rows. Stories keep an
// immutable copy (the *Ref types) taken at admission time.

type Theme struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"column:name;not null;uniqueIndex" json:"name"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	IsActive    bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (Theme) TableName() string { return "theme" }

func (t Theme) Ref() ThemeRef {
	return ThemeRef{ID: t.ID, Name: t.Name, Description: t.Description}
}

type Language struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	Code      string    `gorm:"column:code;not null;uniqueIndex" json:"code"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Language) TableName() string { return "language" }

func (l Language) Ref() LanguageRef {
	return LanguageRef{ID: l.ID, Name: l.Name, Code: l.Code}
}

type Tone struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"column:name;not null;uniqueIndex" json:"name"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	IsActive    bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (Tone) TableName() string { return "tone" }

func (t Tone) Ref() ToneRef {
	return ToneRef{ID: t.ID, Name: t.Name, Description: t.Description}
}

type ThemeRef struct {
	ID          uuid.UUID `gorm:"type:uuid" json:"id"`
	Name        string    `json:"name"`
	Description string    `gorm:"type:text" json:"description"`
}

type LanguageRef struct {
	ID   uuid.UUID `gorm:"type:uuid" json:"id"`
	Name string    `json:"name"`
	Code string    `json:"code"`
}

type ToneRef struct {
	ID          uuid.UUID `gorm:"type:uuid" json:"id"`
	Name        string    `json:"name"`
	Description string    `gorm:"type:text" json:"description"`
}
