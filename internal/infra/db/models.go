package db

import "time"

// ReceiptModel stores the signed envelope verbatim. Every other column is
// derived from it and exists for indexing.
type ReceiptModel struct {
	Seq          int64     `gorm:"primaryKey;autoIncrement"`
	ID           string    `gorm:"uniqueIndex;not null"`
	Domain       string    `gorm:"index;not null"`
	KID          string    `gorm:"index;not null"`
	ContentHash  string    `gorm:"index;not null"`
	IssuedAt     time.Time `gorm:"index;not null"`
	EnvelopeJSON []byte    `gorm:"type:jsonb;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (ReceiptModel) TableName() string { return "receipts" }

type RelationshipModel struct {
	Seq          int64  `gorm:"primaryKey;autoIncrement"`
	ID           string `gorm:"uniqueIndex;not null"`
	ParentID     string `gorm:"index;not null"`
	ChildID      string `gorm:"index;not null"`
	RelationType string `gorm:"not null"`
	Description  string
	CreatedBy    string
	CreatedAt    time.Time `gorm:"not null"`
}

func (RelationshipModel) TableName() string { return "receipt_relationships" }
