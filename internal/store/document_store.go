package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("NOT_FOUND")

// Document documents 表模型。content/version 是协作引擎的权威落点。
type Document struct {
	ID        string `gorm:"primaryKey;size:64"`
	OwnerID   uint64
	Title     string
	Content   string `gorm:"type:longtext"`
	Version   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Document) TableName() string { return "documents" }

type DocumentStore struct{ db *gorm.DB }

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) Read(ctx context.Context, documentID string) (string, uint64, error) {
	var doc Document
	err := s.db.WithContext(ctx).Where("id = ?", documentID).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", 0, ErrNotFound
		}
		return "", 0, err
	}
	return doc.Content, doc.Version, nil
}

func (s *DocumentStore) Write(ctx context.Context, documentID, content string, version uint64) error {
	res := s.db.WithContext(ctx).Model(&Document{}).
		Where("id = ?", documentID).
		Updates(map[string]any{"content": content, "version": version})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DocumentStore) IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
