package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"certnode/internal/domain"
	"certnode/internal/graph"
	cryptoinfra "certnode/internal/infra/crypto"
)

// ReceiptRepository journals graph mutations to Postgres and replays them on
// startup.
type ReceiptRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ graph.Journal = (*ReceiptRepository)(nil)
	_ graph.Source  = (*ReceiptRepository)(nil)
)

func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *ReceiptRepository) AppendReceipt(ctx context.Context, receipt domain.Receipt, edges []domain.Relationship) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model, err := toReceiptModel(receipt, r.now())
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s", domain.ErrDuplicateReceipt, receipt.ID)
			}
			return err
		}
		for _, edge := range edges {
			rel := toRelationshipModel(edge)
			if err := tx.Create(&rel).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

func (r *ReceiptRepository) AppendRelationship(ctx context.Context, rel domain.Relationship) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := toRelationshipModel(rel)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateRelationship, rel.ID)
		}
		return err
	}
	return nil
}

func (r *ReceiptRepository) LoadReceipts(ctx context.Context) ([]domain.Receipt, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []ReceiptModel
	if err := r.db.WithContext(ctx).Order("seq ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Receipt, 0, len(models))
	for _, m := range models {
		receipt, err := fromReceiptModel(m)
		if err != nil {
			return nil, fmt.Errorf("receipt %s: %w", m.ID, err)
		}
		out = append(out, receipt)
	}
	return out, nil
}

func (r *ReceiptRepository) LoadRelationships(ctx context.Context) ([]domain.Relationship, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []RelationshipModel
	if err := r.db.WithContext(ctx).Order("seq ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Relationship, 0, len(models))
	for _, m := range models {
		out = append(out, fromRelationshipModel(m))
	}
	return out, nil
}

// GetEnvelope reads one stored envelope without going through the graph.
func (r *ReceiptRepository) GetEnvelope(ctx context.Context, id string) (*domain.Envelope, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ReceiptModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var env domain.Envelope
	if err := json.Unmarshal(model.EnvelopeJSON, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func toReceiptModel(receipt domain.Receipt, now time.Time) (ReceiptModel, error) {
	envelope, err := json.Marshal(receipt.Envelope)
	if err != nil {
		return ReceiptModel{}, err
	}
	return ReceiptModel{
		ID:           receipt.ID,
		Domain:       string(receipt.Domain),
		KID:          receipt.KID,
		ContentHash:  receipt.ContentHash,
		IssuedAt:     receipt.Timestamp.UTC(),
		EnvelopeJSON: envelope,
		CreatedAt:    now,
	}, nil
}

func fromReceiptModel(m ReceiptModel) (domain.Receipt, error) {
	var env domain.Envelope
	if err := json.Unmarshal(m.EnvelopeJSON, &env); err != nil {
		return domain.Receipt{}, err
	}
	receipt, err := cryptoinfra.ReceiptFromEnvelope(env)
	if err != nil {
		return domain.Receipt{}, err
	}
	if receipt.ID != m.ID {
		return domain.Receipt{}, fmt.Errorf("%w: stored id %s does not match envelope", domain.ErrInvalidEnvelope, m.ID)
	}
	return receipt, nil
}

func toRelationshipModel(rel domain.Relationship) RelationshipModel {
	return RelationshipModel{
		ID:           rel.ID,
		ParentID:     rel.ParentReceiptID,
		ChildID:      rel.ChildReceiptID,
		RelationType: string(rel.RelationType),
		Description:  rel.Description,
		CreatedBy:    rel.CreatedBy,
		CreatedAt:    rel.CreatedAt.UTC(),
	}
}

func fromRelationshipModel(m RelationshipModel) domain.Relationship {
	return domain.Relationship{
		ID:              m.ID,
		ParentReceiptID: m.ParentID,
		ChildReceiptID:  m.ChildID,
		RelationType:    domain.RelationType(m.RelationType),
		Description:     m.Description,
		CreatedBy:       m.CreatedBy,
		CreatedAt:       m.CreatedAt.UTC(),
	}
}
