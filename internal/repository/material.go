package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/feichai0017/seed-processor/internal/models"
)

// MaterialRepository persists the derived artifacts of a seed.
type MaterialRepository interface {
	Create(ctx context.Context, m *models.SeedMaterial) error
	ListBySeed(ctx context.Context, seedID uuid.UUID) ([]*models.SeedMaterial, error)
	DeleteBySeed(ctx context.Context, seedID uuid.UUID) error
	// MarkStatus sets materials_status[kind] on the seed's metadata.
	MarkStatus(ctx context.Context, seedID uuid.UUID, kind, status string) error
	// Complete stores m and marks its type completed in one transaction.
	// It returns ErrNotFound, writing nothing, when the seed is gone.
	Complete(ctx context.Context, m *models.SeedMaterial) error
}

type materialRepo struct {
	db *gorm.DB
}

func NewMaterialRepository(db *gorm.DB) MaterialRepository {
	return &materialRepo{db: db}
}

func (r *materialRepo) Create(ctx context.Context, m *models.SeedMaterial) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create material: %w", err)
	}
	return nil
}

func (r *materialRepo) ListBySeed(ctx context.Context, seedID uuid.UUID) ([]*models.SeedMaterial, error) {
	var out []*models.SeedMaterial
	if err := r.db.WithContext(ctx).Where("seed_id = ?", seedID).Order("created_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	return out, nil
}

func (r *materialRepo) DeleteBySeed(ctx context.Context, seedID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("seed_id = ?", seedID).Delete(&models.SeedMaterial{}).Error; err != nil {
		return fmt.Errorf("failed to delete materials: %w", err)
	}
	return nil
}

func (r *materialRepo) MarkStatus(ctx context.Context, seedID uuid.UUID, kind, status string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed, err := lockSeed(tx, seedID)
		if err != nil {
			return err
		}
		return setMaterialStatus(tx, seed, kind, status)
	})
}

func (r *materialRepo) Complete(ctx context.Context, m *models.SeedMaterial) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed, err := lockSeed(tx, m.SeedID)
		if err != nil {
			return err
		}
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("failed to create material: %w", err)
		}
		return setMaterialStatus(tx, seed, m.Type, models.MaterialCompleted)
	})
}

// lockSeed loads the seed's metadata, holding a row lock on postgres so a
// concurrent delete waits for the transaction.
func lockSeed(tx *gorm.DB, seedID uuid.UUID) (*models.Seed, error) {
	q := tx.Select("id", "extraction_metadata").Where("id = ?", seedID)
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var seed models.Seed
	err := q.First(&seed).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load seed: %w", err)
	}
	return &seed, nil
}

func setMaterialStatus(tx *gorm.DB, seed *models.Seed, kind, status string) error {
	statuses := seed.MaterialsStatus()
	statuses[kind] = status
	meta := seed.ExtractionMetadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta[models.MetaMaterialsStatus] = statuses

	if err := tx.Model(&models.Seed{}).Where("id = ?", seed.ID).Update("extraction_metadata", meta).Error; err != nil {
		return fmt.Errorf("failed to update materials status: %w", err)
	}
	return nil
}
