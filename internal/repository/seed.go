package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/feichai0017/seed-processor/internal/models"
)

// SeedRepository persists seeds. A delete is visible to every reader as soon
// as it returns.
type SeedRepository interface {
	Create(ctx context.Context, seed *models.Seed) error
	Update(ctx context.Context, seed *models.Seed) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Seed, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Seed, error)
}

type seedRepo struct {
	db *gorm.DB
}

func NewSeedRepository(db *gorm.DB) SeedRepository {
	return &seedRepo{db: db}
}

func (r *seedRepo) Create(ctx context.Context, seed *models.Seed) error {
	if seed.ID == uuid.Nil {
		seed.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(seed).Error; err != nil {
		return fmt.Errorf("failed to create seed: %w", err)
	}
	return nil
}

// Update writes every column. Updating a deleted seed returns ErrNotFound
// instead of recreating it.
func (r *seedRepo) Update(ctx context.Context, seed *models.Seed) error {
	res := r.db.WithContext(ctx).
		Model(seed).
		Select("*").
		Omit("id", "created_at").
		Updates(seed)
	if res.Error != nil {
		return fmt.Errorf("failed to update seed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *seedRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Seed{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete seed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *seedRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Seed, error) {
	var seed models.Seed
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&seed).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get seed: %w", err)
	}
	return &seed, nil
}

// PageLimit is the page size ListByUser applies for a requested limit.
func PageLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}

// ListByUser returns the user's seeds, newest first.
func (r *seedRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Seed, error) {
	limit = PageLimit(limit)
	if offset < 0 {
		offset = 0
	}
	var seeds []*models.Seed
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&seeds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list seeds: %w", err)
	}
	return seeds, nil
}
