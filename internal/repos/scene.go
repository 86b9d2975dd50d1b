package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/sceneforge-backend/internal/logger"
	"github.com/yungbote/sceneforge-backend/internal/types"
)

type SceneRepo interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, scenes []*types.Scene) ([]*types.Scene, error)
	ListByGeneration(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) ([]*types.Scene, error)
	// ListCompleted returns the composition input set: completed scenes with
	// a rendered asset, ordered by order_index ascending.
	ListCompleted(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) ([]*types.Scene, error)
	GetBySceneID(ctx context.Context, tx *gorm.DB, generationID uuid.UUID, sceneID string) (*types.Scene, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	// ResetForRegenerate flips a scene back to pending so the regenerate job
	// re-renders it from the stored scene project.
	ResetForRegenerate(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type sceneRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSceneRepo(db *gorm.DB, baseLog *logger.Logger) SceneRepo {
	return &sceneRepo{db: db, log: baseLog.With("repo", "SceneRepo")}
}

func (r *sceneRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *sceneRepo) CreateBatch(ctx context.Context, tx *gorm.DB, scenes []*types.Scene) ([]*types.Scene, error) {
	if len(scenes) == 0 {
		return scenes, nil
	}
	for _, s := range scenes {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
	}
	if err := r.conn(tx).WithContext(ctx).Create(&scenes).Error; err != nil {
		return nil, err
	}
	return scenes, nil
}

func (r *sceneRepo) ListByGeneration(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) ([]*types.Scene, error) {
	var out []*types.Scene
	err := r.conn(tx).WithContext(ctx).
		Where("generation_id = ?", generationID).
		Order("order_index ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sceneRepo) ListCompleted(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) ([]*types.Scene, error) {
	var out []*types.Scene
	err := r.conn(tx).WithContext(ctx).
		Where("generation_id = ? AND status = ? AND rendered_asset_path <> '' AND rendered_asset_url <> ''", generationID, types.SceneStatusCompleted).
		Order("order_index ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sceneRepo) GetBySceneID(ctx context.Context, tx *gorm.DB, generationID uuid.UUID, sceneID string) (*types.Scene, error) {
	var s types.Scene
	err := r.conn(tx).WithContext(ctx).
		Where("generation_id = ? AND scene_id = ?", generationID, sceneID).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sceneRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	res := r.conn(tx).WithContext(ctx).
		Model(&types.Scene{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sceneRepo) ResetForRegenerate(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.UpdateFields(ctx, tx, id, map[string]any{
		"status":   types.SceneStatusPending,
		"progress": 0,
		"error":    "",
	})
}
