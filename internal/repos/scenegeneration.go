package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/sceneforge-backend/internal/logger"
	"github.com/yungbote/sceneforge-backend/internal/types"
)

var ErrNotFound = errors.New("record not found")

// ErrInvalidState signals a guarded update whose precondition did not hold,
// e.g. replacing the scenario outside scenario review.
var ErrInvalidState = errors.New("invalid state for operation")

type SceneGenerationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, g *types.SceneGeneration) (*types.SceneGeneration, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SceneGeneration, error)
	GetByIDWithScenes(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SceneGeneration, error)
	List(ctx context.Context, tx *gorm.DB, status, phase string, limit int) ([]*types.SceneGeneration, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	// Cancel marks an active generation cancelled. Terminal rows are left
	// untouched; the call still returns the current row, so repeating a
	// DELETE stays idempotent.
	Cancel(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SceneGeneration, error)
	// ReplaceScenario swaps the scenario JSON, but only while the generation
	// is paused for scenario review.
	ReplaceScenario(ctx context.Context, tx *gorm.DB, id uuid.UUID, scenario datatypes.JSON) error
}

type sceneGenerationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSceneGenerationRepo(db *gorm.DB, baseLog *logger.Logger) SceneGenerationRepo {
	return &sceneGenerationRepo{db: db, log: baseLog.With("repo", "SceneGenerationRepo")}
}

func (r *sceneGenerationRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *sceneGenerationRepo) Create(ctx context.Context, tx *gorm.DB, g *types.SceneGeneration) (*types.SceneGeneration, error) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if err := r.conn(tx).WithContext(ctx).Create(g).Error; err != nil {
		return nil, err
	}
	return g, nil
}

func (r *sceneGenerationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SceneGeneration, error) {
	var g types.SceneGeneration
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *sceneGenerationRepo) GetByIDWithScenes(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SceneGeneration, error) {
	var g types.SceneGeneration
	err := r.conn(tx).WithContext(ctx).
		Preload("Scenes", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index ASC")
		}).
		Where("id = ?", id).
		First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *sceneGenerationRepo) List(ctx context.Context, tx *gorm.DB, status, phase string, limit int) ([]*types.SceneGeneration, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	q := r.conn(tx).WithContext(ctx).Model(&types.SceneGeneration{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if phase != "" {
		q = q.Where("phase = ?", phase)
	}
	var out []*types.SceneGeneration
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sceneGenerationRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	res := r.conn(tx).WithContext(ctx).
		Model(&types.SceneGeneration{}).
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

func (r *sceneGenerationRepo) Cancel(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SceneGeneration, error) {
	conn := r.conn(tx).WithContext(ctx)
	res := conn.Model(&types.SceneGeneration{}).
		Where("id = ? AND status NOT IN ?", id, []types.GenerationStatus{
			types.GenerationStatusCompleted,
			types.GenerationStatusFailed,
			types.GenerationStatusCancelled,
		}).
		Updates(map[string]any{
			"status":     types.GenerationStatusCancelled,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	return r.GetByID(ctx, tx, id)
}

func (r *sceneGenerationRepo) ReplaceScenario(ctx context.Context, tx *gorm.DB, id uuid.UUID, scenario datatypes.JSON) error {
	conn := r.conn(tx).WithContext(ctx)
	res := conn.Model(&types.SceneGeneration{}).
		Where("id = ? AND status = ?", id, types.GenerationStatusWaitingForReview).
		Updates(map[string]any{
			"scenario":   scenario,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, tx, id); err != nil {
			return err
		}
		return ErrInvalidState
	}
	return nil
}
