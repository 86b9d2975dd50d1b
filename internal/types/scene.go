package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SceneStatus string

const (
	SceneStatusPending    SceneStatus = "pending"
	SceneStatusProcessing SceneStatus = "processing"
	SceneStatusCompleted  SceneStatus = "completed"
	SceneStatusFailed     SceneStatus = "failed"
)

// Scene is the per-timeline-item rendering record. Created in bulk by
// phase 2, transitioned by phase 3, and otherwise read-only except for
// the explicit regenerate path which resets it to pending.
type Scene struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	GenerationID      uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_scene_gen_scene_id,priority:1;uniqueIndex:idx_scene_gen_order,priority:1" json:"generation_id"`
	SceneID           string         `gorm:"column:scene_id;not null;uniqueIndex:idx_scene_gen_scene_id,priority:2" json:"scene_id"`
	Kind              SceneKind      `gorm:"column:kind;not null" json:"kind"`
	OrderIndex        int            `gorm:"column:order_index;not null;uniqueIndex:idx_scene_gen_order,priority:2" json:"order_index"`
	Status            SceneStatus    `gorm:"column:status;not null;index" json:"status"`
	Progress          int            `gorm:"column:progress;not null;default:0" json:"progress"`
	RenderedAssetPath string         `gorm:"column:rendered_asset_path" json:"rendered_asset_path,omitempty"`
	RenderedAssetURL  string         `gorm:"column:rendered_asset_url" json:"rendered_asset_url,omitempty"`
	Error             string         `gorm:"column:error" json:"error,omitempty"`
	SceneProject      datatypes.JSON `gorm:"type:jsonb;column:scene_project" json:"scene_project,omitempty"`
	CreatedAt         time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Scene) TableName() string { return "scene" }
