package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type GenerationStatus string

const (
	GenerationStatusQueued                GenerationStatus = "queued"
	GenerationStatusProcessing            GenerationStatus = "processing"
	GenerationStatusWaitingForReview      GenerationStatus = "waiting_for_review"
	GenerationStatusWaitingForSceneReview GenerationStatus = "waiting_for_scene_review"
	GenerationStatusCompleted             GenerationStatus = "completed"
	GenerationStatusFailed                GenerationStatus = "failed"
	GenerationStatusCancelled             GenerationStatus = "cancelled"
)

// Terminal reports whether no further orchestrator writes may follow.
func (s GenerationStatus) Terminal() bool {
	switch s {
	case GenerationStatusCompleted, GenerationStatusFailed, GenerationStatusCancelled:
		return true
	}
	return false
}

type GenerationPhase string

const (
	GenerationPhase0 GenerationPhase = "phase0"
	GenerationPhase1 GenerationPhase = "phase1"
	GenerationPhase2 GenerationPhase = "phase2"
	GenerationPhase3 GenerationPhase = "phase3"
	GenerationPhase4 GenerationPhase = "phase4"
)

// SceneGeneration is the unit of work: one run of the five-phase pipeline.
// The orchestrator is the single writer of this row once it leaves "queued";
// the only handler-side mutation is the scenario replace during review.
type SceneGeneration struct {
	ID              uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	Prompt          string           `gorm:"column:prompt;not null" json:"prompt"`
	AspectRatio     float64          `gorm:"column:aspect_ratio;not null;default:5.83" json:"aspect_ratio"`
	ReviewScenario  bool             `gorm:"column:review_scenario;not null;default:false" json:"review_scenario"`
	ReviewScenes    bool             `gorm:"column:review_scenes;not null;default:false" json:"review_scenes"`
	Status          GenerationStatus `gorm:"column:status;not null;index" json:"status"`
	Phase           GenerationPhase  `gorm:"column:phase;index" json:"phase"`
	Progress        int              `gorm:"column:progress;not null;default:0" json:"progress"`
	Request         datatypes.JSON   `gorm:"type:jsonb;column:request" json:"request,omitempty"`
	EnrichedContext datatypes.JSON   `gorm:"type:jsonb;column:enriched_context" json:"enriched_context,omitempty"`
	Scenario        datatypes.JSON   `gorm:"type:jsonb;column:scenario" json:"scenario,omitempty"`
	SceneProjects   datatypes.JSON   `gorm:"type:jsonb;column:scene_projects" json:"scene_projects,omitempty"`
	ResultURL       string           `gorm:"column:result_url" json:"result_url,omitempty"`
	ResultPath      string           `gorm:"column:result_path" json:"result_path,omitempty"`
	Error           string           `gorm:"column:error" json:"error,omitempty"`
	TaskID          string           `gorm:"column:task_id" json:"task_id,omitempty"`
	PublicationID   string           `gorm:"column:publication_id" json:"publication_id,omitempty"`
	CompletedAt     *time.Time       `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time        `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt   `gorm:"index" json:"deleted_at,omitempty"`

	Scenes []Scene `gorm:"foreignKey:GenerationID;references:ID" json:"scenes,omitempty"`
}

func (SceneGeneration) TableName() string { return "scene_generation" }
