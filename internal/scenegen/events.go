package scenegen

import (
	"github.com/google/uuid"

	"github.com/yungbote/sceneforge-backend/internal/types"
)

// EventPublisher is the fire-and-forget progress channel. Implementations
// must never block the pipeline; a slow or absent subscriber costs nothing.
type EventPublisher interface {
	PublishProgress(generationID uuid.UUID, phase types.GenerationPhase, progress int)
	PublishPhaseChange(generationID uuid.UUID, phase types.GenerationPhase, progress int)
	PublishSceneComplete(generationID uuid.UUID, sceneID, assetURL string)
	PublishGenerationComplete(generationID uuid.UUID, resultURL string)
	PublishError(generationID uuid.UUID, message string)
}

// NopEventPublisher drops everything. Useful in tests and inline mode
// before the hub is wired.
type NopEventPublisher struct{}

func (NopEventPublisher) PublishProgress(uuid.UUID, types.GenerationPhase, int)    {}
func (NopEventPublisher) PublishPhaseChange(uuid.UUID, types.GenerationPhase, int) {}
func (NopEventPublisher) PublishSceneComplete(uuid.UUID, string, string)           {}
func (NopEventPublisher) PublishGenerationComplete(uuid.UUID, string)              {}
func (NopEventPublisher) PublishError(uuid.UUID, string)                           {}
