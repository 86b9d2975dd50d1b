package types

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// VideoMetadata is what phase 0 learns about one input video. When probing
// fails the orchestrator substitutes the 1080p30 defaults and drops the
// transcript rather than failing the phase.
type VideoMetadata struct {
	Duration float64 `json:"duration"`
	FPS      float64 `json:"fps"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

func DefaultVideoMetadata() VideoMetadata {
	return VideoMetadata{Duration: 0, FPS: 30, Width: 1920, Height: 1080}
}

type EnrichedContext struct {
	Prompt           string                   `json:"prompt"`
	VideoTranscripts map[string]string        `json:"videoTranscripts"`
	VideoMetadata    map[string]VideoMetadata `json:"videoMetadata"`
	ImageCaptions    map[string]string        `json:"imageCaptions"`
	ReferenceNotes   string                   `json:"referenceNotes"`
}

func NewEnrichedContext(prompt string) *EnrichedContext {
	return &EnrichedContext{
		Prompt:           prompt,
		VideoTranscripts: map[string]string{},
		VideoMetadata:    map[string]VideoMetadata{},
		ImageCaptions:    map[string]string{},
	}
}

func EnrichedContextFromJSON(raw datatypes.JSON) (*EnrichedContext, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("enriched context not set")
	}
	var ec EnrichedContext
	if err := json.Unmarshal(raw, &ec); err != nil {
		return nil, fmt.Errorf("decode enriched context: %w", err)
	}
	return &ec, nil
}

func (ec *EnrichedContext) ToJSON() (datatypes.JSON, error) {
	raw, err := json.Marshal(ec)
	if err != nil {
		return nil, fmt.Errorf("encode enriched context: %w", err)
	}
	return datatypes.JSON(raw), nil
}
