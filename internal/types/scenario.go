package types

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

type SceneKind string

const (
	SceneKindVideo      SceneKind = "video"
	SceneKindBanner     SceneKind = "banner"
	SceneKindOverlay    SceneKind = "overlay"
	SceneKindPIP        SceneKind = "pip"
	SceneKindTransition SceneKind = "transition"
	SceneKindBlank      SceneKind = "blank"
)

// RequiresSourceVideo reports whether the kind trims a user-supplied clip.
func (k SceneKind) RequiresSourceVideo() bool {
	switch k {
	case SceneKindVideo, SceneKindOverlay, SceneKindPIP:
		return true
	}
	return false
}

// Scenario is the LLM-produced timeline describing what each scene should
// contain. It lives as a JSONB value on the generation row and is editable
// while the generation is paused for scenario review.
type Scenario struct {
	Timeline []TimelineItem `json:"timeline"`
}

type TimelineItem struct {
	ID              string           `json:"id"`
	Kind            SceneKind        `json:"kind"`
	DurationSeconds float64          `json:"durationSeconds,omitempty"`
	SourceVideoID   string           `json:"sourceVideoId,omitempty"`
	FromSeconds     *float64         `json:"fromSeconds,omitempty"`
	ToSeconds       *float64         `json:"toSeconds,omitempty"`
	DetailedRequest *DetailedRequest `json:"detailedRequest,omitempty"`
}

type DetailedRequest struct {
	Goal           string   `json:"goal,omitempty"`
	Description    string   `json:"description,omitempty"`
	VisualStyle    []string `json:"visualStyle,omitempty"`
	LayoutHint     string   `json:"layoutHint,omitempty"`
	TextContent    string   `json:"textContent,omitempty"`
	ImageHints     []string `json:"imageHints,omitempty"`
	AudioStrategy  string   `json:"audioStrategy,omitempty"`
	AnimationHints []string `json:"animationHints,omitempty"`
}

// Validate applies the lax schema enforced on incoming scenarios: a
// non-empty timeline whose items each carry id, kind and detailedRequest,
// with ids unique. Phase 2 applies the stricter kind-specific rules.
func (s *Scenario) Validate() error {
	if s == nil || len(s.Timeline) == 0 {
		return fmt.Errorf("timeline must be a non-empty array")
	}
	seen := make(map[string]bool, len(s.Timeline))
	for i, item := range s.Timeline {
		if item.ID == "" {
			return fmt.Errorf("timeline[%d]: missing id", i)
		}
		if item.Kind == "" {
			return fmt.Errorf("timeline[%d] (%s): missing kind", i, item.ID)
		}
		if item.DetailedRequest == nil {
			return fmt.Errorf("timeline[%d] (%s): missing detailedRequest", i, item.ID)
		}
		if seen[item.ID] {
			return fmt.Errorf("timeline[%d]: duplicate id %q", i, item.ID)
		}
		seen[item.ID] = true
	}
	return nil
}

// ValidateForRendering applies the phase 2 rules on top of Validate:
// source kinds need a trim window with toSeconds > fromSeconds >= 0, and
// banners need a positive duration.
func (s *Scenario) ValidateForRendering() error {
	if err := s.Validate(); err != nil {
		return err
	}
	for i, item := range s.Timeline {
		if item.Kind.RequiresSourceVideo() {
			if item.SourceVideoID == "" {
				return fmt.Errorf("timeline[%d] (%s): kind %q requires sourceVideoId", i, item.ID, item.Kind)
			}
			if item.FromSeconds == nil || item.ToSeconds == nil {
				return fmt.Errorf("timeline[%d] (%s): kind %q requires fromSeconds and toSeconds", i, item.ID, item.Kind)
			}
			if *item.FromSeconds < 0 || *item.ToSeconds <= *item.FromSeconds {
				return fmt.Errorf("timeline[%d] (%s): trim window [%v, %v) has non-positive duration", i, item.ID, *item.FromSeconds, *item.ToSeconds)
			}
		}
		if item.Kind == SceneKindBanner && item.DurationSeconds <= 0 {
			return fmt.Errorf("timeline[%d] (%s): banner requires durationSeconds > 0", i, item.ID)
		}
	}
	return nil
}

func ScenarioFromJSON(raw datatypes.JSON) (*Scenario, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("scenario not set")
	}
	var s Scenario
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &s, nil
}

func (s *Scenario) ToJSON() (datatypes.JSON, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode scenario: %w", err)
	}
	return datatypes.JSON(raw), nil
}
