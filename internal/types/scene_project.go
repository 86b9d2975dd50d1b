package types

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// RenderContext carries the frame geometry shared by every scene in a
// generation. Width and height are always even; fps is positive.
type RenderContext struct {
	AspectRatio float64 `json:"aspectRatio"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         int     `json:"fps"`
}

// VideoInput points a pipeline at a trim window of a user-supplied video.
// URL and Path are resolved from the generation request so pipelines never
// need the request back.
type VideoInput struct {
	ID          string  `json:"id"`
	FromSeconds float64 `json:"fromSeconds"`
	ToSeconds   float64 `json:"toSeconds"`
	URL         string  `json:"url,omitempty"`
	Path        string  `json:"path,omitempty"`
}

type ImageInput struct {
	ID   string `json:"id"`
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
}

type SceneInputs struct {
	Video          *VideoInput  `json:"video,omitempty"`
	SecondaryVideo *VideoInput  `json:"secondaryVideo,omitempty"`
	Images         []ImageInput `json:"images,omitempty"`
}

type SceneExtra struct {
	LayoutPreset   string   `json:"layoutPreset,omitempty"`
	LayoutHint     string   `json:"layoutHint,omitempty"`
	TextContent    string   `json:"textContent,omitempty"`
	AnimationHints []string `json:"animationHints,omitempty"`
	VisualStyle    []string `json:"visualStyle,omitempty"`
	AudioStrategy  string   `json:"audioStrategy,omitempty"`
	ImageHints     []string `json:"imageHints,omitempty"`
	Position       string   `json:"position,omitempty"`
	Size           string   `json:"size,omitempty"`
}

// SceneProject is the fully-resolved render specification for one scene,
// the exact input handed to a pipeline. It is snapshotted on the Scene row
// so a single scene can be regenerated without re-running earlier phases.
type SceneProject struct {
	SceneID        string           `json:"sceneId"`
	Kind           SceneKind        `json:"kind"`
	ScenarioItem   TimelineItem     `json:"scenarioItem"`
	RenderContext  RenderContext    `json:"renderContext"`
	Inputs         SceneInputs      `json:"inputs"`
	Extra          SceneExtra       `json:"extra"`
	DebugFrameURLs []string         `json:"debugFrameUrls,omitempty"`
}

func SceneProjectFromJSON(raw datatypes.JSON) (*SceneProject, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("scene project not set")
	}
	var p SceneProject
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode scene project: %w", err)
	}
	return &p, nil
}

func (p *SceneProject) ToJSON() (datatypes.JSON, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode scene project: %w", err)
	}
	return datatypes.JSON(raw), nil
}
