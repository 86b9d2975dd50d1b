package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

// MediaRef identifies one user-supplied asset. Path is an object-store key;
// URL is a direct fetch location. Either may be empty but not both.
type MediaRef struct {
	ID   string `json:"id"`
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
}

// GenerationRequest is the validated body of POST /generate. It is
// snapshotted onto the generation row because phases 0 and 2 (and any
// continue job) need the raw input lists long after the HTTP request ended.
type GenerationRequest struct {
	Prompt         string     `json:"prompt"`
	AspectRatio    float64    `json:"aspectRatio,omitempty"`
	ReviewScenario bool       `json:"reviewScenario,omitempty"`
	ReviewScenes   bool       `json:"reviewScenes,omitempty"`
	Videos         []MediaRef `json:"videos,omitempty"`
	Images         []MediaRef `json:"images,omitempty"`
	References     []string   `json:"references,omitempty"`
	TaskID         string     `json:"taskId,omitempty"`
	PublicationID  string     `json:"publicationId,omitempty"`
}

const DefaultAspectRatio = 5.83

func (r *GenerationRequest) Validate() []string {
	var details []string
	if strings.TrimSpace(r.Prompt) == "" {
		details = append(details, "prompt is required")
	}
	if r.AspectRatio < 0 {
		details = append(details, "aspectRatio must be positive")
	}
	for i, v := range r.Videos {
		if v.ID == "" {
			details = append(details, fmt.Sprintf("videos[%d]: id is required", i))
		}
		if v.URL == "" && v.Path == "" {
			details = append(details, fmt.Sprintf("videos[%d]: url or path is required", i))
		}
	}
	for i, img := range r.Images {
		if img.ID == "" {
			details = append(details, fmt.Sprintf("images[%d]: id is required", i))
		}
		if img.URL == "" && img.Path == "" {
			details = append(details, fmt.Sprintf("images[%d]: url or path is required", i))
		}
	}
	return details
}

func (r *GenerationRequest) Normalize() {
	if r.AspectRatio == 0 {
		r.AspectRatio = DefaultAspectRatio
	}
}

func GenerationRequestFromJSON(raw datatypes.JSON) (*GenerationRequest, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("generation request not set")
	}
	var req GenerationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode generation request: %w", err)
	}
	return &req, nil
}

func (r *GenerationRequest) ToJSON() (datatypes.JSON, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode generation request: %w", err)
	}
	return datatypes.JSON(raw), nil
}
