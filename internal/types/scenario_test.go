package types

import (
	"strings"
	"testing"
)

func validTimelineItem(id string, kind SceneKind) TimelineItem {
	from := 0.0
	to := 4.0
	item := TimelineItem{
		ID:              id,
		Kind:            kind,
		DetailedRequest: &DetailedRequest{Goal: "test", Description: "a scene"},
	}
	if kind.RequiresSourceVideo() {
		item.SourceVideoID = "vid-1"
		item.FromSeconds = &from
		item.ToSeconds = &to
	}
	if kind == SceneKindBanner {
		item.DurationSeconds = 3
	}
	return item
}

func TestScenarioValidate(t *testing.T) {
	s := &Scenario{Timeline: []TimelineItem{
		validTimelineItem("scene-1", SceneKindVideo),
		validTimelineItem("scene-2", SceneKindBanner),
	}}
	if err := s.Validate(); err != nil {
		t.Fatalf("valid scenario rejected: %v", err)
	}
}

func TestScenarioValidateEmptyTimeline(t *testing.T) {
	s := &Scenario{}
	if err := s.Validate(); err == nil {
		t.Fatal("empty timeline accepted")
	}
}

func TestScenarioValidateDuplicateIDs(t *testing.T) {
	s := &Scenario{Timeline: []TimelineItem{
		validTimelineItem("scene-1", SceneKindBanner),
		validTimelineItem("scene-1", SceneKindBanner),
	}}
	err := s.Validate()
	if err == nil {
		t.Fatal("duplicate ids accepted")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestScenarioValidateMissingDetailedRequest(t *testing.T) {
	item := validTimelineItem("scene-1", SceneKindBanner)
	item.DetailedRequest = nil
	s := &Scenario{Timeline: []TimelineItem{item}}
	if err := s.Validate(); err == nil {
		t.Fatal("missing detailedRequest accepted")
	}
}

func TestValidateForRenderingRequiresTrimWindow(t *testing.T) {
	item := validTimelineItem("scene-1", SceneKindVideo)
	item.ToSeconds = nil
	s := &Scenario{Timeline: []TimelineItem{item}}
	if err := s.ValidateForRendering(); err == nil {
		t.Fatal("video without toSeconds accepted")
	}
}

func TestValidateForRenderingRejectsInvertedWindow(t *testing.T) {
	item := validTimelineItem("scene-1", SceneKindOverlay)
	from := 5.0
	to := 2.0
	item.FromSeconds = &from
	item.ToSeconds = &to
	s := &Scenario{Timeline: []TimelineItem{item}}
	if err := s.ValidateForRendering(); err == nil {
		t.Fatal("inverted trim window accepted")
	}
}

func TestValidateForRenderingBannerDuration(t *testing.T) {
	item := validTimelineItem("scene-1", SceneKindBanner)
	item.DurationSeconds = 0
	s := &Scenario{Timeline: []TimelineItem{item}}
	if err := s.ValidateForRendering(); err == nil {
		t.Fatal("banner without duration accepted")
	}
}

func TestValidateForRenderingTransitionNeedsNoSource(t *testing.T) {
	s := &Scenario{Timeline: []TimelineItem{
		validTimelineItem("scene-1", SceneKindTransition),
	}}
	if err := s.ValidateForRendering(); err != nil {
		t.Fatalf("transition rejected: %v", err)
	}
}

func TestScenarioJSONRoundTrip(t *testing.T) {
	s := &Scenario{Timeline: []TimelineItem{
		validTimelineItem("scene-1", SceneKindPIP),
	}}
	raw, err := s.ToJSON()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := ScenarioFromJSON(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Timeline) != 1 || decoded.Timeline[0].ID != "scene-1" {
		t.Fatalf("round trip lost data: %+v", decoded)
	}
	if decoded.Timeline[0].Kind != SceneKindPIP {
		t.Fatalf("kind mismatch: %s", decoded.Timeline[0].Kind)
	}
}

func TestGenerationRequestValidate(t *testing.T) {
	req := &GenerationRequest{}
	details := req.Validate()
	if len(details) == 0 {
		t.Fatal("empty request accepted")
	}

	req = &GenerationRequest{
		Prompt: "make a highlight reel",
		Videos: []MediaRef{{ID: "vid-1", URL: "https://example.com/a.mp4"}},
		Images: []MediaRef{{ID: "img-1"}},
	}
	details = req.Validate()
	if len(details) != 1 || !strings.Contains(details[0], "images[0]") {
		t.Fatalf("expected single image finding, got %v", details)
	}
}

func TestGenerationRequestNormalizeDefaultsAspect(t *testing.T) {
	req := &GenerationRequest{Prompt: "p"}
	req.Normalize()
	if req.AspectRatio != DefaultAspectRatio {
		t.Fatalf("aspect ratio not defaulted: %v", req.AspectRatio)
	}
}
