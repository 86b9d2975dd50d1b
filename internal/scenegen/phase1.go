package scenegen

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/sceneforge-backend/internal/types"
)

const scenarioSystemPrompt = `You are a video production planner. Given a creative brief and an
inventory of available media, produce a shooting scenario as JSON.

Respond with ONLY a JSON object of this shape, no prose:
{
  "timeline": [
    {
      "id": "scene-1",
      "kind": "video" | "banner" | "overlay" | "pip" | "transition" | "blank",
      "durationSeconds": 4.0,
      "sourceVideoId": "vid-1",
      "fromSeconds": 0.0,
      "toSeconds": 4.0,
      "detailedRequest": {
        "goal": "...",
        "description": "...",
        "visualStyle": ["..."],
        "layoutHint": "...",
        "textContent": "...",
        "imageHints": ["..."],
        "audioStrategy": "keep" | "mute",
        "animationHints": ["typewriter" | "fade-in"]
      }
    }
  ]
}

Rules:
- "video", "overlay" and "pip" scenes MUST reference an available video via
  sourceVideoId with a trim window fromSeconds < toSeconds inside its duration.
- "banner" scenes MUST carry durationSeconds > 0 and textContent.
- Every scene needs a unique id and a detailedRequest.
- Keep the total runtime close to what the brief asks for.`

// runPhase1 asks the model for a scenario and validates it against the
// lax schema. One retry feeds the validation error back to the model
// before the phase gives up with ErrScenarioInvalid.
func (o *orchestrator) runPhase1(ctx context.Context, ec *types.EnrichedContext, req *types.GenerationRequest) (*types.Scenario, error) {
	userPrompt := buildScenarioUserPrompt(ec, req)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		prompt := userPrompt
		if lastErr != nil {
			prompt = fmt.Sprintf("%s\n\nYour previous answer was rejected: %v\nReturn corrected JSON only.", userPrompt, lastErr)
		}

		raw, err := o.deps.OpenAI.GenerateText(ctx, scenarioSystemPrompt, prompt)
		if err != nil {
			return nil, fmt.Errorf("scenario generation: %w", err)
		}

		scenario, err := parseScenario(raw)
		if err != nil {
			o.log.Warn("scenario rejected", "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}
		return scenario, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrScenarioInvalid, lastErr)
}

func parseScenario(raw string) (*types.Scenario, error) {
	cleaned := stripCodeFence(raw)
	var s types.Scenario
	if err := json.Unmarshal([]byte(cleaned), &s); err != nil {
		return nil, fmt.Errorf("scenario is not valid JSON: %v", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// stripCodeFence unwraps ```json ... ``` style answers; models add the
// fence no matter how the prompt asks them not to.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func buildScenarioUserPrompt(ec *types.EnrichedContext, req *types.GenerationRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Creative brief:\n%s\n", ec.Prompt)
	fmt.Fprintf(&b, "\nTarget aspect ratio: %.2f\n", req.AspectRatio)

	if len(req.Videos) > 0 {
		b.WriteString("\nAvailable videos:\n")
		for _, v := range req.Videos {
			meta, ok := ec.VideoMetadata[v.ID]
			if !ok {
				meta = types.DefaultVideoMetadata()
			}
			fmt.Fprintf(&b, "- %s: %.1fs, %dx%d @ %.0f fps\n", v.ID, meta.Duration, meta.Width, meta.Height, meta.FPS)
			if t := ec.VideoTranscripts[v.ID]; t != "" {
				fmt.Fprintf(&b, "  transcript: %s\n", truncate(t, 600))
			}
		}
	} else {
		b.WriteString("\nNo videos available; build the scenario from banners, blanks and transitions.\n")
	}

	if len(req.Images) > 0 {
		b.WriteString("\nAvailable images:\n")
		ids := make([]string, 0, len(ec.ImageCaptions))
		for id := range ec.ImageCaptions {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, "- %s: %s\n", id, ec.ImageCaptions[id])
		}
	}

	if ec.ReferenceNotes != "" {
		fmt.Fprintf(&b, "\nStyle references: %s\n", ec.ReferenceNotes)
	}

	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
