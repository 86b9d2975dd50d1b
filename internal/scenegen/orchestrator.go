package scenegen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/sceneforge-backend/internal/logger"
	"github.com/yungbote/sceneforge-backend/internal/observability"
	"github.com/yungbote/sceneforge-backend/internal/repos"
	"github.com/yungbote/sceneforge-backend/internal/scenegen/pipeline"
	"github.com/yungbote/sceneforge-backend/internal/services"
	"github.com/yungbote/sceneforge-backend/internal/types"
)

// Orchestrator drives a generation through the five phases. It is the
// single writer of the generation row while a job is running; handlers
// only read, except for the scenario replace during review.
type Orchestrator interface {
	// Execute runs a queued generation from phase 0. It returns nil when the
	// run pauses for review or is cancelled mid-flight.
	Execute(ctx context.Context, generationID uuid.UUID) error
	// Continue resumes from whichever review checkpoint the generation is
	// paused at.
	Continue(ctx context.Context, generationID uuid.UUID) error
	// RegenerateScene re-renders one scene from its stored project while the
	// generation is paused for scene review.
	RegenerateScene(ctx context.Context, generationID uuid.UUID, sceneID string) error
}

type OrchestratorDeps struct {
	Generations repos.SceneGenerationRepo
	Scenes      repos.SceneRepo
	Bucket      services.BucketService
	Media       services.MediaToolsService
	OpenAI      services.OpenAIClient
	Speech      services.SpeechProviderService // optional; transcripts degrade to empty
	Vision      services.VisionProviderService // optional; reference notes degrade to empty
	Downloader  services.AssetDownloader
	Pipelines   *pipeline.Registry
	Events      EventPublisher
	Log         *logger.Logger

	// SceneConcurrency caps parallel scene renders in phase 3. Zero means 3.
	SceneConcurrency int
}

type orchestrator struct {
	deps OrchestratorDeps
	log  *logger.Logger
}

func NewOrchestrator(deps OrchestratorDeps) (Orchestrator, error) {
	switch {
	case deps.Generations == nil, deps.Scenes == nil:
		return nil, fmt.Errorf("repos required")
	case deps.Bucket == nil, deps.Media == nil, deps.OpenAI == nil, deps.Downloader == nil:
		return nil, fmt.Errorf("bucket, media, openai and downloader services required")
	case deps.Pipelines == nil:
		return nil, fmt.Errorf("pipeline registry required")
	case deps.Log == nil:
		return nil, fmt.Errorf("logger required")
	}
	if deps.Events == nil {
		deps.Events = NopEventPublisher{}
	}
	if deps.SceneConcurrency <= 0 {
		deps.SceneConcurrency = 3
	}
	return &orchestrator{deps: deps, log: deps.Log.With("service", "Orchestrator")}, nil
}

// phaseBase maps each phase onto its 20-point band of the overall
// progress scale, keeping generation.progress monotonic across phases.
var phaseBase = map[types.GenerationPhase]int{
	types.GenerationPhase0: 0,
	types.GenerationPhase1: 20,
	types.GenerationPhase2: 40,
	types.GenerationPhase3: 60,
	types.GenerationPhase4: 80,
}

func (o *orchestrator) Execute(ctx context.Context, generationID uuid.UUID) error {
	ctx, span := o.startSpan(ctx, "generation.execute", generationID)
	defer span.End()

	g, err := o.deps.Generations.GetByID(ctx, nil, generationID)
	if err != nil {
		return err
	}
	// A failed row stays re-runnable: the worker's retry budget calls
	// Execute again after fail() has recorded the error.
	switch g.Status {
	case types.GenerationStatusCompleted, types.GenerationStatusCancelled:
		o.log.Info("generation already terminal, skipping", "generation", generationID, "status", g.Status)
		return nil
	case types.GenerationStatusFailed:
		o.log.Info("re-running failed generation", "generation", generationID, "phase", g.Phase)
	}

	req, err := types.GenerationRequestFromJSON(g.Request)
	if err != nil {
		return o.fail(ctx, generationID, g.Phase, err)
	}

	if err := o.beginPhase(ctx, generationID, types.GenerationPhase0); err != nil {
		return err
	}
	ec, err := o.runPhase0(ctx, g, req)
	if err != nil {
		return o.fail(ctx, generationID, types.GenerationPhase0, err)
	}
	ecJSON, err := ec.ToJSON()
	if err != nil {
		return o.fail(ctx, generationID, types.GenerationPhase0, err)
	}
	if err := o.deps.Generations.UpdateFields(ctx, nil, generationID, map[string]any{
		"enriched_context": ecJSON,
		"progress":         20,
	}); err != nil {
		return err
	}
	if stop, err := o.stopIfCancelled(ctx, generationID); stop || err != nil {
		return err
	}

	if err := o.beginPhase(ctx, generationID, types.GenerationPhase1); err != nil {
		return err
	}
	scenario, err := o.runPhase1(ctx, ec, req)
	if err != nil {
		return o.fail(ctx, generationID, types.GenerationPhase1, err)
	}
	scenarioJSON, err := scenario.ToJSON()
	if err != nil {
		return o.fail(ctx, generationID, types.GenerationPhase1, err)
	}
	if err := o.deps.Generations.UpdateFields(ctx, nil, generationID, map[string]any{
		"scenario": scenarioJSON,
		"progress": 40,
	}); err != nil {
		return err
	}
	if stop, err := o.stopIfCancelled(ctx, generationID); stop || err != nil {
		return err
	}

	if g.ReviewScenario {
		if err := o.deps.Generations.UpdateFields(ctx, nil, generationID, map[string]any{
			"status": types.GenerationStatusWaitingForReview,
		}); err != nil {
			return err
		}
		o.deps.Events.PublishProgress(generationID, types.GenerationPhase1, 40)
		o.log.Info("generation paused for scenario review", "generation", generationID)
		return nil
	}

	return o.runFromPhase2(ctx, generationID)
}

func (o *orchestrator) Continue(ctx context.Context, generationID uuid.UUID) error {
	ctx, span := o.startSpan(ctx, "generation.continue", generationID)
	defer span.End()

	g, err := o.deps.Generations.GetByID(ctx, nil, generationID)
	if err != nil {
		return err
	}
	switch g.Status {
	case types.GenerationStatusWaitingForReview:
		if err := o.deps.Generations.UpdateFields(ctx, nil, generationID, map[string]any{
			"status": types.GenerationStatusProcessing,
		}); err != nil {
			return err
		}
		return o.runFromPhase2(ctx, generationID)
	case types.GenerationStatusWaitingForSceneReview:
		if err := o.deps.Generations.UpdateFields(ctx, nil, generationID, map[string]any{
			"status": types.GenerationStatusProcessing,
		}); err != nil {
			return err
		}
		return o.runPhase4AndFinish(ctx, generationID)
	default:
		return fmt.Errorf("%w: cannot continue from status %q", ErrInvalidState, g.Status)
	}
}

// runFromPhase2 carries a generation from scene-project construction to
// either the scene-review pause or the finished composition.
func (o *orchestrator) runFromPhase2(ctx context.Context, generationID uuid.UUID) error {
	g, err := o.deps.Generations.GetByID(ctx, nil, generationID)
	if err != nil {
		return err
	}

	if err := o.beginPhase(ctx, generationID, types.GenerationPhase2); err != nil {
		return err
	}
	if err := o.runPhase2(ctx, g); err != nil {
		return o.fail(ctx, generationID, types.GenerationPhase2, err)
	}
	if err := o.deps.Generations.UpdateFields(ctx, nil, generationID, map[string]any{
		"progress": 60,
	}); err != nil {
		return err
	}
	if stop, err := o.stopIfCancelled(ctx, generationID); stop || err != nil {
		return err
	}

	if err := o.beginPhase(ctx, generationID, types.GenerationPhase3); err != nil {
		return err
	}
	if err := o.runPhase3(ctx, generationID); err != nil {
		return o.fail(ctx, generationID, types.GenerationPhase3, err)
	}
	if err := o.deps.Generations.UpdateFields(ctx, nil, generationID, map[string]any{
		"progress": 80,
	}); err != nil {
		return err
	}
	if stop, err := o.stopIfCancelled(ctx, generationID); stop || err != nil {
		return err
	}

	if g.ReviewScenes {
		if err := o.deps.Generations.UpdateFields(ctx, nil, generationID, map[string]any{
			"status": types.GenerationStatusWaitingForSceneReview,
		}); err != nil {
			return err
		}
		o.deps.Events.PublishProgress(generationID, types.GenerationPhase3, 80)
		o.log.Info("generation paused for scene review", "generation", generationID)
		return nil
	}

	return o.runPhase4AndFinish(ctx, generationID)
}

func (o *orchestrator) runPhase4AndFinish(ctx context.Context, generationID uuid.UUID) error {
	if err := o.beginPhase(ctx, generationID, types.GenerationPhase4); err != nil {
		return err
	}
	resultPath, resultURL, err := o.runPhase4(ctx, generationID)
	if err != nil {
		return o.fail(ctx, generationID, types.GenerationPhase4, err)
	}
	if stop, err := o.stopIfCancelled(ctx, generationID); stop || err != nil {
		return err
	}

	now := time.Now()
	if err := o.deps.Generations.UpdateFields(ctx, nil, generationID, map[string]any{
		"status":       types.GenerationStatusCompleted,
		"progress":     100,
		"result_path":  resultPath,
		"result_url":   resultURL,
		"completed_at": &now,
	}); err != nil {
		return err
	}
	o.deps.Events.PublishProgress(generationID, types.GenerationPhase4, 100)
	o.deps.Events.PublishGenerationComplete(generationID, resultURL)
	o.log.Info("generation completed", "generation", generationID, "result", resultPath)
	return nil
}

func (o *orchestrator) RegenerateScene(ctx context.Context, generationID uuid.UUID, sceneID string) error {
	ctx, span := o.startSpan(ctx, "generation.regenerate_scene", generationID,
		attribute.String("scene.id", sceneID))
	defer span.End()

	g, err := o.deps.Generations.GetByID(ctx, nil, generationID)
	if err != nil {
		return err
	}
	if g.Status != types.GenerationStatusWaitingForSceneReview {
		return fmt.Errorf("%w: regenerate requires scene review, status is %q", ErrInvalidState, g.Status)
	}
	scene, err := o.deps.Scenes.GetBySceneID(ctx, nil, generationID, sceneID)
	if err != nil {
		return err
	}
	project, err := types.SceneProjectFromJSON(scene.SceneProject)
	if err != nil {
		return err
	}
	if err := o.deps.Scenes.ResetForRegenerate(ctx, nil, scene.ID); err != nil {
		return err
	}

	workDir, cleanup, err := o.deps.Media.MakeWorkDir("regen-" + generationID.String()[:8])
	if err != nil {
		return err
	}
	defer cleanup()

	if err := o.renderScene(ctx, generationID, scene, project, workDir); err != nil {
		return err
	}
	return nil
}

func (o *orchestrator) startSpan(ctx context.Context, name string, generationID uuid.UUID, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := append([]attribute.KeyValue{
		attribute.String("generation.id", generationID.String()),
	}, extra...)
	return observability.Tracer("scenegen").Start(ctx, name, trace.WithAttributes(attrs...))
}

// beginPhase flips the row to processing in the new phase at the band's
// floor and announces the transition.
func (o *orchestrator) beginPhase(ctx context.Context, generationID uuid.UUID, phase types.GenerationPhase) error {
	if err := o.deps.Generations.UpdateFields(ctx, nil, generationID, map[string]any{
		"status":   types.GenerationStatusProcessing,
		"phase":    phase,
		"progress": phaseBase[phase],
		"error":    "",
	}); err != nil {
		return err
	}
	o.deps.Events.PublishPhaseChange(generationID, phase, phaseBase[phase])
	o.deps.Events.PublishProgress(generationID, phase, phaseBase[phase])
	return nil
}

// reportPhaseProgress scales a phase-internal percentage into the phase's
// 20-point band. Row write failures are logged and swallowed; progress is
// advisory.
func (o *orchestrator) reportPhaseProgress(ctx context.Context, generationID uuid.UUID, phase types.GenerationPhase, pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	overall := phaseBase[phase] + pct*20/100
	if err := o.deps.Generations.UpdateFields(ctx, nil, generationID, map[string]any{
		"progress": overall,
	}); err != nil {
		o.log.Warn("progress write failed", "generation", generationID, "error", err)
		return
	}
	o.deps.Events.PublishProgress(generationID, phase, overall)
}

// stopIfCancelled re-reads the row between phases so a DELETE issued
// mid-phase takes effect at the next boundary.
func (o *orchestrator) stopIfCancelled(ctx context.Context, generationID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}
	g, err := o.deps.Generations.GetByID(ctx, nil, generationID)
	if err != nil {
		return true, err
	}
	if g.Status == types.GenerationStatusCancelled {
		o.log.Info("generation cancelled, stopping", "generation", generationID, "phase", g.Phase)
		return true, nil
	}
	return false, nil
}

// fail records the failure on the row and hands the error back so the job
// layer can decide on retries. A cancellation observed here is not a
// failure.
func (o *orchestrator) fail(ctx context.Context, generationID uuid.UUID, phase types.GenerationPhase, cause error) error {
	if errors.Is(cause, context.Canceled) {
		return cause
	}
	msg := fmt.Sprintf("%s: %v", phase, cause)
	if err := o.deps.Generations.UpdateFields(ctx, nil, generationID, map[string]any{
		"status": types.GenerationStatusFailed,
		"error":  msg,
	}); err != nil {
		o.log.Error("failure write failed", "generation", generationID, "error", err)
	}
	o.deps.Events.PublishError(generationID, msg)
	o.log.Error("generation failed", "generation", generationID, "phase", phase, "error", cause)
	return cause
}

// fetchAsset materialises one request asset locally, URL first with the
// object-store path as fallback.
func (o *orchestrator) fetchAsset(ctx context.Context, url, storagePath, dest string) error {
	if url != "" {
		if err := o.deps.Downloader.FetchToFile(ctx, url, dest); err == nil {
			return nil
		} else if storagePath == "" {
			return err
		} else {
			o.log.Warn("url fetch failed, falling back to storage path", "url", url, "path", storagePath, "error", err)
		}
	}
	if storagePath == "" {
		return fmt.Errorf("asset has neither url nor storage path")
	}
	raw, err := o.deps.Bucket.DownloadFile(ctx, storagePath)
	if err != nil {
		return err
	}
	return writeFile(dest, raw)
}
