package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/sceneforge-backend/internal/jobs"
	"github.com/yungbote/sceneforge-backend/internal/logger"
	"github.com/yungbote/sceneforge-backend/internal/repos"
	"github.com/yungbote/sceneforge-backend/internal/scenegen/pipeline"
	"github.com/yungbote/sceneforge-backend/internal/types"
)

// SceneGenHandler is the REST surface over the generation lifecycle. It
// reads rows and enqueues jobs; the orchestrator owns every other write.
type SceneGenHandler struct {
	log         *logger.Logger
	generations repos.SceneGenerationRepo
	scenes      repos.SceneRepo
	queue       jobs.Queue
}

func NewSceneGenHandler(
	generations repos.SceneGenerationRepo,
	scenes repos.SceneRepo,
	queue jobs.Queue,
	baseLog *logger.Logger,
) *SceneGenHandler {
	return &SceneGenHandler{
		log:         baseLog.With("handler", "SceneGenHandler"),
		generations: generations,
		scenes:      scenes,
		queue:       queue,
	}
}

// POST /api/v1/scenes
func (h *SceneGenHandler) Generate(c *gin.Context) {
	var req types.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	if details := req.Validate(); len(details) > 0 {
		RespondValidationError(c, details)
		return
	}
	req.Normalize()

	reqJSON, err := req.ToJSON()
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}

	g := &types.SceneGeneration{
		ID:             uuid.New(),
		Prompt:         req.Prompt,
		AspectRatio:    req.AspectRatio,
		ReviewScenario: req.ReviewScenario,
		ReviewScenes:   req.ReviewScenes,
		Status:         types.GenerationStatusQueued,
		Progress:       0,
		Request:        reqJSON,
		TaskID:         req.TaskID,
		PublicationID:  req.PublicationID,
	}
	if _, err := h.generations.Create(c.Request.Context(), nil, g); err != nil {
		RespondError(c, http.StatusInternalServerError, "create_failed", err)
		return
	}

	if err := h.queue.Submit(c.Request.Context(), &jobs.Job{
		Kind:         jobs.JobKindGenerate,
		GenerationID: g.ID,
	}); err != nil {
		// Inline fallback already ran (and failed); the row carries the
		// failure detail.
		h.log.Error("generate job failed", "generation", g.ID, "error", err)
	}

	// Re-read so inline execution is reflected in the response.
	fresh, err := h.generations.GetByID(c.Request.Context(), nil, g.ID)
	if err != nil {
		fresh = g
	}
	RespondCreated(c, gin.H{
		"id":       fresh.ID,
		"status":   fresh.Status,
		"phase":    fresh.Phase,
		"progress": fresh.Progress,
	})
}

// GET /api/v1/scenes
func (h *SceneGenHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			RespondError(c, http.StatusBadRequest, "invalid_limit", fmt.Errorf("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	out, err := h.generations.List(c.Request.Context(), nil, c.Query("status"), c.Query("phase"), limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	if out == nil {
		out = []*types.SceneGeneration{}
	}
	RespondOK(c, out)
}

// GET /api/v1/scenes/:id
func (h *SceneGenHandler) Get(c *gin.Context) {
	id, ok := h.generationID(c)
	if !ok {
		return
	}
	g, err := h.generations.GetByIDWithScenes(c.Request.Context(), nil, id)
	if err != nil {
		h.respondRepoError(c, err)
		return
	}
	RespondOK(c, g)
}

// GET /api/v1/scenes/:id/scenario
func (h *SceneGenHandler) GetScenario(c *gin.Context) {
	id, ok := h.generationID(c)
	if !ok {
		return
	}
	g, err := h.generations.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		h.respondRepoError(c, err)
		return
	}
	if len(g.Scenario) == 0 {
		RespondError(c, http.StatusNotFound, "scenario_not_ready", fmt.Errorf("scenario has not been generated yet"))
		return
	}
	RespondOK(c, gin.H{
		"id":       id,
		"scenario": json.RawMessage(g.Scenario),
		"status":   g.Status,
		"phase":    g.Phase,
	})
}

// PUT /api/v1/scenes/:id/scenario replaces the scenario while the
// generation is paused for scenario review.
func (h *SceneGenHandler) PutScenario(c *gin.Context) {
	id, ok := h.generationID(c)
	if !ok {
		return
	}
	var scenario types.Scenario
	if err := c.ShouldBindJSON(&scenario); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	if err := scenario.Validate(); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_scenario", err)
		return
	}
	raw, err := scenario.ToJSON()
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	if err := h.generations.ReplaceScenario(c.Request.Context(), nil, id, raw); err != nil {
		h.respondRepoError(c, err)
		return
	}
	RespondOK(c, gin.H{"scenario": json.RawMessage(raw)})
}

// DELETE /api/v1/scenes/:id cancels the generation and drops any queued
// jobs for it. Idempotent.
func (h *SceneGenHandler) Cancel(c *gin.Context) {
	id, ok := h.generationID(c)
	if !ok {
		return
	}
	g, err := h.generations.Cancel(c.Request.Context(), nil, id)
	if err != nil {
		h.respondRepoError(c, err)
		return
	}
	if _, err := h.queue.RemoveForGeneration(c.Request.Context(), id); err != nil {
		h.log.Warn("queued job cleanup failed", "generation", id, "error", err)
	}
	RespondOK(c, gin.H{"id": id, "status": g.Status})
}

// POST /api/v1/scenes/:id/continue resumes a generation paused at a
// review checkpoint.
func (h *SceneGenHandler) Continue(c *gin.Context) {
	id, ok := h.generationID(c)
	if !ok {
		return
	}
	g, err := h.generations.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		h.respondRepoError(c, err)
		return
	}
	switch g.Status {
	case types.GenerationStatusWaitingForReview, types.GenerationStatusWaitingForSceneReview:
	default:
		RespondError(c, http.StatusBadRequest, "invalid_state",
			fmt.Errorf("generation is %q, not paused for review", g.Status))
		return
	}

	if err := h.queue.Submit(c.Request.Context(), &jobs.Job{
		Kind:         jobs.JobKindContinue,
		GenerationID: id,
	}); err != nil {
		h.log.Error("continue job failed", "generation", id, "error", err)
	}
	RespondOK(c, gin.H{"id": id, "status": types.GenerationStatusProcessing})
}

// POST /api/v1/scenes/:id/scenes/:sceneId/regenerate
func (h *SceneGenHandler) RegenerateScene(c *gin.Context) {
	id, ok := h.generationID(c)
	if !ok {
		return
	}
	sceneID := c.Param("sceneId")

	g, err := h.generations.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		h.respondRepoError(c, err)
		return
	}
	if g.Status != types.GenerationStatusWaitingForSceneReview {
		RespondError(c, http.StatusBadRequest, "invalid_state",
			fmt.Errorf("scene regeneration requires scene review, generation is %q", g.Status))
		return
	}
	if _, err := h.scenes.GetBySceneID(c.Request.Context(), nil, id, sceneID); err != nil {
		h.respondRepoError(c, err)
		return
	}

	if err := h.queue.Submit(c.Request.Context(), &jobs.Job{
		Kind:         jobs.JobKindRegenerateScene,
		GenerationID: id,
		SceneID:      sceneID,
	}); err != nil {
		h.log.Error("regenerate job failed", "generation", id, "scene", sceneID, "error", err)
	}
	RespondOK(c, gin.H{"id": id, "sceneId": sceneID, "status": types.SceneStatusPending})
}

// GET /api/v1/scenes/:id/scenes/:sceneId/debug-frames
func (h *SceneGenHandler) DebugFrames(c *gin.Context) {
	id, ok := h.generationID(c)
	if !ok {
		return
	}
	sceneID := c.Param("sceneId")

	scene, err := h.scenes.GetBySceneID(c.Request.Context(), nil, id, sceneID)
	if err != nil {
		h.respondRepoError(c, err)
		return
	}

	var frameURLs []string
	if project, err := types.SceneProjectFromJSON(scene.SceneProject); err == nil {
		frameURLs = project.DebugFrameURLs
	}
	RespondOK(c, gin.H{
		"sceneId":         sceneID,
		"generationId":    id,
		"debugFramesPath": pipeline.DebugFramesBasePath(sceneID),
		"frames":          frameURLs,
	})
}

func (h *SceneGenHandler) generationID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", fmt.Errorf("invalid generation id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *SceneGenHandler) respondRepoError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repos.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, repos.ErrInvalidState):
		RespondError(c, http.StatusBadRequest, "invalid_state", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
