package scenegen

import (
	"errors"

	"github.com/yungbote/sceneforge-backend/internal/repos"
	"github.com/yungbote/sceneforge-backend/internal/scenegen/pipeline"
)

// ErrScenarioInvalid marks a scenario that failed validation, whether it
// came from the model or from a review edit.
var ErrScenarioInvalid = errors.New("scenario failed validation")

// ErrNothingToCompose is phase 4's answer to a generation where every
// scene render failed.
var ErrNothingToCompose = errors.New("no completed scenes to compose")

// Re-exported so callers need only this package for error classification.
var (
	ErrNotFound     = repos.ErrNotFound
	ErrInvalidState = repos.ErrInvalidState
	ErrNoPipeline   = pipeline.ErrNoPipeline
)
