package scenegen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/sceneforge-backend/internal/types"
)

// FinalAssetKey is the idempotent object-store key for the composed video.
func FinalAssetKey(generationID uuid.UUID) string {
	return fmt.Sprintf("scene-generation/generations/%s/final.mp4", generationID)
}

// runPhase4 concatenates every completed scene in timeline order and
// uploads the result. Returns the stored path and public URL.
func (o *orchestrator) runPhase4(ctx context.Context, generationID uuid.UUID) (string, string, error) {
	scenes, err := o.deps.Scenes.ListCompleted(ctx, nil, generationID)
	if err != nil {
		return "", "", err
	}
	if len(scenes) == 0 {
		return "", "", ErrNothingToCompose
	}

	workDir, cleanup, err := o.deps.Media.MakeWorkDir("concat-" + generationID.String()[:8])
	if err != nil {
		return "", "", err
	}
	defer cleanup()

	var listEntries []string
	for i, scene := range scenes {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}
		localPath := filepath.Join(workDir, fmt.Sprintf("scene-%03d.mp4", i))
		if err := o.fetchAsset(ctx, scene.RenderedAssetURL, scene.RenderedAssetPath, localPath); err != nil {
			return "", "", fmt.Errorf("fetch rendered scene %s: %w", scene.SceneID, err)
		}
		listEntries = append(listEntries, fmt.Sprintf("file '%s'", localPath))
		o.reportPhaseProgress(ctx, generationID, types.GenerationPhase4, (i+1)*60/len(scenes))
	}

	listPath := filepath.Join(workDir, "concat.txt")
	if err := os.WriteFile(listPath, []byte(strings.Join(listEntries, "\n")+"\n"), 0o644); err != nil {
		return "", "", fmt.Errorf("write concat list: %w", err)
	}

	outPath := filepath.Join(workDir, "final.mp4")
	if err := o.deps.Media.Concat(ctx, listPath, outPath); err != nil {
		return "", "", err
	}
	o.reportPhaseProgress(ctx, generationID, types.GenerationPhase4, 85)

	f, err := os.Open(outPath)
	if err != nil {
		return "", "", fmt.Errorf("open composed video: %w", err)
	}
	defer f.Close()

	key := FinalAssetKey(generationID)
	if err := o.deps.Bucket.UploadFile(ctx, key, f); err != nil {
		return "", "", fmt.Errorf("upload composed video: %w", err)
	}
	return key, o.deps.Bucket.GetPublicURL(key), nil
}
