package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/yungbote/sceneforge-backend/internal/logger"
)

// VisionProviderService analyses reference assets for style, colors and
// composition. Phase 0 folds its notes into the enriched context's
// referenceNotes string.
type VisionProviderService interface {
	AnalyzeReference(ctx context.Context, image []byte) (string, error)
	Close() error
}

type visionProviderService struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient
}

func NewVisionProviderService(log *logger.Logger) (VisionProviderService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "VisionProviderService")

	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	ctx := context.Background()

	var c *vision.ImageAnnotatorClient
	var err error
	if creds != "" {
		c, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(creds))
	} else {
		c, err = vision.NewImageAnnotatorClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}

	return &visionProviderService{log: slog, client: c}, nil
}

func (v *visionProviderService) Close() error {
	if v == nil || v.client == nil {
		return nil
	}
	return v.client.Close()
}

func (v *visionProviderService) AnalyzeReference(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("image required")
	}

	req := &visionpb.AnnotateImageRequest{
		Image: &visionpb.Image{Content: image},
		Features: []*visionpb.Feature{
			{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: 8},
			{Type: visionpb.Feature_IMAGE_PROPERTIES},
			{Type: visionpb.Feature_TEXT_DETECTION, MaxResults: 1},
		},
	}
	resp, err := v.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{req},
	})
	if err != nil {
		return "", fmt.Errorf("vision annotate: %w", err)
	}
	if len(resp.GetResponses()) == 0 {
		return "", fmt.Errorf("vision annotate: empty response")
	}
	ann := resp.GetResponses()[0]
	if ann.GetError() != nil {
		return "", fmt.Errorf("vision annotate: %s", ann.GetError().GetMessage())
	}

	var notes bytes.Buffer

	if labels := ann.GetLabelAnnotations(); len(labels) > 0 {
		descs := make([]string, 0, len(labels))
		for _, l := range labels {
			descs = append(descs, l.GetDescription())
		}
		fmt.Fprintf(&notes, "subjects: %s", strings.Join(descs, ", "))
	}

	if props := ann.GetImagePropertiesAnnotation(); props != nil {
		colors := props.GetDominantColors().GetColors()
		hexes := make([]string, 0, 3)
		for i, c := range colors {
			if i >= 3 {
				break
			}
			rgb := c.GetColor()
			hexes = append(hexes, fmt.Sprintf("#%02x%02x%02x",
				int(rgb.GetRed()), int(rgb.GetGreen()), int(rgb.GetBlue())))
		}
		if len(hexes) > 0 {
			if notes.Len() > 0 {
				notes.WriteString("; ")
			}
			fmt.Fprintf(&notes, "dominant colors: %s", strings.Join(hexes, ", "))
		}
	}

	if texts := ann.GetTextAnnotations(); len(texts) > 0 {
		snippet := strings.TrimSpace(texts[0].GetDescription())
		snippet = strings.ReplaceAll(snippet, "\n", " ")
		if len(snippet) > 120 {
			snippet = snippet[:120]
		}
		if snippet != "" {
			if notes.Len() > 0 {
				notes.WriteString("; ")
			}
			fmt.Fprintf(&notes, "text: %q", snippet)
		}
	}

	if notes.Len() == 0 {
		return "no notable features detected", nil
	}
	return notes.String(), nil
}
