package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/sceneforge-backend/internal/logger"
)

// SpeechProviderService transcribes the audio track phase 0 extracts from
// each input video. Failures are the caller's to swallow; one bad video
// never fails the phase.
type SpeechProviderService interface {
	TranscribeAudioBytes(ctx context.Context, audio []byte, sampleRateHz int) (string, error)
	Close() error
}

type speechProviderService struct {
	log    *logger.Logger
	client *speech.Client

	maxRetries int
}

func NewSpeechProviderService(log *logger.Logger) (SpeechProviderService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "SpeechProviderService")

	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	ctx := context.Background()

	var c *speech.Client
	var err error
	if creds != "" {
		c, err = speech.NewClient(ctx, option.WithCredentialsFile(creds))
	} else {
		c, err = speech.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}

	return &speechProviderService{
		log:        slog,
		client:     c,
		maxRetries: 4,
	}, nil
}

func (s *speechProviderService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *speechProviderService) TranscribeAudioBytes(ctx context.Context, audio []byte, sampleRateHz int) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio required")
	}
	if sampleRateHz <= 0 {
		sampleRateHz = 16000
	}

	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(sampleRateHz),
			AudioChannelCount:          1,
			LanguageCode:               "en-US",
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}

	var resp *speechpb.RecognizeResponse
	var err error
	backoff := 1 * time.Second
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		resp, err = s.client.Recognize(ctx, req)
		if err == nil {
			break
		}
		if !isRetryableGRPC(err) {
			return "", fmt.Errorf("speech recognize: %w", err)
		}
		s.log.Warn("speech recognize retrying", "attempt", attempt+1, "error", err)
	}
	if err != nil {
		return "", fmt.Errorf("speech recognize after retries: %w", err)
	}

	var b strings.Builder
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		text := strings.TrimSpace(alts[0].GetTranscript())
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

func isRetryableGRPC(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
		return true
	}
	return false
}
