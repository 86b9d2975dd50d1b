package services

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/yungbote/sceneforge-backend/internal/logger"
)

// AssetDownloader fetches user-supplied media and rendered assets over
// HTTP. Phase 4 tries the public URL first and only falls back to the
// object-store path when the fetch fails.
type AssetDownloader interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	FetchToFile(ctx context.Context, url string, outPath string) error
}

type assetDownloader struct {
	log    *logger.Logger
	client *resty.Client
}

func NewAssetDownloader(log *logger.Logger) AssetDownloader {
	timeoutSec := 30
	if v := strings.TrimSpace(os.Getenv("DOWNLOAD_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	client := resty.New().
		SetTimeout(time.Duration(timeoutSec) * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &assetDownloader{
		log:    log.With("service", "AssetDownloader"),
		client: client,
	}
}

func (d *assetDownloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := d.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch %q: http %d", url, resp.StatusCode())
	}
	return resp.Body(), nil
}

func (d *assetDownloader) FetchToFile(ctx context.Context, url string, outPath string) error {
	resp, err := d.client.R().SetContext(ctx).SetOutput(outPath).Get(url)
	if err != nil {
		return fmt.Errorf("fetch %q: %w", url, err)
	}
	if resp.IsError() {
		_ = os.Remove(outPath)
		return fmt.Errorf("fetch %q: http %d", url, resp.StatusCode())
	}
	return nil
}
