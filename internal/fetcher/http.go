package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cpboard/cpboard/internal/database/types/enum"
	"go.uber.org/zap"
)

// maxResponseSize caps how much of an upstream body is read.
const maxResponseSize = 1 << 20

// baseClient holds the HTTP plumbing shared by the adapters.
type baseClient struct {
	platform  enum.Platform
	baseURL   string
	userAgent string
	timeout   time.Duration
	client    *http.Client
	logger    *zap.Logger
}

func newBaseClient(platform enum.Platform, opts Options, logger *zap.Logger) baseClient {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	return baseClient{
		platform:  platform,
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
		client:    client,
		logger:    logger.Named(platform.String() + "_fetcher"),
	}
}

// Platform returns the platform served by this adapter.
func (b *baseClient) Platform() enum.Platform {
	return b.platform
}

// send executes the request under the per-request timeout and decodes the JSON
// body into out. It returns the HTTP status code alongside any error. A body
// that cannot be decoded on a non-200 response is reported as ErrUpstreamStatus.
func (b *baseClient) send(ctx context.Context, req *http.Request, out any) (int, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	if b.userAgent != "" {
		req.Header.Set("User-Agent", b.userAgent)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if err := sonic.Unmarshal(body, out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
		}

		return resp.StatusCode, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	return resp.StatusCode, nil
}
