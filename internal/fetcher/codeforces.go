package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cpboard/cpboard/internal/database/types/enum"
	"go.uber.org/zap"
)

const codeforcesStatusOK = "OK"

type codeforcesResponse struct {
	Status  string           `json:"status"`
	Comment string           `json:"comment"`
	Result  []codeforcesUser `json:"result"`
}

type codeforcesUser struct {
	Handle    string `json:"handle"`
	Rating    int    `json:"rating"`
	MaxRating int    `json:"maxRating"`
}

// Codeforces fetches rating and max rating through the user.info method.
type Codeforces struct {
	baseClient
}

// NewCodeforces creates a Codeforces adapter.
func NewCodeforces(opts Options, logger *zap.Logger) *Codeforces {
	return &Codeforces{baseClient: newBaseClient(enum.PlatformCodeforces, opts, logger)}
}

// Fetch looks up one Codeforces user. Solved is always 0.
func (c *Codeforces) Fetch(ctx context.Context, handle string) (*Result, error) {
	if handle == "" {
		return nil, newFetchError(c.platform, handle, ErrEmptyHandle)
	}

	reqURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, newFetchError(c.platform, handle, fmt.Errorf("invalid base url: %w", err))
	}

	query := reqURL.Query()
	query.Set("handles", handle)
	reqURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), http.NoBody)
	if err != nil {
		return nil, newFetchError(c.platform, handle, fmt.Errorf("create request failed: %w", err))
	}

	var resp codeforcesResponse

	status, err := c.send(ctx, req, &resp)
	if err != nil {
		return nil, newFetchError(c.platform, handle, err)
	}

	// Codeforces answers FAILED lookups with a 400 and a JSON comment
	if resp.Status != codeforcesStatusOK {
		if resp.Status == "" {
			return nil, newFetchError(c.platform, handle, fmt.Errorf("%w: %d", ErrUpstreamStatus, status))
		}

		return nil, newFetchError(c.platform, handle, codeforcesErrorCause(resp))
	}

	if len(resp.Result) == 0 {
		return nil, newFetchError(c.platform, handle, fmt.Errorf("%w: empty result", ErrMalformedResponse))
	}

	user := resp.Result[0]
	result := &Result{
		Rating:    float64(user.Rating),
		MaxRating: user.MaxRating,
	}

	c.logger.Debug("Fetched Codeforces profile",
		zap.String("handle", handle),
		zap.Int("rating", user.Rating),
		zap.Int("maxRating", user.MaxRating))

	return result, nil
}

func codeforcesErrorCause(resp codeforcesResponse) error {
	if strings.Contains(strings.ToLower(resp.Comment), "not found") {
		return fmt.Errorf("%w: %s", ErrUserNotFound, resp.Comment)
	}

	return fmt.Errorf("%w: %s %s", ErrUpstreamError, resp.Status, resp.Comment)
}
