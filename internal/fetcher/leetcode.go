package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cpboard/cpboard/internal/database/types/enum"
	"go.uber.org/zap"
)

const leetCodeProfileQuery = `query userProfile($username: String!) {
  userContestRanking(username: $username) {
    rating
  }
  matchedUser(username: $username) {
    submitStats {
      acSubmissionNum {
        difficulty
        count
      }
    }
  }
}`

type leetCodeRequest struct {
	Query     string            `json:"query"`
	Variables map[string]string `json:"variables"`
}

type leetCodeResponse struct {
	Data   *leetCodeData   `json:"data"`
	Errors []leetCodeError `json:"errors"`
}

type leetCodeError struct {
	Message string `json:"message"`
}

type leetCodeData struct {
	UserContestRanking *struct {
		Rating float64 `json:"rating"`
	} `json:"userContestRanking"`
	MatchedUser *struct {
		SubmitStats *struct {
			AcSubmissionNum []struct {
				Difficulty string `json:"difficulty"`
				Count      any    `json:"count"`
			} `json:"acSubmissionNum"`
		} `json:"submitStats"`
	} `json:"matchedUser"`
}

// LeetCode fetches contest rating and solved count through the GraphQL endpoint.
type LeetCode struct {
	baseClient
}

// NewLeetCode creates a LeetCode adapter.
func NewLeetCode(opts Options, logger *zap.Logger) *LeetCode {
	return &LeetCode{baseClient: newBaseClient(enum.PlatformLeetCode, opts, logger)}
}

// Fetch looks up one LeetCode user. MaxRating is always 0.
func (l *LeetCode) Fetch(ctx context.Context, handle string) (*Result, error) {
	if handle == "" {
		return nil, newFetchError(l.platform, handle, ErrEmptyHandle)
	}

	payload, err := sonic.Marshal(leetCodeRequest{
		Query:     leetCodeProfileQuery,
		Variables: map[string]string{"username": handle},
	})
	if err != nil {
		return nil, newFetchError(l.platform, handle, fmt.Errorf("failed to encode query: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, newFetchError(l.platform, handle, fmt.Errorf("create request failed: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")

	var resp leetCodeResponse

	status, err := l.send(ctx, req, &resp)
	if err != nil {
		return nil, newFetchError(l.platform, handle, err)
	}

	if len(resp.Errors) > 0 {
		return nil, newFetchError(l.platform, handle, leetCodeErrorCause(resp.Errors))
	}

	if status != http.StatusOK {
		return nil, newFetchError(l.platform, handle, fmt.Errorf("%w: %d", ErrUpstreamStatus, status))
	}

	if resp.Data == nil {
		return nil, newFetchError(l.platform, handle, fmt.Errorf("%w: missing data", ErrMalformedResponse))
	}

	result := &Result{}

	if ranking := resp.Data.UserContestRanking; ranking != nil {
		result.Rating = ranking.Rating
	}

	// Index 0 is the "All" difficulty bucket
	if user := resp.Data.MatchedUser; user != nil && user.SubmitStats != nil &&
		len(user.SubmitStats.AcSubmissionNum) > 0 {
		result.Solved = solvedCount(user.SubmitStats.AcSubmissionNum[0].Count)
	}

	l.logger.Debug("Fetched LeetCode profile",
		zap.String("handle", handle),
		zap.Float64("rating", result.Rating),
		zap.Int("solved", result.Solved))

	return result, nil
}

// solvedCount reads a submission count, treating anything that is not a
// non-negative whole number as 0.
func solvedCount(v any) int {
	count, ok := v.(float64)
	if !ok || count < 0 || count > math.MaxInt32 || count != math.Trunc(count) {
		return 0
	}

	return int(count)
}

func leetCodeErrorCause(errs []leetCodeError) error {
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.Message)
	}

	joined := strings.Join(messages, "; ")
	if strings.Contains(strings.ToLower(joined), "does not exist") {
		return fmt.Errorf("%w: %s", ErrUserNotFound, joined)
	}

	return fmt.Errorf("%w: %s", ErrUpstreamError, joined)
}
