package core

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

const (
	// SummaryTTL defines how long a published run summary is kept.
	SummaryTTL = 7 * 24 * time.Hour

	// SummaryKeyPrefix identifies run summaries in Redis.
	SummaryKeyPrefix = "sync_summary:"

	// LatestSummaryKey always points at the most recent summary.
	LatestSummaryKey = SummaryKeyPrefix + "latest"
)

// RunSummary is the compact form of a finished sync run published for dashboards.
type RunSummary struct {
	RunID      string    `json:"runId"`
	Day        string    `json:"day"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
}

// SummaryCache stores run summaries keyed by calendar day.
type SummaryCache struct {
	client rueidis.Client
	logger *zap.Logger
}

// NewSummaryCache creates a new summary cache.
func NewSummaryCache(client rueidis.Client, logger *zap.Logger) *SummaryCache {
	return &SummaryCache{
		client: client,
		logger: logger.Named("summary_cache"),
	}
}

// Publish stores the summary under its day key and as the latest summary.
func (c *SummaryCache) Publish(ctx context.Context, summary *RunSummary) error {
	data, err := sonic.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	value := string(data)
	cmds := rueidis.Commands{
		c.client.B().Set().Key(SummaryKeyPrefix + summary.Day).Value(value).Ex(SummaryTTL).Build(),
		c.client.B().Set().Key(LatestSummaryKey).Value(value).Ex(SummaryTTL).Build(),
	}

	for _, resp := range c.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to store run summary: %w", err)
		}
	}

	c.logger.Debug("Published run summary",
		zap.String("runID", summary.RunID),
		zap.String("day", summary.Day))

	return nil
}

// Latest returns the most recent summary, or nil if none is stored.
func (c *SummaryCache) Latest(ctx context.Context) (*RunSummary, error) {
	return c.get(ctx, LatestSummaryKey)
}

// ForDay returns the last summary published for the given YYYY-MM-DD day.
func (c *SummaryCache) ForDay(ctx context.Context, day string) (*RunSummary, error) {
	return c.get(ctx, SummaryKeyPrefix+day)
}

func (c *SummaryCache) get(ctx context.Context, key string) (*RunSummary, error) {
	data, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get run summary %s: %w", key, err)
	}

	var summary RunSummary
	if err := sonic.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run summary %s: %w", key, err)
	}

	return &summary, nil
}
