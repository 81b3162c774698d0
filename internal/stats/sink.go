package stats

import (
	"context"
	"fmt"
	"strings"

	"github.com/dreamware/fleetcore/internal/platform"
	"github.com/dreamware/fleetcore/internal/relay"
)

// HTTPSink posts aggregate stats to a bot-list style endpoint.
//
// The URL may contain a single %d verb which is replaced by the bot id, e.g.
// "https://top.gg/api/bots/%d/stats". The token is sent verbatim as the
// Authorization header.
type HTTPSink struct {
	urlTemplate string
	token       string
}

// NewHTTPSink creates a sink for urlTemplate.
func NewHTTPSink(urlTemplate, token string) *HTTPSink {
	return &HTTPSink{urlTemplate: urlTemplate, token: token}
}

// PostAggregate implements platform.StatsSink.
func (s *HTTPSink) PostAggregate(ctx context.Context, botID uint64, agg platform.Aggregate) error {
	url := s.urlTemplate
	if strings.Contains(url, "%d") {
		url = fmt.Sprintf(url, botID)
	}
	if err := relay.PostJSON(ctx, url, agg, nil, relay.WithHeader("Authorization", s.token)); err != nil {
		return fmt.Errorf("post aggregate: %w", err)
	}
	return nil
}
