// Package collectors implements the Collector side of the sentiment
// pipeline: micro-blog, forum, and news sources, each returning
// newest-first Observations bounded by a caller-supplied limit.
package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"futures-agent/internal/sentiment"
	"futures-agent/pkg/clock"
)

// Collector is implemented by every sentiment source.
type Collector interface {
	Initialize() bool
	Collect(ctx context.Context, symbol string, limit int) []sentiment.Observation
}

// MicroBlog collects recent posts matching a symbol's search terms from a
// Twitter-API-v2-shaped bearer-token endpoint.
type MicroBlog struct {
	BearerToken     string
	BaseURL         string
	SearchTerms     map[string][]string
	httpClient      *http.Client
	clock           clock.Clock
	lastCollectTime time.Time
	enabled         bool
}

// NewMicroBlog builds a MicroBlog collector. BaseURL defaults to the
// standard v2 recent-search endpoint when empty.
func NewMicroBlog(bearerToken string, searchTerms map[string][]string, clk clock.Clock) *MicroBlog {
	return &MicroBlog{
		BearerToken: bearerToken,
		BaseURL:     "https://api.twitter.com/2/tweets/search/recent",
		SearchTerms: searchTerms,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		clock:       clk,
	}
}

// Initialize reports whether the collector has credentials to operate.
func (m *MicroBlog) Initialize() bool {
	m.enabled = m.BearerToken != ""
	return m.enabled
}

type microBlogResponse struct {
	Data []struct {
		ID        string    `json:"id"`
		Text      string    `json:"text"`
		AuthorID  string    `json:"author_id"`
		CreatedAt time.Time `json:"created_at"`
		Lang      string    `json:"lang"`
		PublicMetrics struct {
			LikeCount    int `json:"like_count"`
			RetweetCount int `json:"retweet_count"`
			ReplyCount   int `json:"reply_count"`
			QuoteCount   int `json:"quote_count"`
		} `json:"public_metrics"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Verified bool   `json:"verified"`
		} `json:"users"`
	} `json:"includes"`
}

// microBlogEngagement implements spec 4.4's micro-blog engagement formula.
func microBlogEngagement(likes, reposts, replies, quotes int, verified bool) float64 {
	raw := math.Log1p(float64(likes)+2*float64(reposts)+1.5*float64(replies)+2*float64(quotes)) / 10
	e := clamp01(raw)
	if verified {
		e = math.Min(1, e*1.5)
	}
	return e
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Collect fetches recent posts for symbol, newest-first, truncated to limit.
func (m *MicroBlog) Collect(ctx context.Context, symbol string, limit int) []sentiment.Observation {
	if !m.enabled {
		return nil
	}
	terms := m.SearchTerms[symbol]
	if len(terms) == 0 {
		terms = []string{symbol}
	}
	query := fmt.Sprintf("(%s) -is:retweet lang:en", strings.Join(terms, " OR "))

	q := url.Values{}
	q.Set("query", query)
	q.Set("max_results", "100")
	q.Set("tweet.fields", "created_at,public_metrics,author_id,lang")
	q.Set("expansions", "author_id")
	q.Set("user.fields", "verified")

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, m.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		log.Printf("collectors: microblog build request: %v", err)
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+m.BearerToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Printf("collectors: microblog request failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("collectors: microblog status %d", resp.StatusCode)
		return nil
	}

	var parsed microBlogResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Printf("collectors: microblog decode failed: %v", err)
		return nil
	}

	verified := make(map[string]bool, len(parsed.Includes.Users))
	for _, u := range parsed.Includes.Users {
		verified[u.ID] = u.Verified
	}

	out := make([]sentiment.Observation, 0, len(parsed.Data))
	for _, t := range parsed.Data {
		metrics := t.PublicMetrics
		out = append(out, sentiment.Observation{
			Source:          sentiment.SourceMicroBlog,
			Symbol:          symbol,
			Text:            t.Text,
			Timestamp:       t.CreatedAt,
			Author:          t.AuthorID,
			EngagementScore: microBlogEngagement(metrics.LikeCount, metrics.RetweetCount, metrics.ReplyCount, metrics.QuoteCount, verified[t.AuthorID]),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	m.lastCollectTime = m.clock.Now()
	return out
}
