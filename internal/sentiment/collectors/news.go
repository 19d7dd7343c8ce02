package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"futures-agent/internal/sentiment"
	"futures-agent/pkg/clock"
)

// outletTier buckets known publishers into a reputation tier used for the
// general-news backend's engagement score.
var outletTier = map[string]int{
	"Reuters": 1, "Bloomberg": 1, "Associated Press": 1, "Wall Street Journal": 1,
	"CNBC": 2, "MarketWatch": 2, "Financial Times": 2, "Barron's": 2,
	"Yahoo Finance": 3, "Seeking Alpha": 3, "Benzinga": 3,
}

func tierEngagement(outlet string) float64 {
	switch outletTier[outlet] {
	case 1:
		return 0.95
	case 2:
		return 0.75
	case 3:
		return 0.55
	default:
		return 0.40
	}
}

// News fans out to up to two backends: a general-news search API and a
// sentiment-annotated news API (e.g. Alpha Vantage NEWS_SENTIMENT).
type News struct {
	GeneralNewsAPIKey string
	AlphaVantageKey   string
	SearchTerms       map[string][]string

	httpClient *http.Client
	clock      clock.Clock
	enabled    bool

	lastCollectTime time.Time
}

// NewNews builds a News collector. Either key may be empty; the
// corresponding backend is then skipped.
func NewNews(generalNewsAPIKey, alphaVantageKey string, searchTerms map[string][]string, clk clock.Clock) *News {
	return &News{
		GeneralNewsAPIKey: generalNewsAPIKey,
		AlphaVantageKey:   alphaVantageKey,
		SearchTerms:       searchTerms,
		httpClient:        &http.Client{Timeout: 10 * time.Second},
		clock:             clk,
	}
}

// Initialize reports whether at least one backend has credentials.
func (n *News) Initialize() bool {
	n.enabled = n.GeneralNewsAPIKey != "" || n.AlphaVantageKey != ""
	return n.enabled
}

type generalNewsResponse struct {
	Articles []struct {
		Title       string    `json:"title"`
		Description string    `json:"description"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

func (n *News) collectGeneralNews(ctx context.Context, symbol string, terms []string) []sentiment.Observation {
	if n.GeneralNewsAPIKey == "" {
		return nil
	}
	query := "(" + strings.Join(quoteEach(terms), " OR ") + ")"
	q := url.Values{}
	q.Set("q", query)
	q.Set("language", "en")
	q.Set("sortBy", "publishedAt")
	q.Set("from", n.clock.Now().Add(-24*time.Hour).Format(time.RFC3339))
	q.Set("apiKey", n.GeneralNewsAPIKey)

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "https://newsapi.org/v2/everything?"+q.Encode(), nil)
	if err != nil {
		log.Printf("collectors: news build request: %v", err)
		return nil
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		log.Printf("collectors: general news request failed: %v", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("collectors: general news status %d", resp.StatusCode)
		return nil
	}

	var parsed generalNewsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Printf("collectors: general news decode failed: %v", err)
		return nil
	}

	out := make([]sentiment.Observation, 0, len(parsed.Articles))
	for _, a := range parsed.Articles {
		out = append(out, sentiment.Observation{
			Source:          sentiment.SourceNews,
			Symbol:          symbol,
			Text:            a.Title + ". " + a.Description,
			Timestamp:       a.PublishedAt,
			URL:             a.URL,
			EngagementScore: tierEngagement(a.Source.Name),
			Metadata:        map[string]string{"backend": "general", "outlet": a.Source.Name},
		})
	}
	return out
}

type alphaVantageResponse struct {
	Feed []struct {
		Title            string  `json:"title"`
		Summary          string  `json:"summary"`
		URL              string  `json:"url"`
		TimePublished    string  `json:"time_published"`
		OverallSentiment float64 `json:"overall_sentiment_score"`
	} `json:"feed"`
}

func (n *News) collectSentimentAnnotated(ctx context.Context, symbol string, terms []string) []sentiment.Observation {
	if n.AlphaVantageKey == "" {
		return nil
	}
	q := url.Values{}
	q.Set("function", "NEWS_SENTIMENT")
	q.Set("tickers", symbol)
	q.Set("apikey", n.AlphaVantageKey)

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "https://www.alphavantage.co/query?"+q.Encode(), nil)
	if err != nil {
		log.Printf("collectors: alpha vantage build request: %v", err)
		return nil
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		log.Printf("collectors: alpha vantage request failed: %v", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("collectors: alpha vantage status %d", resp.StatusCode)
		return nil
	}

	var parsed alphaVantageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Printf("collectors: alpha vantage decode failed: %v", err)
		return nil
	}

	out := make([]sentiment.Observation, 0, len(parsed.Feed))
	for _, item := range parsed.Feed {
		haystack := strings.ToLower(item.Title + " " + item.Summary)
		matched := false
		for _, term := range terms {
			if strings.Contains(haystack, strings.ToLower(term)) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		ts, err := time.Parse("20060102T150405", item.TimePublished)
		if err != nil {
			ts = n.clock.Now()
		}
		out = append(out, sentiment.Observation{
			Source:          sentiment.SourceNews,
			Symbol:          symbol,
			Text:            item.Title + ". " + item.Summary,
			Timestamp:       ts,
			URL:             item.URL,
			EngagementScore: clamp01((item.OverallSentiment + 1) / 2),
			Metadata:        map[string]string{"backend": "sentiment-annotated"},
		})
	}
	return out
}

func quoteEach(terms []string) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = fmt.Sprintf("%q", t)
	}
	return out
}

// Collect fans out to both backends in parallel, merges, sorts newest
// first, and truncates to limit.
func (n *News) Collect(ctx context.Context, symbol string, limit int) []sentiment.Observation {
	if !n.enabled {
		return nil
	}
	terms := n.SearchTerms[symbol]
	if len(terms) == 0 {
		terms = []string{symbol}
	}

	var wg sync.WaitGroup
	var general, annotated []sentiment.Observation
	wg.Add(2)
	go func() { defer wg.Done(); general = n.collectGeneralNews(ctx, symbol, terms) }()
	go func() { defer wg.Done(); annotated = n.collectSentimentAnnotated(ctx, symbol, terms) }()
	wg.Wait()

	out := append(general, annotated...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	n.lastCollectTime = n.clock.Now()
	return out
}
