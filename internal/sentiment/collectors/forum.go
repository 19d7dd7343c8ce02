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

// defaultSubreddits is the fixed subreddit set the forum collector scans
// in addition to its per-symbol search.
var defaultSubreddits = []string{"wallstreetbets", "options", "Futures_Trading", "investing", "stocks"}

// Forum collects posts from a fixed subreddit set matching a symbol's
// search terms, via Reddit's OAuth2 API.
type Forum struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	SearchTerms  map[string][]string
	Subreddits   []string

	httpClient      *http.Client
	clock           clock.Clock
	accessToken     string
	tokenExpiresAt  time.Time
	lastCollectTime time.Time
	enabled         bool
}

// NewForum builds a Forum collector with the default subreddit set.
func NewForum(clientID, clientSecret, userAgent string, searchTerms map[string][]string, clk clock.Clock) *Forum {
	return &Forum{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		UserAgent:    userAgent,
		SearchTerms:  searchTerms,
		Subreddits:   defaultSubreddits,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		clock:        clk,
	}
}

// Initialize reports whether the collector has credentials to operate.
func (f *Forum) Initialize() bool {
	f.enabled = f.ClientID != "" && f.ClientSecret != ""
	return f.enabled
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Permalink   string  `json:"permalink"`
	CreatedUTC  float64 `json:"created_utc"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	TotalAwards int     `json:"total_awards_received"`
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// forumEngagement implements spec 4.4's forum engagement formula.
func forumEngagement(score, comments, awards int, upvoteRatio float64) float64 {
	raw := math.Log1p((float64(score)+2*float64(comments)+5*float64(awards))*(0.5+0.5*upvoteRatio)) / 12
	return clamp01(raw)
}

func (f *Forum) ensureToken(ctx context.Context) error {
	if f.accessToken != "" && f.clock.Now().Before(f.tokenExpiresAt) {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://www.reddit.com/api/v1/access_token", strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return err
	}
	req.SetBasicAuth(f.ClientID, f.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return err
	}
	f.accessToken = tok.AccessToken
	f.tokenExpiresAt = f.clock.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return nil
}

func (f *Forum) get(ctx context.Context, path string) (redditListing, error) {
	var listing redditListing
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "https://oauth.reddit.com"+path, nil)
	if err != nil {
		return listing, err
	}
	req.Header.Set("Authorization", "Bearer "+f.accessToken)
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return listing, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return listing, fmt.Errorf("reddit status %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&listing)
	return listing, err
}

// Collect searches the fixed subreddit set's "hot/day" listing plus scans
// each subreddit's current hot list for term matches, deduplicated by id.
func (f *Forum) Collect(ctx context.Context, symbol string, limit int) []sentiment.Observation {
	if !f.enabled {
		return nil
	}
	if err := f.ensureToken(ctx); err != nil {
		log.Printf("collectors: forum auth failed: %v", err)
		return nil
	}

	terms := f.SearchTerms[symbol]
	if len(terms) == 0 {
		terms = []string{symbol}
	}

	seen := make(map[string]bool)
	var posts []redditPost

	for _, sub := range f.Subreddits {
		query := strings.Join(terms, " OR ")
		listing, err := f.get(ctx, fmt.Sprintf("/r/%s/search?q=%s&restrict_sr=1&sort=hot&t=day", sub, url.QueryEscape(query)))
		if err != nil {
			log.Printf("collectors: forum search r/%s failed: %v", sub, err)
			continue
		}
		for _, c := range listing.Data.Children {
			if seen[c.Data.ID] {
				continue
			}
			seen[c.Data.ID] = true
			posts = append(posts, c.Data)
		}

		hot, err := f.get(ctx, fmt.Sprintf("/r/%s/hot", sub))
		if err != nil {
			log.Printf("collectors: forum hot r/%s failed: %v", sub, err)
			continue
		}
		for _, c := range hot.Data.Children {
			if seen[c.Data.ID] {
				continue
			}
			haystack := strings.ToLower(c.Data.Title + " " + c.Data.Selftext)
			for _, term := range terms {
				if strings.Contains(haystack, strings.ToLower(term)) {
					seen[c.Data.ID] = true
					posts = append(posts, c.Data)
					break
				}
			}
		}
	}

	out := make([]sentiment.Observation, 0, len(posts))
	for _, p := range posts {
		out = append(out, sentiment.Observation{
			Source:          sentiment.SourceForum,
			Symbol:          symbol,
			Text:            p.Title + "\n" + p.Selftext,
			Timestamp:       time.Unix(int64(p.CreatedUTC), 0).UTC(),
			Author:          p.Author,
			URL:             "https://reddit.com" + p.Permalink,
			EngagementScore: forumEngagement(p.Score, p.NumComments, p.TotalAwards, p.UpvoteRatio),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	f.lastCollectTime = f.clock.Now()
	return out
}
