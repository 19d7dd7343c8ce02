// Package scorer wraps a generative-AI text model that turns a batch of
// observation excerpts into a SentimentResult, and optionally adjudicates
// between sentiment and a technical signal.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"futures-agent/internal/sentiment"
	"futures-agent/pkg/clock"
)

const (
	maxExcerpts      = 20
	maxExcerptLength = 500
	temperature      = 0.3
)

// Scorer calls a generative-AI REST endpoint (Gemini-shaped: a single
// generateContent call with a JSON-only response schema).
type Scorer struct {
	APIKey     string
	Endpoint   string
	httpClient *http.Client
	clock      clock.Clock
}

// New builds a Scorer. Endpoint defaults to the Gemini generateContent URL
// for the configured model when empty.
func New(apiKey, endpoint string, clk clock.Clock) *Scorer {
	if endpoint == "" {
		endpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent"
	}
	return &Scorer{
		APIKey:     apiKey,
		Endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		clock:      clk,
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	ResponseMIMEType string `json:"response_mime_type"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// rawSentiment is the strict JSON schema the prompt asks the model for.
type rawSentiment struct {
	Score        float64  `json:"score"`
	Confidence   float64  `json:"confidence"`
	Action       string   `json:"action"`
	Reasoning    string   `json:"reasoning"`
	Themes       []string `json:"themes"`
	Urgency      string   `json:"urgency"`
	MarketImpact string   `json:"marketImpact"`
}

func buildPrompt(texts []string, symbol string, sources []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a financial sentiment analyst evaluating %s for sources %s.\n", symbol, strings.Join(sources, ", "))
	b.WriteString("Read the following excerpts and respond with ONLY a JSON object matching this schema:\n")
	b.WriteString(`{"score": float in [-1,1], "confidence": float in [0,1], "action": "BUY"|"SELL"|"HOLD", "reasoning": string, "themes": [string], "urgency": "LOW"|"MED"|"HIGH", "marketImpact": "POS"|"NEG"|"NEU"}`)
	b.WriteString("\n\nExcerpts:\n")

	n := len(texts)
	if n > maxExcerpts {
		n = maxExcerpts
	}
	for i := 0; i < n; i++ {
		excerpt := texts[i]
		if len(excerpt) > maxExcerptLength {
			excerpt = excerpt[:maxExcerptLength]
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, excerpt)
	}
	return b.String()
}

// stripFence removes a leading/trailing ```json fenced code block, if present.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Analyze builds a prompt from up to 20 excerpts and returns the model's
// sentiment judgment. Any failure (transport, timeout, parse) returns the
// neutral default rather than propagating an error.
func (s *Scorer) Analyze(ctx context.Context, texts []string, symbol string, sources []string) sentiment.SentimentResult {
	now := s.clock.Now()
	if s.APIKey == "" || len(texts) == 0 {
		return sentiment.NeutralResult(now)
	}

	prompt := buildPrompt(texts, symbol, sources)
	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:      temperature,
			ResponseMIMEType: "application/json",
		},
	}

	raw, err := s.call(ctx, reqBody)
	if err != nil {
		log.Printf("scorer: analyze call failed: %v", err)
		return sentiment.NeutralResult(now)
	}

	var parsed rawSentiment
	if err := json.Unmarshal([]byte(stripFence(raw)), &parsed); err != nil {
		log.Printf("scorer: analyze parse failed: %v", err)
		return sentiment.NeutralResult(now)
	}

	return sentiment.SentimentResult{
		Score:        clampRange(parsed.Score, -1, 1),
		Confidence:   clampRange(parsed.Confidence, 0, 1),
		Action:       normalizeAction(parsed.Action),
		Reasoning:    parsed.Reasoning,
		Themes:       parsed.Themes,
		Urgency:      normalizeUrgency(parsed.Urgency),
		MarketImpact: normalizeImpact(parsed.MarketImpact),
		Timestamp:    now,
	}
}

// Decision is the optional adjudication output from Decide.
type Decision struct {
	Action     sentiment.Action
	Qty        int
	Confidence float64
	Reasoning  string
}

// Decide adjudicates between a sentiment result and an optional technical
// signal/regime description. Any failure returns HOLD.
func (s *Scorer) Decide(ctx context.Context, sent sentiment.SentimentResult, technicalSignal int, regime string) Decision {
	if s.APIKey == "" {
		return Decision{Action: sentiment.ActionHold}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sentiment score=%.2f confidence=%.2f action=%s.\n", sent.Score, sent.Confidence, sent.Action)
	fmt.Fprintf(&b, "Technical crossover signal=%d. Regime=%s.\n", technicalSignal, regime)
	b.WriteString(`Respond with ONLY JSON: {"action":"BUY"|"SELL"|"HOLD","qty":int,"confidence":float,"reasoning":string}`)

	reqBody := generateRequest{
		Contents:         []content{{Parts: []part{{Text: b.String()}}}},
		GenerationConfig: generationConfig{Temperature: temperature, ResponseMIMEType: "application/json"},
	}

	raw, err := s.call(ctx, reqBody)
	if err != nil {
		log.Printf("scorer: decide call failed: %v", err)
		return Decision{Action: sentiment.ActionHold}
	}

	var parsed struct {
		Action     string  `json:"action"`
		Qty        int     `json:"qty"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(stripFence(raw)), &parsed); err != nil {
		log.Printf("scorer: decide parse failed: %v", err)
		return Decision{Action: sentiment.ActionHold}
	}

	return Decision{
		Action:     normalizeAction(parsed.Action),
		Qty:        parsed.Qty,
		Confidence: clampRange(parsed.Confidence, 0, 1),
		Reasoning:  parsed.Reasoning,
	}
}

func (s *Scorer) call(ctx context.Context, body generateRequest) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.Endpoint+"?key="+s.APIKey, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	started := s.clock.Now()
	resp, err := s.httpClient.Do(req)
	elapsed := s.clock.Now().Sub(started)
	log.Printf("scorer: call took %s", elapsed)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("scorer: status %d", resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("scorer: empty response")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func normalizeAction(a string) sentiment.Action {
	switch strings.ToUpper(strings.TrimSpace(a)) {
	case "BUY":
		return sentiment.ActionBuy
	case "SELL":
		return sentiment.ActionSell
	default:
		return sentiment.ActionHold
	}
}

func normalizeUrgency(u string) sentiment.Urgency {
	switch strings.ToUpper(strings.TrimSpace(u)) {
	case "HIGH":
		return sentiment.UrgencyHigh
	case "MED", "MEDIUM":
		return sentiment.UrgencyMedium
	default:
		return sentiment.UrgencyLow
	}
}

func normalizeImpact(m string) sentiment.MarketImpact {
	switch strings.ToUpper(strings.TrimSpace(m)) {
	case "POS", "POSITIVE":
		return sentiment.ImpactPositive
	case "NEG", "NEGATIVE":
		return sentiment.ImpactNegative
	default:
		return sentiment.ImpactNeutral
	}
}
