package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultTavilyURL = "https://api.tavily.com/search"

// AllowedDomains restricts web results to educational sources.
var AllowedDomains = []string{
	"*.edu",
	"*.org",
	"*.gov",
	"wikipedia.org",
	"mathworld.wolfram.com",
	"brilliant.org",
	"khanacademy.org",
}

const maxResults = 5

// HTTPError is returned for a non-2xx Tavily response.
type HTTPError struct {
	Code int
	Body string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("API error: %d", e.Code)
}

// TavilyClient issues single search requests against the Tavily API.
type TavilyClient struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
}

// NewTavilyClient creates a client. An empty apiURL uses the public endpoint.
func NewTavilyClient(apiKey, apiURL string) *TavilyClient {
	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultTavilyURL
	}
	return &TavilyClient{
		apiKey:     apiKey,
		apiURL:     apiURL,
		httpClient: &http.Client{},
	}
}

// Configured reports whether an API key is set.
func (c *TavilyClient) Configured() bool {
	return strings.TrimSpace(c.apiKey) != ""
}

type tavilyRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth"`
	IncludeAnswer  bool     `json:"include_answer"`
	IncludeDomains []string `json:"include_domains"`
	MaxResults     int      `json:"max_results"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search runs one advanced-depth query limited to AllowedDomains.
func (c *TavilyClient) Search(ctx context.Context, query string) (Answer, error) {
	payload, err := json.Marshal(tavilyRequest{
		APIKey:         c.apiKey,
		Query:          query,
		SearchDepth:    "advanced",
		IncludeAnswer:  true,
		IncludeDomains: AllowedDomains,
		MaxResults:     maxResults,
	})
	if err != nil {
		return Answer{}, fmt.Errorf("marshal tavily request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return Answer{}, fmt.Errorf("create tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Answer{}, fmt.Errorf("tavily request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Answer{}, &HTTPError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Answer{}, fmt.Errorf("decode tavily response: %w", err)
	}

	out := Answer{Text: decoded.Answer, Sources: make([]Source, 0, len(decoded.Results))}
	for _, item := range decoded.Results {
		out.Sources = append(out.Sources, Source{
			Title:   item.Title,
			URL:     item.URL,
			Content: PlainText(item.Content),
			Score:   item.Score,
		})
	}
	return out, nil
}
