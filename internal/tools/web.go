package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
)

// DefaultSearchURL is the Serper Google search endpoint.
const DefaultSearchURL = "https://google.serper.dev/search"

// SearchResult is one organic search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num,omitempty"`
}

type serperResponse struct {
	Organic []SearchResult `json:"organic"`
}

// WebSearch queries Serper. args: query, num.
type WebSearch struct {
	APIKey     string
	URL        string
	HTTPClient *http.Client
}

// NewWebSearch returns nil when no API key is configured, so the tool
// is simply absent from the registry.
func NewWebSearch(apiKey string, timeout time.Duration) *WebSearch {
	if apiKey == "" {
		return nil
	}
	return &WebSearch{APIKey: apiKey, URL: DefaultSearchURL, HTTPClient: &http.Client{Timeout: timeout}}
}

func (*WebSearch) Name() string { return NameWebSearch }

func (t *WebSearch) Call(ctx context.Context, args map[string]string) (string, error) {
	num, _ := strconv.Atoi(args["num"])
	results, err := t.Search(ctx, args["query"], num)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "(no results)", nil
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s - %s\n   %s\n", i+1, r.Title, r.Link, r.Snippet)
	}
	return b.String(), nil
}

// Search returns the organic results for query.
func (t *WebSearch) Search(ctx context.Context, query string, num int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.NewCallError(core.FailMalformed, "search query is empty", nil)
	}
	if num <= 0 {
		num = 5
	}
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(serperRequest{Q: query, Num: num}); err != nil {
		return nil, core.NewCallError(core.FailMalformed, "encode search", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, buf)
	if err != nil {
		return nil, core.NewCallError(core.FailMalformed, "build search request", err)
	}
	req.Header.Set("X-API-KEY", t.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := t.client().Do(req)
	if err != nil {
		return nil, transportError(ctx, "search", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, core.NewCallError(statusFailure(res.StatusCode), fmt.Sprintf("search status %d: %s", res.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	var sr serperResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, core.NewCallError(core.FailEmpty, "decode search response", err)
	}
	if len(sr.Organic) > num {
		sr.Organic = sr.Organic[:num]
	}
	return sr.Organic, nil
}

func (t *WebSearch) client() *http.Client {
	if t.HTTPClient != nil {
		return t.HTTPClient
	}
	return http.DefaultClient
}

// Scrape fetches a page and returns its visible text. args: url.
type Scrape struct {
	HTTPClient *http.Client
	MaxChars   int
}

// NewScrape creates a scraper with a per-request timeout.
func NewScrape(timeout time.Duration, maxChars int) *Scrape {
	return &Scrape{HTTPClient: &http.Client{Timeout: timeout}, MaxChars: maxChars}
}

func (*Scrape) Name() string { return NameScrape }

func (t *Scrape) Call(ctx context.Context, args map[string]string) (string, error) {
	url := args["url"]
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", core.NewCallError(core.FailMalformed, fmt.Sprintf("invalid url %q", url), nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", core.NewCallError(core.FailMalformed, "build scrape request", err)
	}
	req.Header.Set("User-Agent", "jeevansetu/1.0")

	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return "", transportError(ctx, "scrape", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", core.NewCallError(statusFailure(res.StatusCode), fmt.Sprintf("scrape %s: status %d", url, res.StatusCode), nil)
	}

	text, err := ExtractText(io.LimitReader(res.Body, 2<<20))
	if err != nil {
		return "", core.NewCallError(core.FailEmpty, "parse page", err)
	}
	return truncate(text, t.MaxChars), nil
}

// ExtractText returns the visible text of an HTML document, one block
// per line, skipping script, style and other non-content elements.
func ExtractText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head", "svg", "iframe":
				return
			}
		}
		if n.Type == html.TextNode {
			if s := strings.Join(strings.Fields(n.Data), " "); s != "" {
				lines = append(lines, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(lines, "\n"), nil
}

func statusFailure(status int) core.CallFailure {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return core.FailAuth
	case status == http.StatusTooManyRequests:
		return core.FailRateLimited
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return core.FailTimeout
	case status >= 500:
		return core.FailUnavailable
	default:
		return core.FailMalformed
	}
}

func transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return core.NewCallError(core.FailTimeout, op+" timed out", err)
	}
	return core.NewCallError(core.FailUnavailable, op+" failed", err)
}
