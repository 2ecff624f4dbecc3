package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ToolWebSearch is the web search tool name
const ToolWebSearch = "web_search"

const (
	defaultSearchURL        = "https://html.duckduckgo.com/html/"
	defaultWebSearchResults = 5
	maxSnippetChars         = 200
)

// SearchResult is a single search hit
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchTool queries DuckDuckGo's HTML endpoint
type WebSearchTool struct {
	client    *http.Client
	searchURL string
}

// NewWebSearchTool creates the search tool
func NewWebSearchTool(env Environment) *WebSearchTool {
	searchURL := env.SearchURL
	if searchURL == "" {
		searchURL = defaultSearchURL
	}
	return &WebSearchTool{client: env.httpClient(), searchURL: searchURL}
}

func (t *WebSearchTool) Name() string { return ToolWebSearch }

func (t *WebSearchTool) Description() string {
	return "Searches the web and returns titles, URLs and snippets of the top results."
}

func (t *WebSearchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum results to return (default: 5)",
				"minimum":     1,
				"maximum":     20,
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) RequiresConfirmation() bool { return false }

func (t *WebSearchTool) Describe(params map[string]interface{}) string {
	return "Search the web for: " + stringParam(params, "query", "")
}

func (t *WebSearchTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	query := strings.TrimSpace(stringParam(params, "query", ""))
	if query == "" {
		return "", NewInvalidInputError("query is required")
	}
	maxResults := intParam(params, "max_results", defaultWebSearchResults)

	searchURL := t.searchURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", NewIOError("failed to create request", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", NewIOError("search request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", NewIOError(fmt.Sprintf("search returned HTTP %d", resp.StatusCode), nil)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", NewIOError("failed to parse search results", err)
	}

	results := parseSearchResults(doc, maxResults)
	return formatSearchResults(query, results), nil
}

// parseSearchResults extracts hits from a DuckDuckGo result page
func parseSearchResults(doc *goquery.Document, limit int) []SearchResult {
	var results []SearchResult
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find("a.result__a").First()
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}
		href, _ := link.Attr("href")

		snippet := strings.Join(strings.Fields(s.Find(".result__snippet").First().Text()), " ")
		if len(snippet) > maxSnippetChars {
			snippet = snippet[:maxSnippetChars] + "..."
		}

		results = append(results, SearchResult{
			Title:   title,
			URL:     resolveResultURL(href),
			Snippet: snippet,
		})
		return len(results) < limit
	})
	return results
}

// resolveResultURL unwraps DuckDuckGo's redirect links
func resolveResultURL(href string) string {
	if href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func formatSearchResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s\nYou can search manually at https://duckduckgo.com/?q=%s",
			query, url.QueryEscape(query))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d results for: %s\n", len(results), query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return b.String()
}
