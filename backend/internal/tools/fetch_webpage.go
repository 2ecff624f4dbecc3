package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ToolFetchWebpage is the page fetching tool name
const ToolFetchWebpage = "fetch_webpage"

const (
	maxFetchBytes     = 50000
	defaultFetchChars = 5000
)

// FetchWebpageTool downloads a page and returns its readable text
type FetchWebpageTool struct {
	client *http.Client
}

// NewFetchWebpageTool creates the page fetching tool
func NewFetchWebpageTool(env Environment) *FetchWebpageTool {
	return &FetchWebpageTool{client: env.httpClient()}
}

func (t *FetchWebpageTool) Name() string { return ToolFetchWebpage }

func (t *FetchWebpageTool) Description() string {
	return "Fetches a web page and returns its readable text. Use after web_search to read a result."
}

func (t *FetchWebpageTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Page URL; https:// is assumed when no scheme is given",
			},
			"max_chars": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum characters of text to return (default: 5000)",
				"minimum":     100,
			},
		},
		"required": []string{"url"},
	}
}

func (t *FetchWebpageTool) RequiresConfirmation() bool { return false }

func (t *FetchWebpageTool) Describe(params map[string]interface{}) string {
	return "Fetch web page: " + stringParam(params, "url", "")
}

func (t *FetchWebpageTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	urlStr := strings.TrimSpace(stringParam(params, "url", ""))
	if urlStr == "" {
		return "", NewInvalidInputError("url is required")
	}
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		urlStr = "https://" + urlStr
	}
	maxChars := intParam(params, "max_chars", defaultFetchChars)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", NewInvalidInputError("invalid URL: %v", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; VegaAgent/1.0)")
	req.Header.Set("Accept", "text/html")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", NewIOError("failed to fetch "+urlStr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", NewIOError(fmt.Sprintf("%s returned HTTP %d", urlStr, resp.StatusCode), nil)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", NewIOError("failed to parse page", err)
	}

	title := pageTitle(doc)
	content := extractTextFromHTML(doc)
	if content == "" {
		return fmt.Sprintf("No readable text found at %s", urlStr), nil
	}

	truncated := false
	if runes := []rune(content); len(runes) > maxChars {
		content = string(runes[:maxChars])
		truncated = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", urlStr)
	if title != "" {
		fmt.Fprintf(&b, "Title: %s\n", title)
	}
	b.WriteString("\n")
	b.WriteString(content)
	if truncated {
		b.WriteString("... (truncated)")
	}
	return b.String(), nil
}
