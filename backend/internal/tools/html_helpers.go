package tools

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ============================================================================
// Helper Functions for HTML Processing
// ============================================================================

// nonContentSelectors never carry readable page text
const nonContentSelectors = "script, style, noscript, iframe, svg, template, head"

// extractTextFromHTML returns the readable text of a page with markup,
// scripts and leading navigation noise removed
func extractTextFromHTML(doc *goquery.Document) string {
	doc.Find(nonContentSelectors).Remove()

	var sb strings.Builder
	for _, n := range doc.Nodes {
		collectText(n, &sb, 0)
	}
	words := strings.Fields(sb.String())

	meaningful := make([]string, 0, len(words))
	for i, word := range words {
		// Skip very short words that are likely noise
		if len(word) < 2 {
			continue
		}
		// Navigation words are only noise near the top of the page
		if i < len(words)/10 && isLikelyUINoise(strings.ToLower(strings.Trim(word, ".,!?;:"))) {
			continue
		}
		meaningful = append(meaningful, word)
	}

	return removeExcessiveRepetition(meaningful)
}

// blockElements break words apart; inline elements keep adjacent text joined
var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "figcaption": true, "figure": true,
	"footer": true, "form": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "header": true, "hr": true, "li": true, "main": true,
	"nav": true, "ol": true, "p": true, "pre": true, "section": true, "table": true,
	"td": true, "th": true, "tr": true, "ul": true,
}

func collectText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 200 {
		return
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		return
	}

	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		sb.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb, depth+1)
	}
	if block {
		sb.WriteByte(' ')
	}
}

// pageTitle returns the document title, if any
func pageTitle(doc *goquery.Document) string {
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}

// removeExcessiveRepetition drops words repeated so often in a short text that they are noise
func removeExcessiveRepetition(words []string) string {
	if len(words) < 10 || len(words) >= 200 {
		return strings.Join(words, " ")
	}

	result := make([]string, 0, len(words))
	seen := make(map[string]int)
	for _, word := range words {
		lower := strings.ToLower(word)
		seen[lower]++
		if seen[lower] > 20 {
			continue
		}
		result = append(result, word)
	}
	return strings.Join(result, " ")
}

var uiNoisePatterns = []string{
	"cookie", "privacy", "terms", "menu", "nav", "button", "click", "login", "sign up",
	"subscribe", "follow", "share", "like", "comment", "search", "filter", "sort",
}

// isLikelyUINoise checks if a string is likely UI noise (navigation, buttons, etc.)
func isLikelyUINoise(s string) bool {
	if len(s) >= 20 {
		return false
	}
	for _, pattern := range uiNoisePatterns {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}
