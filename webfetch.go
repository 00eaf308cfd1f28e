package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// FetchTimeout is the HTTP timeout for fetching URL content
	FetchTimeout = 30 * time.Second

	// MaxFetchedContentLength caps the extracted text returned to the caller
	MaxFetchedContentLength = 20000
)

// FetchURLContent fetches a web page and extracts its readable text, for
// inclusion as context in a council query. Markup, scripts and navigation
// chrome are stripped; the result is whitespace-normalized and truncated.
func FetchURLContent(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	client := &http.Client{
		Timeout: FetchTimeout,
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	return ExtractReadableText(doc), nil
}

// ExtractReadableText pulls the main text out of a parsed page. Prefers
// article/main containers when present, falls back to the whole body.
func ExtractReadableText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer, aside, iframe").Remove()

	root := doc.Find("article, main").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var parts []string
	root.Find("h1, h2, h3, h4, p, li, td, blockquote, pre").Each(func(i int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text != "" {
			parts = append(parts, text)
		}
	})

	// Pages without any of the content tags above still get their raw text
	content := strings.Join(parts, "\n")
	if content == "" {
		content = strings.Join(strings.Fields(root.Text()), " ")
	}

	if len(content) > MaxFetchedContentLength {
		content = content[:MaxFetchedContentLength]
	}

	return content
}
