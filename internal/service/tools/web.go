package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"codeloom/internal/domain/models/chat"
)

// FetchWebTool implements fetch_web: fetches a page, strips boilerplate
// and converts the remaining HTML to markdown the model can read.
type FetchWebTool struct {
	client    *http.Client
	converter *md.Converter
	maxBytes  int64
}

// NewFetchWebTool creates the web fetch tool.
func NewFetchWebTool(maxBytes int64) *FetchWebTool {
	return &FetchWebTool{
		client:    &http.Client{Timeout: 30 * time.Second},
		converter: md.NewConverter("", true, nil),
		maxBytes:  maxBytes,
	}
}

// Descriptor returns the tool's model-facing descriptor.
func (t *FetchWebTool) Descriptor() chat.Tool {
	return chat.Tool{
		Name:        "fetch_web",
		Description: "Fetch a web page and return its main content as markdown.",
		InputSchema: &chat.Schema{
			Type: "object",
			Properties: map[string]*chat.Schema{
				"url": {Type: "string", Description: "Absolute http(s) URL"},
			},
			Required: []string{"url"},
		},
	}
}

// Execute implements Executor.
func (t *FetchWebTool) Execute(ctx context.Context, input map[string]any) ([]chat.Part, error) {
	url, _ := input["url"].(string)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, t.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}

	// Strip non-content elements before conversion.
	doc.Find("script, style, nav, footer, header, aside").Remove()

	body := doc.Find("body")
	html, err := body.Html()
	if err != nil {
		return nil, fmt.Errorf("extract body: %w", err)
	}

	markdown, err := t.converter.ConvertString(html)
	if err != nil {
		return nil, fmt.Errorf("convert to markdown: %w", err)
	}

	return []chat.Part{chat.TextPart(markdown)}, nil
}
