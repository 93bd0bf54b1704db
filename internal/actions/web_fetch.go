package actions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxFetchBytes caps downloaded bodies.
const maxFetchBytes = 512 * 1024

// WebFetchAction fetches a URL and returns the body as text.
type WebFetchAction struct {
	client *http.Client
}

func NewWebFetchAction() *WebFetchAction {
	return &WebFetchAction{client: &http.Client{Timeout: 30 * time.Second}}
}

func (a *WebFetchAction) Name() string            { return "web_fetch" }
func (a *WebFetchAction) CapabilityGroup() string { return "network" }
func (a *WebFetchAction) Description() string     { return "Fetch a URL and return its content" }

func (a *WebFetchAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to fetch (http or https)",
			},
		},
		"required": []string{"url"},
	}
}

func (a *WebFetchAction) Execute(ctx context.Context, params map[string]any) *Result {
	rawURL, _ := params["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrorResult(fmt.Sprintf("invalid url: %q", rawURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("build request: %v", err)).WithError(err)
	}
	req.Header.Set("User-Agent", "gohive/1.0")

	resp, err := a.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err)).WithError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return ErrorResult(fmt.Sprintf("read body: %v", err)).WithError(err)
	}

	content := string(body)
	contentType := resp.Header.Get("Content-Type")
	if !isTextual(contentType) {
		content = fmt.Sprintf("(binary content, %d bytes, %s)", len(body), contentType)
	}

	out := map[string]any{
		"status":       resp.StatusCode,
		"content_type": contentType,
		"content":      content,
	}
	if resp.StatusCode >= 400 {
		return &Result{Content: out, IsError: true}
	}
	return NewResult(out)
}

func isTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "json") ||
		strings.Contains(ct, "xml") ||
		strings.Contains(ct, "javascript") ||
		ct == ""
}
