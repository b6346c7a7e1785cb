package aitools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const userAgent = "cellgrid"

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

// HTTPGetTool performs HTTP GET requests
type HTTPGetTool struct {
	Client *http.Client
}

func (t *HTTPGetTool) ToolName() string {
	return "http_get"
}

func (t *HTTPGetTool) ToolDescription() string {
	return "Performs an HTTP GET request to the specified URL and returns the status and response body."
}

func (t *HTTPGetTool) ToolPayloadSchema() Schema {
	return Schema{
		Type: TypeObject,
		Properties: PropertyMap{
			"url": {
				Type:        TypeString,
				Description: "The URL to send the GET request to",
			},
			"headers": {
				Type:        TypeObject,
				Description: "Optional headers to include in the request (key-value pairs)",
			},
		},
		Required: []string{"url"},
	}
}

func (t *HTTPGetTool) Call(ctx context.Context, args map[string]any, _ ToolContext) (any, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}
	req.Header.Set("User-Agent", userAgent)

	client := t.Client
	if client == nil {
		client = httpClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return map[string]any{
		"status": resp.StatusCode,
		"body":   string(body),
	}, nil
}
