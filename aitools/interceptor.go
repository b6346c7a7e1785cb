package aitools

import (
	"encoding/json"
	"fmt"
)

// LargeResultConfig configures when results are considered "large"
type LargeResultConfig struct {
	ByteThreshold int // Min bytes before interception (default: 8KB)
	ItemThreshold int // Min array items to trigger (default: 20)
	SampleSize    int // Items to show in sample (default: 5)
	PreviewLength int // Chars to show in text preview (default: 500)
}

// DefaultLargeResultConfig returns the default configuration
func DefaultLargeResultConfig() LargeResultConfig {
	return LargeResultConfig{
		ByteThreshold: 8192,
		ItemThreshold: 20,
		SampleSize:    5,
		PreviewLength: 500,
	}
}

// ResultInterceptor shrinks oversized tool results before they are appended
// to a conversation. The model sees a sample plus a note saying how much was
// left out.
type ResultInterceptor struct {
	config LargeResultConfig
}

// NewResultInterceptor creates a new result interceptor
func NewResultInterceptor(config LargeResultConfig) *ResultInterceptor {
	return &ResultInterceptor{config: config}
}

// Intercept returns result unchanged when it is small, or a shortened form.
func (i *ResultInterceptor) Intercept(result string) string {
	// Try JSON array first - check item count regardless of byte size
	var arr []any
	if json.Unmarshal([]byte(result), &arr) == nil && len(arr) >= i.config.ItemThreshold {
		return i.arrayPreview(arr)
	}

	// For non-arrays, apply byte threshold
	if len(result) < i.config.ByteThreshold {
		return result
	}

	var obj map[string]any
	if json.Unmarshal([]byte(result), &obj) == nil {
		return i.objectPreview(obj, result)
	}
	return i.textPreview(result)
}

func (i *ResultInterceptor) arrayPreview(arr []any) string {
	sampleSize := min(i.config.SampleSize, len(arr))
	sampleJSON, _ := json.Marshal(arr[:sampleSize])
	return fmt.Sprintf(`{"partial":true,"total_items":%d,"shown_items":%d,"items":%s}`,
		len(arr), sampleSize, sampleJSON)
}

func (i *ResultInterceptor) objectPreview(obj map[string]any, raw string) string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	out, _ := json.Marshal(map[string]any{
		"partial":     true,
		"total_bytes": len(raw),
		"keys":        keys,
		"preview":     preview(raw, i.config.PreviewLength),
	})
	return string(out)
}

func (i *ResultInterceptor) textPreview(text string) string {
	return fmt.Sprintf("%s\n\n[truncated: showing %d of %d bytes]",
		preview(text, i.config.PreviewLength), min(i.config.PreviewLength, len(text)), len(text))
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary.
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n] + "..."
}
