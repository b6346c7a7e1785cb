// Command plugin_textstats is an example tool plugin. Build it and point a
// plugin block at the binary:
//
//	plugin "textstats" {
//	  path = "./bin/plugin_textstats"
//	}
package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"cellgrid/aitools"
	"cellgrid/plugin"
)

var tools = []*plugin.ToolInfo{
	{
		Name:        "word_count",
		Description: "Counts the words, sentences and characters in a piece of text",
		Schema: aitools.Schema{
			Type: aitools.TypeObject,
			Properties: aitools.PropertyMap{
				"text": {
					Type:        aitools.TypeString,
					Description: "The text to measure",
				},
			},
			Required: []string{"text"},
		},
	},
	{
		Name:        "find_phrase",
		Description: "Returns every line of a text containing a phrase, with line numbers",
		Schema: aitools.Schema{
			Type: aitools.TypeObject,
			Properties: aitools.PropertyMap{
				"text": {
					Type:        aitools.TypeString,
					Description: "The text to search",
				},
				"phrase": {
					Type:        aitools.TypeString,
					Description: "Phrase to look for",
				},
				"ignore_case": {
					Type:        aitools.TypeBoolean,
					Description: "Match without regard to case",
				},
			},
			Required: []string{"text", "phrase"},
		},
	},
}

// TextStats implements plugin.ToolProvider
type TextStats struct {
	maxMatches int
}

func (p *TextStats) Configure(settings map[string]string) error {
	if v, ok := settings["max_matches"]; ok {
		if _, err := fmt.Sscanf(v, "%d", &p.maxMatches); err != nil {
			return fmt.Errorf("max_matches: %w", err)
		}
	}
	return nil
}

func (p *TextStats) ListTools() ([]*plugin.ToolInfo, error) {
	return tools, nil
}

func (p *TextStats) Call(toolName string, payload string) (string, error) {
	var params struct {
		Text       string `json:"text"`
		Phrase     string `json:"phrase"`
		IgnoreCase bool   `json:"ignore_case"`
	}
	if err := json.Unmarshal([]byte(payload), &params); err != nil {
		return "", fmt.Errorf("invalid payload: %w", err)
	}

	switch toolName {
	case "word_count":
		sentences := strings.FieldsFunc(params.Text, func(r rune) bool {
			return r == '.' || r == '!' || r == '?'
		})
		return encode(map[string]int{
			"words":      len(strings.FieldsFunc(params.Text, unicode.IsSpace)),
			"sentences":  len(sentences),
			"characters": len([]rune(params.Text)),
		})
	case "find_phrase":
		if params.Phrase == "" {
			return "", fmt.Errorf("phrase is required")
		}
		phrase := params.Phrase
		if params.IgnoreCase {
			phrase = strings.ToLower(phrase)
		}
		type match struct {
			Line int    `json:"line"`
			Text string `json:"text"`
		}
		matches := []match{}
		for i, line := range strings.Split(params.Text, "\n") {
			hay := line
			if params.IgnoreCase {
				hay = strings.ToLower(hay)
			}
			if strings.Contains(hay, phrase) {
				matches = append(matches, match{Line: i + 1, Text: strings.TrimSpace(line)})
				if p.maxMatches > 0 && len(matches) == p.maxMatches {
					break
				}
			}
		}
		return encode(map[string]any{"matches": matches})
	default:
		return "", fmt.Errorf("unknown tool: %s", toolName)
	}
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func main() {
	plugin.Serve(&TextStats{})
}
