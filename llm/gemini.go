package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

type GeminiProvider struct {
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, apiKey string, opts ...option.ClientOption) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

func (p *GeminiProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := p.client.GenerativeModel(req.Model)
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if len(req.StopSequences) > 0 {
		model.StopSequences = req.StopSequences
	}

	// Set system instructions
	systemContent := p.extractSystemPrompts(req.Messages)
	if systemContent != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(systemContent))
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGeminiSchema(schemaParameters(t)),
			})
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		mode := genai.FunctionCallingAuto
		if req.ToolChoice == ToolChoiceNone {
			mode = genai.FunctionCallingNone
		}
		model.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode}}
	}

	contents := p.convertContents(req.Messages)
	if len(contents) == 0 {
		contents = []*genai.Content{genai.NewUserContent(genai.Text(""))}
	}

	// The last turn is sent; everything before it is history.
	chat := model.StartChat()
	chat.History = contents[:len(contents)-1]
	last := contents[len(contents)-1]

	resp, err := chat.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, ErrEmptyResponse
	}

	cand := resp.Candidates[0]
	out := &ChatResponse{
		ID:           uuid.New().String(),
		Content:      p.extractContent(cand),
		FinishReason: cand.FinishReason.String(),
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	for _, fc := range cand.FunctionCalls() {
		raw, _ := json.Marshal(fc.Args)
		// Gemini does not assign call ids; the function name routes the
		// response back.
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:      "call_" + uuid.NewString(),
			Name:    fc.Name,
			Args:    fc.Args,
			RawArgs: string(raw),
		})
	}
	return out, nil
}

func (p *GeminiProvider) extractSystemPrompts(messages []Message) string {
	var system []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
		}
	}
	return strings.Join(system, "\n\n")
}

// convertContents maps non-system messages to Gemini contents, folding
// consecutive tool results into one turn.
func (p *GeminiProvider) convertContents(messages []Message) []*genai.Content {
	var contents []*genai.Content
	lastWasTool := false

	for _, m := range messages {
		isTool := m.Role == RoleTool
		switch m.Role {
		case RoleUser:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		case RoleAssistant:
			var parts []genai.Part
			if m.Content != "" {
				parts = append(parts, genai.Text(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]any{}
				}
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: args})
			}
			if len(parts) == 0 {
				parts = append(parts, genai.Text(""))
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case RoleTool:
			part := genai.FunctionResponse{Name: m.ToolName, Response: toolResponse(m)}
			if lastWasTool {
				n := len(contents)
				contents[n-1].Parts = append(contents[n-1].Parts, part)
			} else {
				contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{part}})
			}
		}
		if m.Role != RoleSystem {
			lastWasTool = isTool
		}
	}

	return contents
}

// toolResponse wraps a tool result in the object Gemini expects.
func toolResponse(m Message) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(m.Content), &obj); err == nil {
		return obj
	}
	if m.IsError {
		return map[string]any{"error": m.Content}
	}
	return map[string]any{"result": m.Content}
}

func (p *GeminiProvider) extractContent(cand *genai.Candidate) string {
	if cand.Content == nil {
		return ""
	}
	var content strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			content.WriteString(string(t))
		}
	}
	return content.String()
}

// toGeminiSchema converts a JSON schema object into Gemini's schema type.
func toGeminiSchema(s map[string]any) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{}
	if d, ok := s["description"].(string); ok {
		out.Description = d
	}
	switch s["type"] {
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		if items, ok := s["items"].(map[string]any); ok {
			out.Items = toGeminiSchema(items)
		}
	default:
		out.Type = genai.TypeObject
	}
	switch e := s["enum"].(type) {
	case []string:
		out.Enum = e
	case []any:
		for _, v := range e {
			if str, ok := v.(string); ok {
				out.Enum = append(out.Enum, str)
			}
		}
	}
	if props, ok := s["properties"].(map[string]any); ok && len(props) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if prop, ok := raw.(map[string]any); ok {
				out.Properties[name] = toGeminiSchema(prop)
			}
		}
	}
	out.Required = requiredFields(s)
	return out
}
