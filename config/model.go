package config

import (
	"fmt"
	"sort"
	"strings"
)

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
)

// SupportedModels maps provider to their supported model names
// The keys are the names used in HCL references (e.g., models.openai.gpt_4o)
var SupportedModels = map[Provider]map[string]string{
	ProviderOpenAI: {
		"gpt_4o":       "gpt-4o",
		"gpt_4o_mini":  "gpt-4o-mini",
		"gpt_4_1":      "gpt-4.1",
		"gpt_4_1_mini": "gpt-4.1-mini",
		"o3_mini":      "o3-mini",
		"o4_mini":      "o4-mini",
	},
	ProviderGemini: {
		"gemini_2_0_flash": "gemini-2.0-flash",
		"gemini_2_5_flash": "gemini-2.5-flash",
		"gemini_2_5_pro":   "gemini-2.5-pro",
		"gemini_1_5_pro":   "gemini-1.5-pro",
	},
	ProviderAnthropic: {
		"claude_sonnet_4":   "claude-sonnet-4-20250514",
		"claude_opus_4":     "claude-opus-4-20250514",
		"claude_3_5_haiku":  "claude-3-5-haiku-20241022",
		"claude_3_7_sonnet": "claude-3-7-sonnet-20250219",
	},
}

// Model represents a model provider configuration
type Model struct {
	Name          string   `hcl:"name,label"`
	Provider      Provider `hcl:"provider"`
	AllowedModels []string `hcl:"allowed_models"`
	APIKey        string   `hcl:"api_key"`
}

func (m *Model) Validate() error {
	supportedForProvider, ok := SupportedModels[m.Provider]
	if !ok {
		return fmt.Errorf("unsupported provider '%s'", m.Provider)
	}
	if len(m.AllowedModels) == 0 {
		return fmt.Errorf("allowed_models must list at least one model")
	}

	for _, modelName := range m.AllowedModels {
		if _, found := supportedForProvider[modelName]; !found {
			return fmt.Errorf("model '%s' is not supported for provider '%s'. Supported models: %v", modelName, m.Provider, getKeys(supportedForProvider))
		}
	}
	return nil
}

// APIModels maps each allowed model key to the name sent to the API.
func (m *Model) APIModels() map[string]string {
	out := make(map[string]string, len(m.AllowedModels))
	for _, key := range m.AllowedModels {
		if api, ok := SupportedModels[m.Provider][key]; ok {
			out[key] = api
		}
	}
	return out
}

func splitModelRef(ref string) (block, key string, err error) {
	block, key, ok := strings.Cut(ref, ".")
	if !ok || block == "" || key == "" {
		return "", "", fmt.Errorf("invalid model reference '%s': want models.<block>.<model>", ref)
	}
	return block, key, nil
}

func getKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
