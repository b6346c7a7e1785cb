package config_test

import (
	"context"

	"cellgrid/config"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Model", func() {

	Describe("parsing", func() {
		It("parses a model with valid provider and models", func() {
			_, f := writeFixture("config.hcl", fullBaseHCL())
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Models).To(HaveLen(1))
			Expect(cfg.Models[0].Name).To(Equal("anthropic"))
			Expect(cfg.Models[0].Provider).To(Equal(config.ProviderAnthropic))
			Expect(cfg.Models[0].AllowedModels).To(ConsistOf("claude_sonnet_4", "claude_3_5_haiku"))
			Expect(cfg.Models[0].APIKey).To(Equal("test-key-123"))
		})

		It("parses models for all three providers", func() {
			hcl := `
variable "key" { default = "k" }
model "openai" {
  provider       = "openai"
  allowed_models = ["gpt_4o"]
  api_key        = vars.key
}
model "gemini" {
  provider       = "gemini"
  allowed_models = ["gemini_2_0_flash"]
  api_key        = vars.key
}
model "anthropic" {
  provider       = "anthropic"
  allowed_models = ["claude_sonnet_4"]
  api_key        = vars.key
}
`
			_, f := writeFixture("config.hcl", hcl)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Models).To(HaveLen(3))
			Expect(cfg.Validate()).To(Succeed())
		})

		It("fails on an undefined variable reference", func() {
			hcl := `
model "test" {
  provider       = "openai"
  allowed_models = ["gpt_4o"]
  api_key        = vars.missing
}
`
			_, f := writeFixture("config.hcl", hcl)
			_, err := config.LoadFile(f)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("model 'test'"))
		})
	})

	Describe("Validate", func() {
		It("rejects unsupported provider", func() {
			m := config.Model{Name: "bad", Provider: "llama", AllowedModels: []string{"llama_7b"}}
			Expect(m.Validate()).To(MatchError(ContainSubstring("unsupported provider")))
		})

		It("rejects a model the provider does not offer", func() {
			m := config.Model{Name: "a", Provider: config.ProviderAnthropic, AllowedModels: []string{"gpt_4o"}}
			err := m.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("gpt_4o"))
			Expect(err.Error()).To(ContainSubstring("claude_sonnet_4"))
		})

		It("rejects an empty model list", func() {
			m := config.Model{Name: "a", Provider: config.ProviderOpenAI}
			Expect(m.Validate()).To(HaveOccurred())
		})
	})

	Describe("APIModels", func() {
		It("maps keys to API names", func() {
			m := config.Model{Provider: config.ProviderAnthropic, AllowedModels: []string{"claude_sonnet_4"}}
			Expect(m.APIModels()).To(Equal(map[string]string{"claude_sonnet_4": "claude-sonnet-4-20250514"}))
		})
	})

	Describe("ModelRegistry", func() {
		It("resolves every allowed model", func() {
			_, f := writeFixture("config.hcl", fullBaseHCL())
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())

			reg, err := cfg.ModelRegistry(context.Background())
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(reg.Close)

			_, api, err := reg.Resolve("anthropic", "claude_3_5_haiku")
			Expect(err).NotTo(HaveOccurred())
			Expect(api).To(Equal("claude-3-5-haiku-20241022"))

			_, _, err = reg.Resolve("anthropic", "claude_opus_4")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("pricing", func() {
		It("prices cells by their model block", func() {
			_, f := writeFixture("config.hcl", fullBaseHCL())
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())

			cost := cfg.CellCost(taskModel("anthropic", "claude_sonnet_4"), taskUsage(1_000_000, 100_000))
			Expect(cost).To(BeNumerically("~", 4.5, 0.0001))
			Expect(config.CalculateCost("unknown-model", 1000, 1000)).To(BeZero())
		})
	})
})
