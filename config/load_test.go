package config_test

import (
	"time"

	"cellgrid/config"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config Loading", func() {

	Describe("Load", func() {
		It("routes to a single file", func() {
			_, f := writeFixture("vars.hcl", `variable "x" { default = "val" }`)
			cfg, err := config.Load(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Variables).To(HaveLen(1))
		})

		It("merges every .hcl file in a directory", func() {
			dir := writeFixtures(map[string]string{
				"models.hcl":  fullBaseHCL(),
				"limits.hcl":  `limiter "cells" { width = 8 }`,
				"ignored.txt": `not hcl`,
			})
			cfg, err := config.Load(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Models).To(HaveLen(1))
			Expect(cfg.Limiters).To(HaveLen(1))
		})

		It("returns error for nonexistent path", func() {
			_, err := config.Load("/nonexistent/path/config.hcl")
			Expect(err).To(HaveOccurred())
		})

		It("returns parse error for invalid HCL syntax", func() {
			_, f := writeFixture("bad.hcl", `model { missing label and brace`)
			_, err := config.LoadFile(f)
			Expect(err).To(HaveOccurred())
		})

		It("rejects unknown block types", func() {
			_, f := writeFixture("bad.hcl", `agent "x" {}`)
			_, err := config.LoadFile(f)
			Expect(err).To(HaveOccurred())
		})

		It("rejects a repeated engine block", func() {
			dir := writeFixtures(map[string]string{
				"a.hcl": `engine { iteration_cap = 3 }`,
				"b.hcl": `engine { iteration_cap = 4 }`,
			})
			_, err := config.Load(dir)
			Expect(err).To(MatchError(ContainSubstring("engine block defined 2 times")))
		})
	})

	Describe("defaults", func() {
		It("fills every optional block", func() {
			_, f := writeFixture("config.hcl", fullBaseHCL())
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())

			Expect(cfg.Engine.IterationCap).To(Equal(5))
			Expect(cfg.Engine.Budget()).To(Equal(15 * time.Minute))
			Expect(cfg.Storage.Backend).To(Equal("memory"))
			Expect(cfg.Server.Listen).To(Equal("127.0.0.1:8420"))
			Expect(cfg.Logging.Level).To(Equal("warn"))
			Expect(cfg.Planner).To(BeNil())
			Expect(cfg.Limiter(config.LimiterCells).Width).To(Equal(4))
			Expect(cfg.Limiter(config.LimiterSections).Width).To(Equal(2))
			Expect(cfg.Validate()).To(Succeed())
		})
	})

	Describe("full config", func() {
		hcl := fullBaseHCL() + `
limiter "cells" {
  width         = 8
  queue_timeout = "30s"
}

limiter "sections" {
  width = 1
}

engine {
  iteration_cap = 3
  run_budget    = "2m"
  turn_log_dir  = ".cellgrid/turns"
  http_tool     = true
}

planner {
  model         = models.anthropic.claude_sonnet_4
  default_model = models.anthropic.claude_3_5_haiku
  temperature   = 0.2
  cache_size    = 32
  cache_ttl     = "1h"
}

storage {
  backend = "sqlite"
}

server {
  listen          = ":9000"
  allowed_origins = ["https://grid.example.com"]
}

log {
  level = "debug"
  json  = true
}
`
		It("decodes every block", func() {
			_, f := writeFixture("config.hcl", hcl)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Validate()).To(Succeed())

			cells := cfg.Limiter(config.LimiterCells)
			Expect(cells.Width).To(Equal(8))
			Expect(cells.Timeout()).To(Equal(30 * time.Second))
			Expect(cfg.Limiter(config.LimiterSections).Width).To(Equal(1))

			Expect(cfg.Engine.IterationCap).To(Equal(3))
			Expect(cfg.Engine.Budget()).To(Equal(2 * time.Minute))
			Expect(cfg.Engine.HTTPTool).To(BeTrue())

			Expect(cfg.Planner.Model).To(Equal("anthropic.claude_sonnet_4"))
			Expect(cfg.Planner.DefaultModel).To(Equal("anthropic.claude_3_5_haiku"))
			Expect(cfg.Planner.MaxTokens).To(Equal(4096))
			Expect(cfg.Planner.TTL()).To(Equal(time.Hour))

			Expect(cfg.Storage.Path).To(Equal(".cellgrid/store.db"))
			Expect(cfg.Server.Listen).To(Equal(":9000"))
			Expect(cfg.Logging.JSON).To(BeTrue())
		})
	})

	Describe("Validate", func() {
		validate := func(extra string) error {
			_, f := writeFixture("config.hcl", fullBaseHCL()+extra)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			return cfg.Validate()
		}

		DescribeTable("rejects invalid settings",
			func(extra, message string) {
				err := validate(extra)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring(message))
			},
			Entry("zero-width limiter", `limiter "cells" { width = 0 }`, "limiter 'cells'"),
			Entry("duplicate limiter", `
limiter "cells" { width = 1 }
limiter "cells" { width = 2 }`, "more than once"),
			Entry("bad queue timeout", `limiter "cells" {
  width         = 1
  queue_timeout = "soon"
}`, "queue_timeout"),
			Entry("iteration cap too high", `engine { iteration_cap = 11 }`, "iteration_cap"),
			Entry("bad budget", `engine { run_budget = "-1m" }`, "run_budget"),
			Entry("unknown planner model", `planner { model = "openai.gpt_4o" }`, "unknown model block 'openai'"),
			Entry("disallowed planner model", `planner { model = "anthropic.claude_opus_4" }`, "does not allow"),
			Entry("unknown storage backend", `storage { backend = "redis" }`, "unknown storage backend"),
			Entry("postgres without dsn", `storage { backend = "postgres" }`, "dsn"),
			Entry("unknown log level", `log { level = "loud" }`, "unknown level"),
		)
	})

	Describe("plugins", func() {
		It("parses plugin blocks and warns when the binary is missing", func() {
			_, f := writeFixture("config.hcl", fullBaseHCL()+`
plugin "textstats" {
  path = "/nonexistent/plugin_textstats"

  settings {
    max_matches = 5
    strict      = true
    label       = vars.test_api_key
  }
}
`)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Plugins).To(HaveLen(1))
			Expect(cfg.Plugins[0].Path).To(Equal("/nonexistent/plugin_textstats"))
			Expect(cfg.Plugins[0].Settings).To(HaveKeyWithValue("max_matches", "5"))
			Expect(cfg.Plugins[0].Settings).To(HaveKeyWithValue("strict", "true"))
			Expect(cfg.Plugins[0].Settings).To(HaveKeyWithValue("label", "test-key-123"))
			Expect(cfg.PluginWarnings).To(HaveLen(1))
			Expect(cfg.LoadedPlugins).To(BeEmpty())
		})

		It("does not start plugins when asked not to", func() {
			_, f := writeFixture("config.hcl", `plugin "p" { path = "/nonexistent/p" }`)
			cfg, err := config.LoadWithOptions(f, config.Options{SkipPlugins: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.PluginWarnings).To(BeEmpty())
		})

		DescribeTable("Validate",
			func(p config.Plugin, message string) {
				err := p.Validate()
				if message == "" {
					Expect(err).NotTo(HaveOccurred())
					return
				}
				Expect(err).To(MatchError(ContainSubstring(message)))
			},
			Entry("path only", config.Plugin{Name: "p", Path: "./bin/p"}, ""),
			Entry("source and version", config.Plugin{Name: "p", Source: "github.com/x/p", Version: "v1.2.3"}, ""),
			Entry("local version", config.Plugin{Name: "p", Source: "github.com/x/p", Version: "local"}, ""),
			Entry("reserved name", config.Plugin{Name: "builtin", Path: "./p"}, "reserved"),
			Entry("nothing to start", config.Plugin{Name: "p"}, "needs a path"),
			Entry("missing version", config.Plugin{Name: "p", Source: "github.com/x/p"}, "version is required"),
			Entry("bad version", config.Plugin{Name: "p", Source: "github.com/x/p", Version: "latest"}, "invalid version"),
		)
	})
})
