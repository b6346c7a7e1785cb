package config_test

import (
	"os"

	"cellgrid/config"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Env", func() {
	setenv := func(key, value string) {
		Expect(os.Setenv(key, value)).To(Succeed())
		DeferCleanup(os.Unsetenv, key)
	}

	It("uses defaults when nothing is set", func() {
		env, err := config.LoadEnv()
		Expect(err).NotTo(HaveOccurred())
		Expect(env.ConfigPath).To(Equal("."))
		Expect(env.LogJSON).To(BeNil())
	})

	It("overrides loaded config", func() {
		setenv("CELLGRID_LOG_LEVEL", "trace")
		setenv("CELLGRID_LOG_JSON", "true")
		setenv("CELLGRID_LISTEN", ":7000")
		setenv("CELLGRID_STORAGE_BACKEND", "sqlite")

		env, err := config.LoadEnv()
		Expect(err).NotTo(HaveOccurred())

		_, f := writeFixture("config.hcl", fullBaseHCL())
		cfg, err := config.LoadFile(f)
		Expect(err).NotTo(HaveOccurred())
		cfg.ApplyEnv(env)

		Expect(cfg.Logging.Level).To(Equal("trace"))
		Expect(cfg.Logging.JSON).To(BeTrue())
		Expect(cfg.Server.Listen).To(Equal(":7000"))
		Expect(cfg.Storage.Backend).To(Equal("sqlite"))
		Expect(cfg.Storage.Path).NotTo(BeEmpty())
		Expect(cfg.Validate()).To(Succeed())
	})

	It("reports malformed values", func() {
		setenv("CELLGRID_LOG_JSON", "maybe")
		_, err := config.LoadEnv()
		Expect(err).To(HaveOccurred())
	})
})
