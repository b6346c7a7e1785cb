package config_test

import (
	"os"

	"cellgrid/config"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Variable", func() {

	Describe("parsing", func() {
		It("parses a variable with a default value", func() {
			_, f := writeFixture("vars.hcl", `variable "app_name" { default = "cellgrid" }`)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Variables).To(HaveLen(1))
			Expect(cfg.Variables[0].Name).To(Equal("app_name"))
			Expect(cfg.Variables[0].Default).To(Equal("cellgrid"))
			Expect(cfg.Variables[0].Secret).To(BeFalse())
		})

		It("parses a secret variable without a default", func() {
			_, f := writeFixture("vars.hcl", `variable "api_key" { secret = true }`)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Variables[0].Secret).To(BeTrue())
			Expect(cfg.ResolvedVars["api_key"].AsString()).To(BeEmpty())
		})
	})

	Describe("Validate", func() {
		It("rejects secret variable with a default value", func() {
			hcl := `
variable "bad_secret" {
  secret  = true
  default = "oops"
}
`
			_, f := writeFixture("vars.hcl", hcl)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			err = cfg.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("bad_secret"))
			Expect(err.Error()).To(ContainSubstring("secret"))
		})
	})

	Describe("resolution", func() {
		It("prefers the vars file over the default", func() {
			Expect(config.SetVar("region", "eu")).To(Succeed())
			_, f := writeFixture("vars.hcl", `variable "region" { default = "us" }`)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.ResolvedVars["region"].AsString()).To(Equal("eu"))
		})

		It("prefers the environment over the vars file", func() {
			Expect(config.SetVar("region", "eu")).To(Succeed())
			Expect(os.Setenv(config.VarEnvPrefix+"region", "ap")).To(Succeed())
			DeferCleanup(os.Unsetenv, config.VarEnvPrefix+"region")

			v := config.Variable{Name: "region", Default: "us"}
			Expect(config.ResolveVariableValue(&v)).To(Equal("ap"))
		})
	})

	Describe("vars file", func() {
		It("sets, lists and deletes variables", func() {
			Expect(config.SetVar("b_key", "2")).To(Succeed())
			Expect(config.SetVar("a_key", "x=y")).To(Succeed())

			names, err := config.ListVars()
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(Equal([]string{"a_key", "b_key"}))

			v, err := config.GetVar("a_key")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("x=y"))

			Expect(config.DeleteVar("a_key")).To(Succeed())
			_, err = config.GetVar("a_key")
			Expect(err).To(HaveOccurred())
			Expect(config.DeleteVar("a_key")).To(HaveOccurred())
		})
	})
})
