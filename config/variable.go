package config

import (
	"fmt"
	"regexp"
)

// Variable is a `variable "name" {}` block. Its value is referenced as
// vars.<name> from the other blocks.
type Variable struct {
	Name    string `hcl:"name,label"`
	Default string `hcl:"default,optional"`
	Secret  bool   `hcl:"secret,optional"`
}

var variableNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (v *Variable) Validate() error {
	if !variableNameRegex.MatchString(v.Name) {
		return fmt.Errorf("variable name '%s' must be a valid identifier", v.Name)
	}
	if v.Secret && v.Default != "" {
		return fmt.Errorf("secret variable '%s' cannot have a default; set it with 'cellgrid vars set' or %s%s", v.Name, VarEnvPrefix, v.Name)
	}
	return nil
}
