package config

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"
)

type LoggingConfig struct {
	Level string `hcl:"level,optional"`
	JSON  bool   `hcl:"json,optional"`
}

// Defaults fills in default values for unset fields
func (l *LoggingConfig) Defaults() {
	if l.Level == "" {
		l.Level = "warn"
	}
}

func (l *LoggingConfig) Validate() error {
	if hclog.LevelFromString(l.Level) == hclog.NoLevel {
		return fmt.Errorf("unknown level '%s'", l.Level)
	}
	return nil
}

// NewLogger builds the root logger.
func (l *LoggingConfig) NewLogger(name string, out io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(l.Level),
		JSONFormat: l.JSON,
		Output:     out,
	})
}
