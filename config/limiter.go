package config

import (
	"fmt"
	"time"
)

// Limiter names the engine uses.
const (
	LimiterCells    = "cells"
	LimiterSections = "sections"
)

// DefaultLimiterWidths apply when a limiter block is missing.
var DefaultLimiterWidths = map[string]int{
	LimiterCells:    4,
	LimiterSections: 2,
}

// Limiter bounds how many agent runs one surface may have in flight.
type Limiter struct {
	Name  string `hcl:"name,label"`
	Width int    `hcl:"width"`
	// QueueTimeout bounds how long a task may wait for a slot ("30s").
	QueueTimeout string `hcl:"queue_timeout,optional"`
}

func (l *Limiter) Validate() error {
	if l.Width < 1 {
		return fmt.Errorf("width must be at least 1, got %d", l.Width)
	}
	if _, err := l.Timeout(); err != nil {
		return err
	}
	return nil
}

// Timeout parses QueueTimeout; zero means wait as long as the caller's
// context allows.
func (l *Limiter) Timeout() (time.Duration, error) {
	if l.QueueTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(l.QueueTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid queue_timeout '%s': %w", l.QueueTimeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("queue_timeout must not be negative")
	}
	return d, nil
}

// Limiter returns the named limiter block, or one with the default width.
func (c *Config) Limiter(name string) Limiter {
	for _, l := range c.Limiters {
		if l.Name == name {
			return l
		}
	}
	width := DefaultLimiterWidths[name]
	if width == 0 {
		width = 1
	}
	return Limiter{Name: name, Width: width}
}
