package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is wrapped by UpdateConfig validation failures.
var ErrInvalidConfig = errors.New("invalid stream config")

// Config holds the runtime options of a Stream.
type Config struct {
	Enabled                 bool
	BufferSize              int
	FlushInterval           time.Duration
	MaxContextAge           time.Duration
	EnableRealtime          bool
	EnableContextualization bool
	MaxEventsPerContext     int
	RelevanceThreshold      float64
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		BufferSize:              100,
		FlushInterval:           time.Second,
		MaxContextAge:           30 * time.Minute,
		EnableRealtime:          true,
		EnableContextualization: true,
		MaxEventsPerContext:     100,
		RelevanceThreshold:      0.1,
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch {
	case c.BufferSize <= 0:
		return fmt.Errorf("%w: buffer_size must be positive", ErrInvalidConfig)
	case c.FlushInterval <= 0:
		return fmt.Errorf("%w: flush_interval_ms must be positive", ErrInvalidConfig)
	case c.MaxContextAge <= 0:
		return fmt.Errorf("%w: max_context_age_ms must be positive", ErrInvalidConfig)
	case c.MaxEventsPerContext <= 0:
		return fmt.Errorf("%w: max_events_per_context must be positive", ErrInvalidConfig)
	case c.RelevanceThreshold < 0 || c.RelevanceThreshold > 1:
		return fmt.Errorf("%w: relevance_threshold must be within [0,1]", ErrInvalidConfig)
	}
	return nil
}

type configJSON struct {
	Enabled                 bool    `json:"enabled"`
	BufferSize              int     `json:"buffer_size"`
	FlushIntervalMS         int64   `json:"flush_interval_ms"`
	MaxContextAgeMS         int64   `json:"max_context_age_ms"`
	EnableRealtime          bool    `json:"enable_realtime"`
	EnableContextualization bool    `json:"enable_contextualization"`
	MaxEventsPerContext     int     `json:"max_events_per_context"`
	RelevanceThreshold      float64 `json:"relevance_threshold"`
}

// MarshalJSON encodes durations as milliseconds.
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(configJSON{
		Enabled:                 c.Enabled,
		BufferSize:              c.BufferSize,
		FlushIntervalMS:         c.FlushInterval.Milliseconds(),
		MaxContextAgeMS:         c.MaxContextAge.Milliseconds(),
		EnableRealtime:          c.EnableRealtime,
		EnableContextualization: c.EnableContextualization,
		MaxEventsPerContext:     c.MaxEventsPerContext,
		RelevanceThreshold:      c.RelevanceThreshold,
	})
}

// ConfigPatch is a partial update. Nil fields are left unchanged.
type ConfigPatch struct {
	Enabled                 *bool    `json:"enabled,omitempty"`
	BufferSize              *int     `json:"buffer_size,omitempty"`
	FlushIntervalMS         *int64   `json:"flush_interval_ms,omitempty"`
	MaxContextAgeMS         *int64   `json:"max_context_age_ms,omitempty"`
	EnableRealtime          *bool    `json:"enable_realtime,omitempty"`
	EnableContextualization *bool    `json:"enable_contextualization,omitempty"`
	MaxEventsPerContext     *int     `json:"max_events_per_context,omitempty"`
	RelevanceThreshold      *float64 `json:"relevance_threshold,omitempty"`
}

// Apply returns c with the patch applied.
func (p ConfigPatch) Apply(c Config) Config {
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.BufferSize != nil {
		c.BufferSize = *p.BufferSize
	}
	if p.FlushIntervalMS != nil {
		c.FlushInterval = time.Duration(*p.FlushIntervalMS) * time.Millisecond
	}
	if p.MaxContextAgeMS != nil {
		c.MaxContextAge = time.Duration(*p.MaxContextAgeMS) * time.Millisecond
	}
	if p.EnableRealtime != nil {
		c.EnableRealtime = *p.EnableRealtime
	}
	if p.EnableContextualization != nil {
		c.EnableContextualization = *p.EnableContextualization
	}
	if p.MaxEventsPerContext != nil {
		c.MaxEventsPerContext = *p.MaxEventsPerContext
	}
	if p.RelevanceThreshold != nil {
		c.RelevanceThreshold = *p.RelevanceThreshold
	}
	return c
}
