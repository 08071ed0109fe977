package app

import (
	"sync/atomic"

	"github.com/MrWong99/captionflow/internal/config"
	"github.com/MrWong99/captionflow/internal/pipeline"
)

// Settings exposes the active configuration to running pipelines. A config
// reload swaps the whole value atomically; readers see either the old or the
// new configuration, never a mix.
type Settings struct {
	cfg atomic.Pointer[config.Config]
}

var _ pipeline.Settings = (*Settings)(nil)

// NewSettings returns settings backed by cfg.
func NewSettings(cfg *config.Config) *Settings {
	s := &Settings{}
	s.cfg.Store(cfg)
	return s
}

// Config returns the active configuration.
func (s *Settings) Config() *config.Config { return s.cfg.Load() }

// Store makes cfg the active configuration.
func (s *Settings) Store(cfg *config.Config) { s.cfg.Store(cfg) }

func (s *Settings) AutoStart() bool        { return s.cfg.Load().Pipeline.AutoStart }
func (s *Settings) AISegmentation() bool   { return s.cfg.Load().Pipeline.AISegmentation }
func (s *Settings) TargetLanguage() string { return s.cfg.Load().Translation.TargetLanguage }
