package player

import (
	"flag"
	"time"

	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/rtpcast/pkg/progress"
	"github.com/zachfi/rtpcast/pkg/resolver"
	"github.com/zachfi/rtpcast/pkg/transcoder"
)

const (
	defaultHandoverTimeout = 5 * time.Second
	// Position within this distance of a known duration counts as the end.
	defaultEndTolerance = time.Second
)

type Config struct {
	QuietPeriod     time.Duration     `yaml:"quiet-period,omitempty"`     // diagnostic silence before completion is inferred
	HandoverTimeout time.Duration     `yaml:"handover-timeout,omitempty"` // wait for the previous transcoder to exit
	EndTolerance    time.Duration     `yaml:"end-tolerance,omitempty"`
	TrackID         string            `yaml:"track-id,omitempty"`
	StreamID        string            `yaml:"stream-id,omitempty"`
	Transcoder      transcoder.Config `yaml:"transcoder,omitempty"`
	Resolver        resolver.Config   `yaml:"resolver,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.QuietPeriod, util.PrefixConfig(prefix, "quiet-period"), progress.DefaultQuietPeriod,
		"How long the transcoder may stay silent after a progress report before playback of a finite source is considered finished.")
	f.DurationVar(&cfg.HandoverTimeout, util.PrefixConfig(prefix, "handover-timeout"), defaultHandoverTimeout,
		"Maximum wait for the previous transcoder to exit before a new one is started.")
	f.DurationVar(&cfg.EndTolerance, util.PrefixConfig(prefix, "end-tolerance"), defaultEndTolerance,
		"Distance from the known duration at which a quiet transcoder is considered finished.")
	f.StringVar(&cfg.TrackID, util.PrefixConfig(prefix, "track-id"), "audio", "ID of the local media track.")
	f.StringVar(&cfg.StreamID, util.PrefixConfig(prefix, "stream-id"), "rtpcast", "Stream ID of the local media track.")

	cfg.Transcoder.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "transcoder"), f)
	cfg.Resolver.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "resolver"), f)
}

func (cfg *Config) applyDefaults() {
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = progress.DefaultQuietPeriod
	}
	if cfg.HandoverTimeout <= 0 {
		cfg.HandoverTimeout = defaultHandoverTimeout
	}
	if cfg.EndTolerance <= 0 {
		cfg.EndTolerance = defaultEndTolerance
	}
}
