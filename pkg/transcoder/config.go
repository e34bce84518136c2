package transcoder

import (
	"flag"
	"time"

	"github.com/zachfi/zkit/pkg/util"
)

const (
	defaultBinary    = "ffmpeg"
	defaultBitrate   = "48k"
	defaultCodec     = "libopus"
	defaultHost      = "127.0.0.1"
	defaultStopGrace = 2 * time.Second
)

type Config struct {
	Binary    string        `yaml:"binary,omitempty"`
	Bitrate   string        `yaml:"bitrate,omitempty"`    // applied to both -b:a and -maxrate
	Codec     string        `yaml:"codec,omitempty"`      // audio codec for the RTP output
	Host      string        `yaml:"host,omitempty"`       // address the relay listens on
	Realtime  bool          `yaml:"realtime,omitempty"`   // read input at native rate (-re)
	StopGrace time.Duration `yaml:"stop-grace,omitempty"` // wait between interrupt and kill
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Binary, util.PrefixConfig(prefix, "binary"), defaultBinary, "Path to the ffmpeg binary.")
	f.StringVar(&cfg.Bitrate, util.PrefixConfig(prefix, "bitrate"), defaultBitrate, "Target and maximum audio bitrate.")
	f.StringVar(&cfg.Codec, util.PrefixConfig(prefix, "codec"), defaultCodec, "Audio codec used for the RTP output.")
	f.StringVar(&cfg.Host, util.PrefixConfig(prefix, "host"), defaultHost, "Host the transcoder sends RTP packets to.")
	f.BoolVar(&cfg.Realtime, util.PrefixConfig(prefix, "realtime"), true, "Read the input at its native frame rate.")
	f.DurationVar(&cfg.StopGrace, util.PrefixConfig(prefix, "stop-grace"), defaultStopGrace,
		"How long a stopped transcoder may take to exit before it is killed.")
}

func (cfg *Config) applyDefaults() {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = defaultBitrate
	}
	if cfg.Codec == "" {
		cfg.Codec = defaultCodec
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
}
