// Package resolver turns a user supplied source URL into a URL the transcoder
// can read directly.
package resolver

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/zachfi/zkit/pkg/util"
)

// ErrResolution wraps every failure to resolve a URL. Resolution is attempted
// once per call and never retried here.
var ErrResolution = errors.New("resolution failed")

const (
	KindYTDLP    = "ytdlp"
	KindPlaylist = "playlist"

	defaultYTDLPBinary = "yt-dlp"
	defaultFormat      = "bestaudio/best"
	defaultTimeout     = 30 * time.Second
)

// Resolved is a directly streamable media URL.
type Resolved struct {
	URL   string
	Title string
	// Live sources never run out of input, so completion is never inferred for them.
	Live bool
}

type Resolver interface {
	Resolve(ctx context.Context, url string) (Resolved, error)
}

type Config struct {
	Kind    string        `yaml:"kind,omitempty"`
	Binary  string        `yaml:"binary,omitempty"`
	Format  string        `yaml:"format,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Kind, util.PrefixConfig(prefix, "kind"), KindYTDLP, "Resolver used for play-by-URL requests: ytdlp or playlist.")
	f.StringVar(&cfg.Binary, util.PrefixConfig(prefix, "binary"), defaultYTDLPBinary, "Path to the yt-dlp binary.")
	f.StringVar(&cfg.Format, util.PrefixConfig(prefix, "format"), defaultFormat, "yt-dlp format selector.")
	f.DurationVar(&cfg.Timeout, util.PrefixConfig(prefix, "timeout"), defaultTimeout, "Upper bound on a single resolution.")
}

// New returns the resolver selected by cfg.Kind.
func New(cfg Config, logger slog.Logger) (Resolver, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	switch cfg.Kind {
	case "", KindYTDLP:
		return NewYTDLP(cfg, logger), nil
	case KindPlaylist:
		return NewPlaylist(cfg.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown resolver kind %q", cfg.Kind)
	}
}

// Func adapts a function to the Resolver interface.
type Func func(ctx context.Context, url string) (Resolved, error)

func (f Func) Resolve(ctx context.Context, url string) (Resolved, error) {
	return f(ctx, url)
}
