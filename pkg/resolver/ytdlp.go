package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

var commandContext = exec.CommandContext

// YTDLP resolves page URLs through the yt-dlp JSON dump.
type YTDLP struct {
	cfg    Config
	logger *slog.Logger
}

func NewYTDLP(cfg Config, logger slog.Logger) *YTDLP {
	if cfg.Binary == "" {
		cfg.Binary = defaultYTDLPBinary
	}
	if cfg.Format == "" {
		cfg.Format = defaultFormat
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &YTDLP{cfg: cfg, logger: logger.With("resolver", KindYTDLP)}
}

type ytdlpInfo struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	IsLive bool   `json:"is_live"`
}

func (y *YTDLP) Resolve(ctx context.Context, url string) (Resolved, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Resolved{}, fmt.Errorf("%w: empty url", ErrResolution)
	}

	ctx, cancel := context.WithTimeout(ctx, y.cfg.Timeout)
	defer cancel()

	args := []string{"--dump-json", "--no-playlist", "--no-warnings", "-f", y.cfg.Format, url}
	cmd := commandContext(ctx, y.cfg.Binary, args...) //nolint:gosec

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		y.logger.Warn("yt-dlp failed", "url", url, "err", err, "stderr", msg)
		if msg != "" {
			return Resolved{}, fmt.Errorf("%w: %s: %w (%s)", ErrResolution, y.cfg.Binary, err, msg)
		}
		return Resolved{}, fmt.Errorf("%w: %s: %w", ErrResolution, y.cfg.Binary, err)
	}

	var info ytdlpInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return Resolved{}, fmt.Errorf("%w: decode yt-dlp output: %w", ErrResolution, err)
	}
	if strings.TrimSpace(info.URL) == "" {
		return Resolved{}, fmt.Errorf("%w: yt-dlp returned no stream url", ErrResolution)
	}

	y.logger.Debug("resolved", "url", url, "title", info.Title, "live", info.IsLive)
	return Resolved{URL: info.URL, Title: info.Title, Live: info.IsLive}, nil
}
