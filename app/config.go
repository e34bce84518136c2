package app

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/grafana/dskit/flagext"
	"github.com/grafana/dskit/server"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/zachfi/zkit/pkg/tracing"

	"github.com/zachfi/rtpcast/modules/player"
	"github.com/zachfi/rtpcast/modules/relay"
)

type Config struct {
	Target   string         `yaml:"target"`
	LogLevel string         `yaml:"log-level,omitempty"`
	Tracing  tracing.Config `yaml:"tracing,omitempty"`
	Server   server.Config  `yaml:"server,omitempty"`
	Relay    relay.Config   `yaml:"relay,omitempty"`
	Player   player.Config  `yaml:"player,omitempty"`
}

// LoadConfig overlays the YAML file at path onto config. Keys that do not
// map to a field are an error.
func LoadConfig(path string, config *Config) error {
	filename, _ := filepath.Abs(path)

	buff, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}

	if err := yaml.UnmarshalStrict(buff, config); err != nil {
		return errors.Wrapf(err, "failed to parse config file %s", path)
	}

	return nil
}

func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.Target, "target", All, "Module to run.")
	f.StringVar(&c.LogLevel, "log.level", "info", "Log level: debug, info, warn or error.")

	flagext.DefaultValues(&c.Server)
	f.IntVar(&c.Server.HTTPListenPort, "server.http-listen-port", 3030, "HTTP server listen port.")
	f.IntVar(&c.Server.GRPCListenPort, "server.grpc-listen-port", 9090, "gRPC server listen port.")

	c.Tracing.RegisterFlagsAndApplyDefaults("tracing", f)
	c.Relay.RegisterFlagsAndApplyDefaults("relay", f)
	c.Player.RegisterFlagsAndApplyDefaults("player", f)
}
