package relay

import (
	"flag"

	"github.com/zachfi/zkit/pkg/util"
)

const (
	defaultListenAddress = "127.0.0.1"
	defaultListenPort    = 5030
	// Large enough for any RTP packet on a loopback interface.
	defaultMaxPacketSize = 1500
)

type Config struct {
	ListenAddress string `yaml:"listen-address,omitempty"`
	ListenPort    int    `yaml:"listen-port,omitempty"`
	MaxPacketSize int    `yaml:"max-packet-size,omitempty"`
	LogPackets    bool   `yaml:"log-packets,omitempty"` // debug log every datagram
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.ListenAddress, util.PrefixConfig(prefix, "listen-address"), defaultListenAddress, "Address the RTP relay binds to.")
	f.IntVar(&cfg.ListenPort, util.PrefixConfig(prefix, "listen-port"), defaultListenPort, "UDP port the transcoder sends RTP packets to.")
	f.IntVar(&cfg.MaxPacketSize, util.PrefixConfig(prefix, "max-packet-size"), defaultMaxPacketSize, "Largest datagram the relay accepts.")
	f.BoolVar(&cfg.LogPackets, util.PrefixConfig(prefix, "log-packets"), false, "Log size and sender of every received packet at debug level.")
}
