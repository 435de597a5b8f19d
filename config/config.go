// Package config defines the overlayd command-line surface and the
// validated configuration it produces, in the same urfave/cli flag
// style the teacher's command-line tools use.
package config

import (
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/fieldmesh/overlay/crypto"
)

// NodeType selects which routing role a node runs as.
type NodeType string

const (
	NodeTypeRSU NodeType = "rsu"
	NodeTypeOBU NodeType = "obu"
)

// Config is the validated set of options overlayd needs to start a node.
type Config struct {
	Bind             string
	TapName          string
	IP               string
	MTU              int
	NodeType         NodeType
	HelloHistory     int
	HelloPeriodicity int
	CachedCandidates int
	EnableEncryption bool
	EncryptionKey    []byte
	MetricsAddr      string
	UseSyslog        bool
	LogLevel         string
}

// Flags is the flag set cmd/overlayd registers on its cli.App.
var Flags = []cli.Flag{
	&cli.StringFlag{Name: "bind", Usage: "raw-socket interface name (e.g. eth0)", Required: true},
	&cli.StringFlag{Name: "tap-name", Usage: "tap interface name to create or attach", Value: "tap0"},
	&cli.StringFlag{Name: "ip", Usage: "IP address to assign the tap interface"},
	&cli.IntFlag{Name: "mtu", Usage: "tap MTU override (0 = derive from encryption setting)"},
	&cli.StringFlag{Name: "node-type", Usage: "rsu or obu", Required: true},
	&cli.IntFlag{Name: "hello-history", Usage: "sequence window size", Value: 10},
	&cli.IntFlag{Name: "hello-periodicity", Usage: "RSU heartbeat interval in seconds", Value: 5},
	&cli.IntFlag{Name: "cached-candidates", Usage: "OBU N-best upstream candidates to cache", Value: 3},
	&cli.BoolFlag{Name: "enable-encryption", Usage: "seal Data payloads with a shared AEAD key"},
	&cli.StringFlag{Name: "encryption-key", Usage: "hex-encoded 32-byte AEAD key, required with --enable-encryption"},
	&cli.StringFlag{Name: "metrics-addr", Usage: "address to serve /metrics on (empty disables it)"},
	&cli.BoolFlag{Name: "syslog", Usage: "also log to the local syslog daemon"},
	&cli.StringFlag{Name: "log-level", Usage: "DEBUG, INFO, NOTICE, WARNING, ERROR, or CRITICAL", Value: "INFO"},
}

// FromContext builds and validates a Config from a parsed cli.Context,
// the way node_lib's args/builder validate node construction: an RSU
// with hello_history == 0 is rejected, an OBU accepts it.
func FromContext(c *cli.Context) (*Config, error) {
	nodeType := NodeType(c.String("node-type"))
	if nodeType != NodeTypeRSU && nodeType != NodeTypeOBU {
		return nil, fmt.Errorf("config: node-type must be %q or %q, got %q", NodeTypeRSU, NodeTypeOBU, nodeType)
	}

	history := c.Int("hello-history")
	if nodeType == NodeTypeRSU && history == 0 {
		return nil, fmt.Errorf("config: hello-history must be > 0 for an %s", NodeTypeRSU)
	}

	cfg := &Config{
		Bind:             c.String("bind"),
		TapName:          c.String("tap-name"),
		IP:               c.String("ip"),
		MTU:              c.Int("mtu"),
		NodeType:         nodeType,
		HelloHistory:     history,
		HelloPeriodicity: c.Int("hello-periodicity"),
		CachedCandidates: c.Int("cached-candidates"),
		EnableEncryption: c.Bool("enable-encryption"),
		MetricsAddr:      c.String("metrics-addr"),
		UseSyslog:        c.Bool("syslog"),
		LogLevel:         c.String("log-level"),
	}

	if cfg.EnableEncryption {
		keyHex := c.String("encryption-key")
		if keyHex == "" {
			return nil, fmt.Errorf("config: encryption-key is required when enable-encryption is set")
		}
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("config: encryption-key must be hex-encoded: %w", err)
		}
		if len(key) != crypto.KeySize {
			return nil, fmt.Errorf("config: encryption-key must decode to %d bytes, got %d", crypto.KeySize, len(key))
		}
		cfg.EncryptionKey = key
	}

	if cfg.MTU == 0 {
		cfg.MTU = DefaultMTU(cfg.EnableEncryption)
	}

	return cfg, nil
}

// DefaultMTU matches the spec's encryption-dependent tap MTU default:
// the AEAD overhead must fit under the wire's own MTU, so an
// encryption-enabled tap advertises a smaller MTU to the host kernel.
func DefaultMTU(encryption bool) int {
	if encryption {
		return 1436
	}
	return 1500
}
