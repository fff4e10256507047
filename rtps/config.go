package rtps

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

// Well-known port mapping, RTPS 9.6.1.
const (
	portBase       = 7400
	portDomainGain = 250
	portPartGain   = 2
	portD0         = 0 // discovery multicast
	portD1         = 10
	portD2         = 1 // user multicast
	portD3         = 11
)

const defaultMulticastGroup = "239.255.0.1"

// Config carries participant tuning. The zero value is usable; applyDefaults
// fills in anything unset.
type Config struct {
	DomainID uint32 `yaml:"domain_id"`

	// discovery
	AnnounceInterval time.Duration `yaml:"-"`
	LeaseDuration    time.Duration `yaml:"-"`
	SweepInterval    time.Duration `yaml:"-"`
	MulticastGroup   string        `yaml:"multicast_group"`

	// reliability
	HeartbeatInterval time.Duration `yaml:"-"`
	AckNackDelay      time.Duration `yaml:"-"`

	// RelaxDurabilityMatch lets a TRANSIENT_LOCAL reader match a VOLATILE
	// writer; the reader simply gets no old data.
	RelaxDurabilityMatch bool `yaml:"relax_durability_match"`

	// DurablePath enables persistent history for TRANSIENT_LOCAL writers.
	DurablePath string `yaml:"durable_path"`

	Logger     *slog.Logger          `yaml:"-"`
	Registerer prometheus.Registerer `yaml:"-"`
}

func (c *Config) applyDefaults() {
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = time.Second
	}
	if c.LeaseDuration <= 0 {
		// several announcement periods of slack before a peer is declared gone
		c.LeaseDuration = 5 * c.AnnounceInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.AnnounceInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Second
	}
	if c.AckNackDelay < 0 {
		c.AckNackDelay = 0
	} else if c.AckNackDelay == 0 {
		c.AckNackDelay = 10 * time.Millisecond
	}
	if c.MulticastGroup == "" {
		c.MulticastGroup = defaultMulticastGroup
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
}

// discoveryPort is the well-known multicast port for this domain.
func (c *Config) discoveryPort() uint32 {
	return portBase + portDomainGain*c.DomainID + portD0
}

// userMulticastPort is the well-known multicast port for user traffic.
func (c *Config) userMulticastPort() uint32 {
	return portBase + portDomainGain*c.DomainID + portD2
}

// userUnicastPort derives the unicast user-traffic port for a participant id.
func (c *Config) userUnicastPort(participantID uint32) uint32 {
	return portBase + portDomainGain*c.DomainID + portD3 + portPartGain*participantID
}

// discoveryLocator is where announcements are sent.
func (c *Config) discoveryLocator() Locator {
	return NewUDPv4Locator(net.ParseIP(c.MulticastGroup), c.discoveryPort())
}

// configFile is the on-disk schema; durations are strings like "500ms".
type configFile struct {
	DomainID             uint32 `yaml:"domain_id"`
	AnnounceInterval     string `yaml:"announce_interval"`
	LeaseDuration        string `yaml:"lease_duration"`
	SweepInterval        string `yaml:"sweep_interval"`
	HeartbeatInterval    string `yaml:"heartbeat_interval"`
	AckNackDelay         string `yaml:"acknack_delay"`
	MulticastGroup       string `yaml:"multicast_group"`
	RelaxDurabilityMatch bool   `yaml:"relax_durability_match"`
	DurablePath          string `yaml:"durable_path"`
}

// LoadConfig reads a YAML participant configuration.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var f configFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := Config{
		DomainID:             f.DomainID,
		MulticastGroup:       f.MulticastGroup,
		RelaxDurabilityMatch: f.RelaxDurabilityMatch,
		DurablePath:          f.DurablePath,
	}
	durs := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"announce_interval", f.AnnounceInterval, &cfg.AnnounceInterval},
		{"lease_duration", f.LeaseDuration, &cfg.LeaseDuration},
		{"sweep_interval", f.SweepInterval, &cfg.SweepInterval},
		{"heartbeat_interval", f.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"acknack_delay", f.AckNackDelay, &cfg.AckNackDelay},
	}
	for _, d := range durs {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse config %s: %s: %w", path, d.name, err)
		}
		*d.dst = v
	}
	return cfg, nil
}
