// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/strouter/internal/addr"
)

// GlobalConfig maps to the `router:` root key in YAML.
type GlobalConfig struct {
	Node           NodeConfig           `mapstructure:"node"`
	Control        ControlConfig        `mapstructure:"control"`
	Log            LogConfig            `mapstructure:"log"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	ARP            ARPConfig            `mapstructure:"arp"`
	Interfaces     []InterfaceConfig    `mapstructure:"interfaces"`
	Wiring         []string             `mapstructure:"wiring"` // empty = one standard stack per interface
	Routes         []RouteConfig        `mapstructure:"routes"`
	Proxies        []ProxyConfig        `mapstructure:"proxies"`
	CommandChannel CommandChannelConfig `mapstructure:"command_channel"`
	Events         EventsConfig         `mapstructure:"events"`
}

// ─── Node Identity ───

type NodeConfig struct {
	Hostname string `mapstructure:"hostname"` // Empty = os.Hostname()
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket          string        `mapstructure:"socket"`
	PIDFile         string        `mapstructure:"pid_file"`
	MaxRequestBytes int           `mapstructure:"max_request_bytes"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"` // 0 keeps idle connections open
}

// ─── Router ───

// ARPConfig tunes the resolution engine timers.
type ARPConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	AgingTimeout    time.Duration `mapstructure:"aging_timeout"`
	AnnounceOnStart bool          `mapstructure:"announce_on_start"`
}

// InterfaceConfig binds one router interface (instance number) to a device.
// MAC and IP may be left empty to read them from the device.
type InterfaceConfig struct {
	Number      int             `mapstructure:"number"`
	Device      string          `mapstructure:"device"`
	MAC         string          `mapstructure:"mac"`
	IP          string          `mapstructure:"ip"`
	Transport   TransportConfig `mapstructure:"transport"`
	CaptureFile string          `mapstructure:"capture_file"` // pcap recording of rx/tx frames
}

// TransportConfig selects the frame transport. Options are decoded by the
// transport itself.
type TransportConfig struct {
	Type    string                 `mapstructure:"type"` // afpacket | pcap
	Options map[string]interface{} `mapstructure:"options"`
}

// RouteConfig is a static route. Flags is any combination of U (up),
// G (gateway) and H (host).
type RouteConfig struct {
	Destination string `mapstructure:"destination"`
	Netmask     string `mapstructure:"netmask"`
	Gateway     string `mapstructure:"gateway"`
	Flags       string `mapstructure:"flags"`
	Interface   string `mapstructure:"interface"`
	Metric      int    `mapstructure:"metric"`
}

// ProxyConfig answers ARP for IP with MAC on Interface.
type ProxyConfig struct {
	IP        string `mapstructure:"ip"`
	MAC       string `mapstructure:"mac"`
	Interface string `mapstructure:"interface"`
}

// ─── Command Channel ───

// CommandChannelConfig configures the remote command channel.
type CommandChannelConfig struct {
	Enabled    bool               `mapstructure:"enabled"`
	Type       string             `mapstructure:"type"` // "kafka"
	Kafka      CommandKafkaConfig `mapstructure:"kafka"`
	CommandTTL string             `mapstructure:"command_ttl"` // Default "5m"
}

type CommandKafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	Topic           string   `mapstructure:"topic"`
	GroupID         string   `mapstructure:"group_id"`
	AutoOffsetReset string   `mapstructure:"auto_offset_reset"`
}

// ─── Events ───

// EventsConfig sizes the change event bus and its optional Kafka sink.
type EventsConfig struct {
	Partitions int               `mapstructure:"partitions"`
	QueueSize  int               `mapstructure:"queue_size"`
	Kafka      EventsKafkaConfig `mapstructure:"kafka"`
}

type EventsKafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

type LogConfig struct {
	Level        string           `mapstructure:"level"`  // trace / debug / info / warn / error
	Format       string           `mapstructure:"format"` // json / text / pattern
	Pattern      string           `mapstructure:"pattern"`
	TimeFormat   string           `mapstructure:"time_format"`
	ReportCaller bool             `mapstructure:"report_caller"`
	Outputs      LogOutputsConfig `mapstructure:"outputs"`
}

type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

type configRoot struct {
	Router GlobalConfig `mapstructure:"router"`
}

// Load reads path. Environment variables override file values through the
// key replacer, e.g. ROUTER_LOG_LEVEL for router.log.level.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Router

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("router.control.pid_file", "/var/run/strouter.pid")
	v.SetDefault("router.control.socket", "/var/run/strouter.sock")
	v.SetDefault("router.control.max_request_bytes", 1<<20)
	v.SetDefault("router.control.idle_timeout", "5m")

	v.SetDefault("router.log.level", "info")
	v.SetDefault("router.log.format", "text")
	v.SetDefault("router.log.outputs.file.enabled", false)
	v.SetDefault("router.log.outputs.file.path", "/var/log/strouter/strouter.log")
	v.SetDefault("router.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("router.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("router.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("router.log.outputs.file.rotation.compress", true)

	v.SetDefault("router.metrics.enabled", true)
	v.SetDefault("router.metrics.listen", ":9092")
	v.SetDefault("router.metrics.path", "/metrics")

	v.SetDefault("router.arp.request_timeout", "3m")
	v.SetDefault("router.arp.aging_timeout", "20m")
	v.SetDefault("router.arp.announce_on_start", true)

	v.SetDefault("router.command_channel.enabled", false)
	v.SetDefault("router.command_channel.type", "kafka")
	v.SetDefault("router.command_channel.kafka.auto_offset_reset", "latest")
	v.SetDefault("router.command_channel.command_ttl", "5m")

	v.SetDefault("router.events.partitions", 4)
	v.SetDefault("router.events.queue_size", 1024)
	v.SetDefault("router.events.kafka.enabled", false)
	v.SetDefault("router.events.kafka.batch_timeout", "100ms")
}

// ValidateAndApplyDefaults checks every address, flag and cross reference so
// the router can assume a consistent configuration.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" && cfg.Log.Format != "pattern" {
		return fmt.Errorf("invalid log format: %s (must be json/text/pattern)", cfg.Log.Format)
	}

	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	if cfg.Control.MaxRequestBytes == 0 {
		cfg.Control.MaxRequestBytes = 1 << 20
	}
	if cfg.Control.MaxRequestBytes < 4096 {
		return fmt.Errorf("control.max_request_bytes must be at least 4096")
	}
	if cfg.Control.IdleTimeout < 0 {
		return fmt.Errorf("control.idle_timeout must not be negative")
	}

	if cfg.ARP.RequestTimeout <= 0 {
		return fmt.Errorf("arp.request_timeout must be positive")
	}
	if cfg.ARP.AgingTimeout <= 0 {
		return fmt.Errorf("arp.aging_timeout must be positive")
	}

	devices := make(map[string]bool)
	numbers := make(map[int]bool)
	for i := range cfg.Interfaces {
		ic := &cfg.Interfaces[i]
		if ic.Number < 0 {
			return fmt.Errorf("interfaces[%d]: number must not be negative", i)
		}
		if numbers[ic.Number] {
			return fmt.Errorf("interfaces[%d]: duplicate number %d", i, ic.Number)
		}
		numbers[ic.Number] = true
		if ic.Device == "" {
			return fmt.Errorf("interfaces[%d]: device is required", i)
		}
		devices[ic.Device] = true
		if ic.MAC != "" {
			if _, err := addr.ParseLinkAddress(ic.MAC); err != nil {
				return fmt.Errorf("interfaces[%d]: %w", i, err)
			}
		}
		if ic.IP != "" {
			if _, err := addr.ParseNetworkAddress(ic.IP); err != nil {
				return fmt.Errorf("interfaces[%d]: %w", i, err)
			}
		}
		switch ic.Transport.Type {
		case "":
			ic.Transport.Type = "afpacket"
		case "afpacket", "pcap":
		default:
			return fmt.Errorf("interfaces[%d]: unsupported transport type %q (must be afpacket or pcap)", i, ic.Transport.Type)
		}
	}

	for i, rc := range cfg.Routes {
		if err := rc.validate(); err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
		if !devices[rc.Interface] {
			return fmt.Errorf("routes[%d]: interface %q is not configured", i, rc.Interface)
		}
	}

	for i, pc := range cfg.Proxies {
		if _, err := addr.ParseNetworkAddress(pc.IP); err != nil {
			return fmt.Errorf("proxies[%d]: %w", i, err)
		}
		if _, err := addr.ParseLinkAddress(pc.MAC); err != nil {
			return fmt.Errorf("proxies[%d]: %w", i, err)
		}
		if !devices[pc.Interface] {
			return fmt.Errorf("proxies[%d]: interface %q is not configured", i, pc.Interface)
		}
	}

	if cfg.CommandChannel.Enabled {
		if cfg.CommandChannel.Type != "kafka" {
			return fmt.Errorf("unsupported command_channel.type: %s (only 'kafka' supported)", cfg.CommandChannel.Type)
		}
		if len(cfg.CommandChannel.Kafka.Brokers) == 0 {
			return fmt.Errorf("command_channel.kafka.brokers is required when command_channel.enabled=true")
		}
		if cfg.CommandChannel.Kafka.Topic == "" {
			return fmt.Errorf("command_channel.kafka.topic is required when command_channel.enabled=true")
		}
		if cfg.CommandChannel.Kafka.GroupID == "" {
			cfg.CommandChannel.Kafka.GroupID = "strouter-" + cfg.Node.Hostname
		}
	}

	if cfg.Events.Kafka.Enabled {
		if len(cfg.Events.Kafka.Brokers) == 0 {
			cfg.Events.Kafka.Brokers = cfg.CommandChannel.Kafka.Brokers
		}
		if len(cfg.Events.Kafka.Brokers) == 0 {
			return fmt.Errorf("events.kafka.brokers is required when events.kafka.enabled=true")
		}
		if cfg.Events.Kafka.Topic == "" {
			return fmt.Errorf("events.kafka.topic is required when events.kafka.enabled=true")
		}
	}
	return nil
}

func (rc RouteConfig) validate() error {
	if _, err := addr.ParseNetworkAddress(rc.Destination); err != nil {
		return err
	}
	mask, err := addr.ParseNetworkAddress(rc.Netmask)
	if err != nil {
		return err
	}
	if !mask.IsNetmask() {
		return fmt.Errorf("netmask %s is not contiguous", rc.Netmask)
	}
	if rc.Gateway != "" {
		if _, err := addr.ParseNetworkAddress(rc.Gateway); err != nil {
			return err
		}
	}
	for _, c := range strings.ToUpper(rc.Flags) {
		if c != 'U' && c != 'G' && c != 'H' {
			return fmt.Errorf("unknown route flag %q", c)
		}
	}
	if rc.Interface == "" {
		return fmt.Errorf("interface is required")
	}
	return nil
}
