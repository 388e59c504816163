package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
router:
  node:
    hostname: edge-01
  control:
    socket: /tmp/strouter-test.sock
  log:
    level: debug
    format: pattern
  arp:
    request_timeout: 30s
  interfaces:
    - number: 0
      device: eth0
      mac: "02:00:00:00:00:01"
      ip: 192.168.1.1
    - number: 1
      device: eth1
      ip: 10.0.0.1
      transport:
        type: pcap
        options:
          snap_len: 2048
  routes:
    - destination: 192.168.1.0
      netmask: 255.255.255.0
      flags: U
      interface: eth0
    - destination: 0.0.0.0
      netmask: 0.0.0.0
      gateway: 10.0.0.254
      flags: UG
      interface: eth1
      metric: 1
  proxies:
    - ip: 192.168.1.50
      mac: "02:00:00:00:00:01"
      interface: eth0
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "edge-01", cfg.Node.Hostname)
	assert.Equal(t, "/tmp/strouter-test.sock", cfg.Control.Socket)
	assert.Equal(t, "/var/run/strouter.pid", cfg.Control.PIDFile)
	assert.Equal(t, 1<<20, cfg.Control.MaxRequestBytes)
	assert.Equal(t, 5*time.Minute, cfg.Control.IdleTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "pattern", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.ARP.RequestTimeout)
	assert.Equal(t, 20*time.Minute, cfg.ARP.AgingTimeout)
	assert.True(t, cfg.ARP.AnnounceOnStart)

	require.Len(t, cfg.Interfaces, 2)
	assert.Equal(t, "afpacket", cfg.Interfaces[0].Transport.Type)
	assert.Equal(t, "pcap", cfg.Interfaces[1].Transport.Type)
	assert.EqualValues(t, 2048, cfg.Interfaces[1].Transport.Options["snap_len"])
	assert.Empty(t, cfg.Interfaces[1].MAC)

	require.Len(t, cfg.Routes, 2)
	assert.Equal(t, "UG", cfg.Routes[1].Flags)
	assert.Equal(t, 1, cfg.Routes[1].Metric)
	require.Len(t, cfg.Proxies, 1)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 4, cfg.Events.Partitions)
	assert.False(t, cfg.CommandChannel.Enabled)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ROUTER_LOG_LEVEL", "warn")
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func validConfig() GlobalConfig {
	return GlobalConfig{
		Node: NodeConfig{Hostname: "n"},
		Log:  LogConfig{Level: "info", Format: "text"},
		ARP:  ARPConfig{RequestTimeout: time.Minute, AgingTimeout: time.Minute},
		Interfaces: []InterfaceConfig{
			{Number: 0, Device: "eth0", IP: "192.168.1.1"},
		},
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *GlobalConfig){
		"log level":        func(c *GlobalConfig) { c.Log.Level = "verbose" },
		"log format":       func(c *GlobalConfig) { c.Log.Format = "xml" },
		"request timeout":  func(c *GlobalConfig) { c.ARP.RequestTimeout = 0 },
		"small request":    func(c *GlobalConfig) { c.Control.MaxRequestBytes = 512 },
		"idle timeout":     func(c *GlobalConfig) { c.Control.IdleTimeout = -time.Second },
		"duplicate number": func(c *GlobalConfig) { c.Interfaces = append(c.Interfaces, InterfaceConfig{Number: 0, Device: "eth1"}) },
		"missing device":   func(c *GlobalConfig) { c.Interfaces[0].Device = "" },
		"bad mac":          func(c *GlobalConfig) { c.Interfaces[0].MAC = "zz" },
		"bad ip":           func(c *GlobalConfig) { c.Interfaces[0].IP = "1.2.3" },
		"bad transport":    func(c *GlobalConfig) { c.Interfaces[0].Transport.Type = "dpdk" },
		"bad netmask": func(c *GlobalConfig) {
			c.Routes = []RouteConfig{{Destination: "10.0.0.0", Netmask: "255.0.255.0", Flags: "U", Interface: "eth0"}}
		},
		"bad flag": func(c *GlobalConfig) {
			c.Routes = []RouteConfig{{Destination: "10.0.0.0", Netmask: "255.0.0.0", Flags: "UX", Interface: "eth0"}}
		},
		"unknown route interface": func(c *GlobalConfig) {
			c.Routes = []RouteConfig{{Destination: "10.0.0.0", Netmask: "255.0.0.0", Flags: "U", Interface: "eth9"}}
		},
		"bad proxy": func(c *GlobalConfig) {
			c.Proxies = []ProxyConfig{{IP: "10.0.0.9", MAC: "nope", Interface: "eth0"}}
		},
		"command channel without brokers": func(c *GlobalConfig) {
			c.CommandChannel = CommandChannelConfig{Enabled: true, Type: "kafka", Kafka: CommandKafkaConfig{Topic: "t"}}
		},
		"events without topic": func(c *GlobalConfig) {
			c.Events.Kafka = EventsKafkaConfig{Enabled: true, Brokers: []string{"b:9092"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.Error(t, cfg.ValidateAndApplyDefaults())
		})
	}
}

func TestValidateAppliesDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.CommandChannel = CommandChannelConfig{Enabled: true, Type: "kafka", Kafka: CommandKafkaConfig{Brokers: []string{"k:9092"}, Topic: "cmd"}}
	cfg.Events.Kafka = EventsKafkaConfig{Enabled: true, Topic: "events"}
	require.NoError(t, cfg.ValidateAndApplyDefaults())
	assert.Equal(t, "strouter-n", cfg.CommandChannel.Kafka.GroupID)
	assert.Equal(t, []string{"k:9092"}, cfg.Events.Kafka.Brokers)
	assert.Equal(t, "afpacket", cfg.Interfaces[0].Transport.Type)
	assert.Equal(t, 1<<20, cfg.Control.MaxRequestBytes)
}
