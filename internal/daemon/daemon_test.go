package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/strouter/internal/command"
	"firestige.xyz/strouter/internal/config"
	"firestige.xyz/strouter/internal/router"
	"firestige.xyz/strouter/internal/transport"
)

const baseConfig = `
router:
  node:
    hostname: edge-test-01
  log:
    level: debug
    format: text
  metrics:
    enabled: true
    listen: 127.0.0.1:0
  arp:
    request_timeout: 1m
    aging_timeout: 10m
    announce_on_start: true
  interfaces:
    - number: 0
      device: eth0
      mac: "02:00:00:00:00:01"
      ip: 10.0.0.1
      transport:
        type: afpacket
    - number: 1
      device: eth1
      mac: "02:00:00:00:01:01"
      ip: 192.168.1.1
      transport:
        type: pcap
  routes:
    - destination: 192.168.1.0
      netmask: 255.255.255.0
      flags: U
      interface: eth1
`

const extraRoutes = `  proxies:
    - ip: 10.0.0.77
      mac: "02:00:00:00:00:01"
      interface: eth0
`

type testEnv struct {
	dir        string
	configPath string
	socketPath string
	pidFile    string
	mem        map[int]*transport.Memory
}

func newEnv(t *testing.T, cfg string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "strouter.yml"),
		socketPath: filepath.Join(dir, "strouter.sock"),
		pidFile:    filepath.Join(dir, "strouter.pid"),
		mem:        make(map[int]*transport.Memory),
	}
	env.writeConfig(t, cfg)
	return env
}

func (e *testEnv) writeConfig(t *testing.T, cfg string) {
	t.Helper()
	require.NoError(t, os.WriteFile(e.configPath, []byte(cfg), 0644))
}

func (e *testEnv) newDaemon(t *testing.T) *Daemon {
	t.Helper()
	open := func(ic config.InterfaceConfig) (*transport.Port, error) {
		m := transport.NewMemory(64)
		e.mem[ic.Number] = m
		return transport.NewPort(ic.Number, ic.Device, m, nil), nil
	}
	d, err := New(e.configPath, e.socketPath, e.pidFile,
		WithRouterOptions(router.WithOpener(open), router.WithDiscover(nil)))
	require.NoError(t, err)
	return d
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDaemon_StartStopIntegration(t *testing.T) {
	env := newEnv(t, baseConfig)
	d := env.newDaemon(t)
	require.NoError(t, d.Start())

	data, err := os.ReadFile(env.pidFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))

	pid, ok := Running(env.pidFile)
	assert.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)

	waitForSocket(t, env.socketPath)

	// both interfaces announce themselves on start
	for _, n := range []int{0, 1} {
		m := env.mem[n]
		require.Eventually(t, func() bool { return len(m.Written()) > 0 }, time.Second, 5*time.Millisecond)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run() }()

	client := command.NewUDSClient(env.socketPath, 2*time.Second)
	resp, err := client.Status(context.Background())
	require.NoError(t, err)
	var st command.StatusResult
	require.NoError(t, resp.Decode(&st))
	assert.Len(t, st.Interfaces, 2)
	assert.Equal(t, 1, st.Routes)

	resp, err = client.Shutdown(context.Background())
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}

	_, err = os.Stat(env.pidFile)
	assert.True(t, os.IsNotExist(err), "PID file was not removed")
	_, err = os.Stat(env.socketPath)
	assert.True(t, os.IsNotExist(err), "socket was not removed")

	// Stop after Run is a no-op
	d.Stop()
}

func TestDaemon_Reload(t *testing.T) {
	env := newEnv(t, baseConfig)
	d := env.newDaemon(t)
	require.NoError(t, d.Start())
	t.Cleanup(d.Stop)

	env.writeConfig(t, baseConfig+`    - destination: 0.0.0.0
      netmask: 0.0.0.0
      gateway: 10.0.0.254
      flags: UG
      interface: eth0
`+extraRoutes)
	require.NoError(t, d.Reload())

	routes := d.Router().Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, "10.0.0.254", routes[1].Gateway.String())
	require.Len(t, d.Router().Proxies(), 1)

	// a broken file leaves the running table alone
	env.writeConfig(t, baseConfig+`    - destination: 10.9.0.0
      netmask: 255.0.255.0
      flags: U
      interface: eth0
`)
	assert.Error(t, d.Reload())
	assert.Len(t, d.Router().Routes(), 2)
	assert.Len(t, d.Router().Proxies(), 1)
}

func TestDaemon_ReloadViaCommand(t *testing.T) {
	env := newEnv(t, baseConfig)
	d := env.newDaemon(t)
	require.NoError(t, d.Start())
	t.Cleanup(d.Stop)
	waitForSocket(t, env.socketPath)

	env.writeConfig(t, baseConfig+extraRoutes)
	client := command.NewUDSClient(env.socketPath, 2*time.Second)
	resp, err := client.ConfigReload(context.Background())
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.Len(t, d.Router().Proxies(), 1)
}

func TestNew_InvalidConfig(t *testing.T) {
	env := newEnv(t, "router:\n  log:\n    level: loud\n")
	_, err := New(env.configPath, "", "")
	assert.Error(t, err)

	_, err = New(filepath.Join(env.dir, "missing.yml"), "", "")
	assert.Error(t, err)
}

func TestNew_ControlDefaultsFromConfig(t *testing.T) {
	env := newEnv(t, baseConfig+"  control:\n    socket: /tmp/x.sock\n    pid_file: /tmp/x.pid\n")
	d, err := New(env.configPath, "", "")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.sock", d.socketPath)
	assert.Equal(t, "/tmp/x.pid", d.pidFile)
}

func TestPIDHelpers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.pid")

	_, ok := Running(path)
	assert.False(t, ok)
	assert.ErrorIs(t, Terminate(path, time.Second), ErrNotRunning)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))
	_, err := ReadPIDFile(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	_, ok = Running(path)
	assert.True(t, ok)
}
