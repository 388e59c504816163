// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"firestige.xyz/strouter/internal/command"
	"firestige.xyz/strouter/internal/config"
	"firestige.xyz/strouter/internal/eventbus"
	"firestige.xyz/strouter/internal/log"
	"firestige.xyz/strouter/internal/metrics"
	"firestige.xyz/strouter/internal/router"
)

// Daemon manages the router process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string
	routerOpts []router.Option

	// Core components
	router        *router.Router
	bus           *eventbus.InMemoryEventBus
	kafkaSink     *eventbus.KafkaSink // nil if event export disabled
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	kafkaConsumer *command.KafkaCommandConsumer // nil if command channel disabled
	metricsServer *metrics.Server               // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	reloadMu     sync.Mutex
	shutdownOnce sync.Once
	stopOnce     sync.Once
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	logger       log.Logger
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithRouterOptions passes opts to router.New, e.g. to substitute transports.
func WithRouterOptions(opts ...router.Option) Option {
	return func(d *Daemon) { d.routerOpts = append(d.routerOpts, opts...) }
}

// New loads the configuration. Empty socketPath or pidFile fall back to the
// control section of the configuration.
func New(configPath, socketPath, pidFile string, opts ...Option) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
		logger:       log.ForComponent("daemon"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	if err := log.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	d.logger.WithFields(map[string]interface{}{
		"version":  command.Version,
		"hostname": d.config.Node.Hostname,
		"config":   d.configPath,
		"socket":   d.socketPath,
	}).Info("starting strouter daemon")

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if err := d.startEvents(); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	opts := append([]router.Option{router.WithPublisher(d.bus)}, d.routerOpts...)
	r, err := router.New(d.config, opts...)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}
	d.router = r
	d.router.Start(d.ctx, d.config.ARP.AnnounceOnStart)

	d.cmdHandler = command.NewCommandHandler(d.router, d)
	d.cmdHandler.SetShutdownFunc(func() {
		d.logger.Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})

	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler,
		command.WithMaxRequestBytes(d.config.Control.MaxRequestBytes),
		command.WithIdleTimeout(d.config.Control.IdleTimeout),
	)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			// without the control socket the router cannot be managed
			d.logger.WithError(err).Error("uds server failed")
			d.TriggerShutdown()
		}
	}()

	if d.config.CommandChannel.Enabled && d.config.CommandChannel.Type == "kafka" {
		if err := d.startKafkaConsumer(); err != nil {
			// non-fatal: the socket still works
			d.logger.WithError(err).Error("failed to start kafka consumer")
		}
	}

	d.logger.WithFields(map[string]interface{}{
		"interfaces": len(d.config.Interfaces),
		"routes":     len(d.router.Routes()),
	}).Info("daemon started successfully")
	return nil
}

// Stop performs graceful shutdown of all daemon components. Safe to call
// more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	d.logger.Info("initiating graceful shutdown")

	if d.kafkaConsumer != nil {
		if err := d.kafkaConsumer.Stop(); err != nil {
			d.logger.WithError(err).Error("error stopping kafka consumer")
		}
	}

	if d.udsServer != nil {
		d.udsServer.Stop()
	}

	if d.router != nil {
		if err := d.router.Stop(); err != nil {
			d.logger.WithError(err).Error("error stopping router")
		}
	}

	// the bus drains before the sink closes
	var errs *multierror.Error
	if d.bus != nil {
		errs = multierror.Append(errs, d.bus.Close())
	}
	if d.kafkaSink != nil {
		errs = multierror.Append(errs, d.kafkaSink.Close())
	}
	if err := errs.ErrorOrNil(); err != nil {
		d.logger.WithError(err).Error("error closing event pipeline")
	}

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			d.logger.WithError(err).Error("error stopping metrics server")
		}
		cancel()
	}

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		d.logger.WithError(err).Error("error removing PID file")
	}

	d.logger.Info("daemon stopped gracefully")
	log.Flush()
}

// Run blocks until shutdown is triggered by SIGTERM/SIGINT, the
// daemon_shutdown command or cancellation. SIGHUP reloads the configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	d.logger.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.logger.WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil

			case syscall.SIGHUP:
				d.logger.Info("received reload signal")
				if err := d.Reload(); err != nil {
					d.logger.WithError(err).Error("failed to reload config")
				}
			}

		case <-d.shutdownChan:
			d.logger.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			d.logger.WithError(d.ctx.Err()).Info("context cancelled")
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration file.
// Hot: log level/format, routes, proxy ARP entries.
// Cold (requires restart): interfaces, wiring, node.hostname, listen addresses.
// Implements ConfigReloader for CommandHandler.
func (d *Daemon) Reload() error {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	d.logger.WithField("path", d.configPath).Info("reloading configuration")

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	// the router validates everything before it touches the table
	if err := d.router.Reload(newConfig); err != nil {
		return fmt.Errorf("failed to apply routes: %w", err)
	}

	hotReloaded := []string{"routes", "proxies"}
	if err := log.Init(newConfig.Log); err != nil {
		d.logger.WithError(err).Error("failed to reinitialize logging")
	} else if newConfig.Log.Level != d.config.Log.Level || newConfig.Log.Format != d.config.Log.Format {
		hotReloaded = append(hotReloaded, "log")
	}

	requiresRestart := []string{}
	if newConfig.Node.Hostname != d.config.Node.Hostname {
		requiresRestart = append(requiresRestart, "node.hostname")
	}
	if newConfig.Metrics.Listen != d.config.Metrics.Listen {
		requiresRestart = append(requiresRestart, "metrics.listen")
	}
	if !sameInterfaces(newConfig.Interfaces, d.config.Interfaces) {
		requiresRestart = append(requiresRestart, "interfaces")
	}

	d.config = newConfig
	d.logger.WithFields(map[string]interface{}{
		"hot_reloaded":     hotReloaded,
		"requires_restart": requiresRestart,
	}).Info("configuration reloaded")
	return nil
}

func sameInterfaces(a, b []config.InterfaceConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Number != b[i].Number || a[i].Device != b[i].Device || a[i].MAC != b[i].MAC || a[i].IP != b[i].IP {
			return false
		}
	}
	return true
}

// TriggerShutdown makes Run return. Safe to call more than once.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownChan) })
}

// Router returns the running router, nil before Start.
func (d *Daemon) Router() *router.Router { return d.router }

func (d *Daemon) startEvents() error {
	ec := d.config.Events
	d.bus = eventbus.NewInMemoryEventBus(ec.Partitions, ec.QueueSize)

	logHandler := eventbus.LogHandler(log.ForComponent("events"))
	handlers := []eventbus.Handler{logHandler}
	if ec.Kafka.Enabled {
		sink, err := eventbus.NewKafkaSink(ec.Kafka, d.config.Node.Hostname)
		if err != nil {
			return err
		}
		d.kafkaSink = sink
		handlers = append(handlers, sink.Handle)
	}

	for _, topic := range []string{eventbus.TopicRouteTable, eventbus.TopicARPCache, eventbus.TopicARPProxy} {
		for _, h := range handlers {
			if err := d.bus.Subscribe(topic, h); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Daemon) startKafkaConsumer() error {
	consumer, err := command.NewKafkaCommandConsumer(
		d.config.CommandChannel,
		d.config.Node.Hostname,
		d.cmdHandler,
	)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	d.kafkaConsumer = consumer

	go func() {
		err := consumer.Start(d.ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, command.ErrConsumerStopped) {
			d.logger.WithError(err).Error("kafka consumer stopped with error")
		}
	}()
	return nil
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		d.logger.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		return err
	}
	d.logger.WithFields(map[string]interface{}{
		"addr": d.metricsServer.Addr(),
		"path": d.config.Metrics.Path,
	}).Info("metrics server started")
	return nil
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	d.logger.WithFields(map[string]interface{}{"path": d.pidFile, "pid": pid}).Debug("PID file written")
	return nil
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
