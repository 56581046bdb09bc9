package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stackguard/internal/api"
	"stackguard/internal/config"
	"stackguard/internal/events"
	"stackguard/internal/hw"
	"stackguard/internal/logging"
	"stackguard/internal/metrics"
	"stackguard/internal/mqtt"
	"stackguard/internal/notify"
	"stackguard/internal/rpc"
	"stackguard/internal/security"
	"stackguard/internal/stack"
	"stackguard/internal/storage"
	"stackguard/internal/worker"
)

// shutdownTimeout bounds the graceful HTTP shutdown
const shutdownTimeout = 5 * time.Second

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the unit controller and its HTTP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", config.DefaultAddr, "HTTP listen address")
	flags.String("unit-name", config.DefaultUnitName, "name of this unit")
	flags.String("topology", config.DefaultTopology, "topology file")
	flags.String("state-db", config.DefaultStateDB, "bbolt state database")
	flags.Bool("simulate", false, "use in-memory hardware instead of sysfs")
	flags.String("mqtt-broker", "", "MQTT broker URL (empty disables MQTT)")
	mustBindFlag(v, config.KeyAddr, flags.Lookup("addr"))
	mustBindFlag(v, config.KeyUnitName, flags.Lookup("unit-name"))
	mustBindFlag(v, config.KeyTopology, flags.Lookup("topology"))
	mustBindFlag(v, config.KeyStateDB, flags.Lookup("state-db"))
	mustBindFlag(v, config.KeySimulate, flags.Lookup("simulate"))
	mustBindFlag(v, config.KeyMQTTBroker, flags.Lookup("mqtt-broker"))

	return cmd
}

// serve wires every component and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.LogLevel())
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	topo, err := config.LoadTopology(cfg.TopologyPath())
	if err != nil {
		return err
	}
	unitName := topo.LocalName(cfg.UnitName())

	store, err := storage.NewBoltStorage(cfg.StateDB(), storage.DefaultJournalLimit)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close state database", zap.Error(err))
		}
	}()

	eventLog, err := events.NewJournaledStore(cfg.EventsMax(), store, func(err error) {
		logger.Warn("Event journal write failed", zap.Error(err))
	})
	if err != nil {
		return fmt.Errorf("restore event journal: %w", err)
	}

	gpio, bus := openHardware(cfg, topo, logger)

	m := metrics.New()

	// MQTT is optional; without it notifications go to the log
	var (
		client    *mqtt.Client
		notifier  notify.Notifier = notify.LogNotifier{Logger: logger}
		scenarios security.Scenarios
	)
	if cfg.MQTTEnabled() {
		settings := cfg.MQTT()
		client, err = mqtt.New(mqtt.Config{
			Broker:         settings.Broker,
			ClientID:       settings.ClientID,
			Username:       settings.Username,
			Password:       settings.Password,
			Prefix:         settings.Prefix,
			UseTLS:         settings.UseTLS,
			ConnectTimeout: settings.ConnectTimeout,
		}, logger.Named("mqtt"))
		if err != nil {
			return err
		}
		// notifications are best-effort; paho keeps retrying in the background
		if err := client.Connect(); err != nil {
			logger.Warn("MQTT broker unavailable, continuing without it", zap.Error(err))
		}
		defer client.Disconnect()

		notifier = mqtt.NewNotifier(client, unitName, logger.Named("mqtt"))
		scenarios = mqtt.NewScenarios(client, logger.Named("mqtt"))
	}

	queue := notify.NewQueue(cfg.NotifyQueue(), notifier, logger.Named("notify"))

	buzzer := security.NewBuzzerSiren(gpio, topo.Outputs.Buzzer, logger.Named("siren"))
	defer buzzer.Close()

	ctrl, err := security.New(security.Options{
		UnitName:  unitName,
		Sensors:   topo.SecuritySensors(),
		Keys:      topo.SecurityKeys(),
		Outputs:   topo.SecurityOutputs(),
		Sounds:    topo.SecuritySounds(),
		GPIO:      gpio,
		Siren:     buzzer,
		Persister: store,
		Outbox:    queue,
		Events:    eventLog,
		Logger:    logger.Named("security"),
	})
	if err != nil {
		return err
	}
	if err := ctrl.Restore(store); err != nil {
		return fmt.Errorf("restore controller state: %w", err)
	}

	local := rpc.NewLocalEndpoint(ctrl)
	router := rpc.NewRouter(local, m)
	registry := stack.NewRegistry(unitName, router, eventLog, logger.Named("stack"))
	for _, u := range topo.RemoteUnits() {
		remote := rpc.NewRemoteEndpoint(rpc.UnitURL(u.Address, u.Port), cfg.APIVersion(), cfg.RPCTimeout())
		if err := router.AddRemote(u.ID, remote); err != nil {
			return err
		}
		if err := registry.Register(u); err != nil {
			return err
		}
	}
	reconciler := stack.NewReconciler(registry, router, cfg.ReconcileInterval(), m, logger.Named("stack"))

	m.WatchSecurity(ctrl.Status, ctrl.Alarm)
	m.WatchUnits(registry.ActiveCount)
	m.WatchNotifications(queue.Dropped, queue.Pending)
	if client != nil {
		m.WatchMQTT(client.IsConnected)
	}

	group := worker.NewGroup(logger.Named("worker"))
	tasks := []worker.Task{
		queue,
		security.NewSensorMonitor(ctrl, gpio, security.MonitorOptions{
			Interval: cfg.SensorInterval(),
			Window:   security.WindowTicks,
			Presence: security.PresenceTicks,
		}, logger.Named("sensors")),
		security.NewKeyAuthenticator(ctrl, bus, scenarios, cfg.KeyPollInterval(), cfg.KeyDebounce(), logger.Named("keys")),
		reconciler,
	}

	if client != nil {
		discovery := mqtt.NewDiscoveryManager(client, store, unitName, logger.Named("mqtt"))
		tasks = append(tasks, mqtt.NewStatePublisher(client, ctrl, discovery, cfg.MQTT().PublishInterval, logger.Named("mqtt")))
	} else {
		// a later run with MQTT republishes the discovery configs
		discovery := mqtt.NewDiscoveryManager(nil, store, unitName, logger.Named("mqtt"))
		if err := discovery.Forget(); err != nil {
			logger.Warn("Failed to clear discovery state", zap.Error(err))
		}
	}

	for _, t := range tasks {
		if err := group.Register(t); err != nil {
			return err
		}
	}

	server := api.NewServer(api.Options{
		Version:  cfg.APIVersion(),
		Local:    local,
		Registry: registry,
		Router:   router,
		Events:   eventLog,
		Metrics:  m.Handler(),
		Logger:   logger.Named("api"),
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("Stackguard starting",
		zap.String("version", Version),
		zap.String("unit", unitName),
		zap.String("addr", cfg.Addr()),
		zap.Int("remoteUnits", len(topo.RemoteUnits())),
		zap.Bool("simulate", cfg.Simulate()),
		zap.Bool("mqtt", client != nil))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return group.Run(ctx)
	})
	eg.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = eg.Wait()
	logger.Info("Stackguard stopped")
	return err
}

// openHardware returns the sysfs drivers, or in-memory ones in simulation mode.
func openHardware(cfg *config.Config, topo *config.Topology, logger *zap.Logger) (hw.GPIO, hw.OneWire) {
	if cfg.Simulate() {
		logger.Warn("Simulation mode: sysfs hardware is not used")
		gpio := hw.NewSimGPIO(topo.PinNames()...)
		for _, s := range topo.SecuritySensors() {
			gpio.Set(s.Pin, s.Kind.IdleLevel())
		}
		return gpio, &hw.SimOneWire{}
	}
	return hw.NewSysfsGPIO(cfg.GPIORoot(), topo.Pins), hw.NewSysfsOneWire(cfg.W1Root())
}
