package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nbd-wtf/go-nostr/keyer"
	"github.com/spf13/cobra"

	"github.com/buildtall-systems/orderbridge/internal/amqp"
	"github.com/buildtall-systems/orderbridge/internal/bridge"
	"github.com/buildtall-systems/orderbridge/internal/config"
	"github.com/buildtall-systems/orderbridge/internal/nostr"
	"github.com/buildtall-systems/orderbridge/internal/store/rtdb"
	"github.com/buildtall-systems/orderbridge/internal/store/sqlite"
)

var errUnknownDriver = errors.New("unknown driver")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the order bridge",
	Long: `Start the order bridge. Connects to the remote store and the message bus,
relays new orders and commands to the robot, and writes status reports back.`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithSecrets()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log.Printf("orderbridge starting...")
	log.Printf("store: %s, bus: %s", cfg.Store.Driver, cfg.Bus.Driver)
	log.Printf("topics: order=%s stop=%s recovery=%s status=%s",
		cfg.Topics.Order, cfg.Topics.Stop, cfg.Topics.Recovery, cfg.Topics.Status)

	// Create context that cancels on shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer closeStore()

	// Refuse to start against a store we cannot read.
	if err := probeStore(ctx, store, cfg); err != nil {
		return err
	}
	log.Printf("remote store ready")

	bus, err := openBus(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to message bus: %w", err)
	}
	defer bus.Close()

	status := bridge.NewStatusRelay(store, cfg.Bridge.OperationTimeout)
	if err := bus.Subscribe(ctx, cfg.Topics.Status, status.Handle); err != nil {
		return fmt.Errorf("subscribing to %s: %w", cfg.Topics.Status, err)
	}

	b := bridge.New(store, bus, bridgeConfig(cfg))

	log.Printf("orderbridge running")
	return b.Run(ctx)
}

func bridgeConfig(cfg *config.Config) bridge.Config {
	return bridge.Config{
		OrderTopic:          cfg.Topics.Order,
		StopTopic:           cfg.Topics.Stop,
		RecoveryTopic:       cfg.Topics.Recovery,
		PollInterval:        cfg.Bridge.PollInterval,
		OperationTimeout:    cfg.Bridge.OperationTimeout,
		ReplayStaleCommands: cfg.Bridge.ReplayStaleCommands,
		Verbose:             cfg.Verbose,
	}
}

func probeStore(ctx context.Context, store bridge.RemoteStore, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Bridge.OperationTimeout)
	defer cancel()
	if _, err := store.Get(ctx, bridge.PathRobotStatus); err != nil {
		return fmt.Errorf("probing remote store: %w", err)
	}
	return nil
}

// openStore returns the configured store and a func that releases it.
func openStore(cfg *config.Config) (bridge.RemoteStore, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreRTDB:
		c, err := rtdb.NewClient(cfg.Store.RTDB.URL, cfg.Store.RTDB.AuthToken)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil

	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.Store.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		log.Printf("database: %s", cfg.Store.SQLite.Path)
		return s, func() { _ = s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("%w: store %q", errUnknownDriver, cfg.Store.Driver)
}

// openBus returns a connected message bus.
func openBus(ctx context.Context, cfg *config.Config) (bridge.MessageBus, error) {
	switch cfg.Bus.Driver {
	case config.BusNostr:
		kr, err := keyer.NewPlainKeySigner(cfg.Bus.Nostr.SecretKeyHex)
		if err != nil {
			return nil, fmt.Errorf("creating keyer: %w", err)
		}
		rm := nostr.NewRelayManager(cfg.Bus.Nostr.Relays, cfg.Bus.Nostr.Kind, kr, cfg.Bus.Nostr.RobotPubkeysHex)
		if err := rm.Connect(ctx); err != nil {
			return nil, err
		}
		log.Printf("relays: %v", cfg.Bus.Nostr.Relays)
		return rm, nil

	case config.BusAMQP:
		c, err := amqp.Dial(amqp.Config{
			Host:     cfg.Bus.AMQP.Host,
			Port:     cfg.Bus.AMQP.Port,
			User:     cfg.Bus.AMQP.User,
			Password: cfg.Bus.AMQP.Password,
			VHost:    cfg.Bus.AMQP.VHost,
			UseTLS:   cfg.Bus.AMQP.UseTLS,
			Exchange: cfg.Bus.AMQP.Exchange,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: bus %q", errUnknownDriver, cfg.Bus.Driver)
}
