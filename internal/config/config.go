package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store and bus drivers.
const (
	StoreRTDB   = "rtdb"
	StoreSQLite = "sqlite"
	BusNostr    = "nostr"
	BusAMQP     = "amqp"
)

// EnvPrefix prefixes environment overrides, e.g.
// ORDERBRIDGE_STORE_RTDB_AUTH_TOKEN for store.rtdb.auth_token.
const EnvPrefix = "ORDERBRIDGE"

// BindEnv makes every config key overridable from the environment.
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Config holds all application configuration.
type Config struct {
	Verbose bool
	Bridge  BridgeConfig
	Topics  TopicsConfig
	Store   StoreConfig
	Bus     BusConfig
}

// BridgeConfig holds poll loop settings.
type BridgeConfig struct {
	PollInterval        time.Duration `validate:"gt=0"`
	OperationTimeout    time.Duration `validate:"gt=0"`
	ReplayStaleCommands bool
}

// TopicsConfig names the bus topics.
type TopicsConfig struct {
	Order    string `validate:"required"`
	Stop     string `validate:"required"`
	Recovery string `validate:"required"`
	Status   string `validate:"required"`
}

// StoreConfig selects and configures the remote store.
type StoreConfig struct {
	Driver string `validate:"oneof=rtdb sqlite"`
	RTDB   RTDBConfig
	SQLite SQLiteConfig
}

// RTDBConfig holds Firebase Realtime Database settings.
type RTDBConfig struct {
	URL       string
	AuthToken string // secret, usually from ORDERBRIDGE_STORE_RTDB_AUTH_TOKEN
}

// SQLiteConfig holds local store settings.
type SQLiteConfig struct {
	Path string
}

// BusConfig selects and configures the message bus.
type BusConfig struct {
	Driver string `validate:"oneof=nostr amqp"`
	Nostr  NostrConfig
	AMQP   AMQPConfig
}

// NostrConfig holds relay bus settings.
type NostrConfig struct {
	Relays     []string
	Kind       int
	SecretKey  string   // nsec or hex, usually from ORDERBRIDGE_BUS_NOSTR_SECRET_KEY
	RobotNpubs []string // accepted status publishers; empty accepts anyone

	// Resolved by LoadWithSecrets.
	SecretKeyHex    string
	RobotPubkeysHex []string
}

// AMQPConfig holds RabbitMQ settings.
type AMQPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	UseTLS   bool
	Exchange string
}

// Load reads configuration from Viper and returns a Config struct.
func Load() (*Config, error) {
	cfg := &Config{
		Verbose: viper.GetBool("verbose"),
		Bridge: BridgeConfig{
			PollInterval:        viper.GetDuration("bridge.poll_interval"),
			OperationTimeout:    viper.GetDuration("bridge.operation_timeout"),
			ReplayStaleCommands: viper.GetBool("bridge.replay_stale_commands"),
		},
		Topics: TopicsConfig{
			Order:    viper.GetString("topics.order"),
			Stop:     viper.GetString("topics.stop"),
			Recovery: viper.GetString("topics.recovery"),
			Status:   viper.GetString("topics.status"),
		},
		Store: StoreConfig{
			Driver: viper.GetString("store.driver"),
			RTDB: RTDBConfig{
				URL:       viper.GetString("store.rtdb.url"),
				AuthToken: viper.GetString("store.rtdb.auth_token"),
			},
			SQLite: SQLiteConfig{
				Path: viper.GetString("store.sqlite.path"),
			},
		},
		Bus: BusConfig{
			Driver: viper.GetString("bus.driver"),
			Nostr: NostrConfig{
				Relays:     viper.GetStringSlice("bus.nostr.relays"),
				Kind:       viper.GetInt("bus.nostr.kind"),
				SecretKey:  viper.GetString("bus.nostr.secret_key"),
				RobotNpubs: viper.GetStringSlice("bus.nostr.robot_npubs"),
			},
			AMQP: AMQPConfig{
				Host:     viper.GetString("bus.amqp.host"),
				Port:     viper.GetInt("bus.amqp.port"),
				User:     viper.GetString("bus.amqp.user"),
				Password: viper.GetString("bus.amqp.password"),
				VHost:    viper.GetString("bus.amqp.vhost"),
				UseTLS:   viper.GetBool("bus.amqp.use_tls"),
				Exchange: viper.GetString("bus.amqp.exchange"),
			},
		},
	}

	// Apply defaults
	if cfg.Bridge.PollInterval == 0 {
		cfg.Bridge.PollInterval = time.Second
	}
	if cfg.Bridge.OperationTimeout == 0 {
		cfg.Bridge.OperationTimeout = 10 * time.Second
	}
	if !viper.IsSet("bridge.replay_stale_commands") {
		cfg.Bridge.ReplayStaleCommands = true
	}
	if cfg.Topics.Order == "" {
		cfg.Topics.Order = "burger_order"
	}
	if cfg.Topics.Stop == "" {
		cfg.Topics.Stop = "robot_stop"
	}
	if cfg.Topics.Recovery == "" {
		cfg.Topics.Recovery = "robot_recovery"
	}
	if cfg.Topics.Status == "" {
		cfg.Topics.Status = "robot_status_update"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreRTDB
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = "orderbridge.db"
	}
	if cfg.Bus.Driver == "" {
		cfg.Bus.Driver = BusNostr
	}
	if len(cfg.Bus.Nostr.Relays) == 0 {
		cfg.Bus.Nostr.Relays = []string{"wss://relay.damus.io"}
	}
	if cfg.Bus.Nostr.Kind == 0 {
		cfg.Bus.Nostr.Kind = 25050
	}
	if cfg.Bus.AMQP.Host == "" {
		cfg.Bus.AMQP.Host = "localhost"
	}
	if cfg.Bus.AMQP.Port == 0 {
		cfg.Bus.AMQP.Port = 5672
	}
	if cfg.Bus.AMQP.User == "" {
		cfg.Bus.AMQP.User = "guest"
		if cfg.Bus.AMQP.Password == "" {
			cfg.Bus.AMQP.Password = "guest"
		}
	}
	if cfg.Bus.AMQP.Exchange == "" {
		cfg.Bus.AMQP.Exchange = "orderbridge"
	}

	return cfg, nil
}
