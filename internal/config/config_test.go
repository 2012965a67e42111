package config

import (
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/viper"
)

const (
	testSecretHex = "0000000000000000000000000000000000000000000000000000000000000001"
	testPubkeyHex = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Bridge.PollInterval != time.Second {
		t.Errorf("PollInterval = %s, want 1s", cfg.Bridge.PollInterval)
	}
	if cfg.Bridge.OperationTimeout != 10*time.Second {
		t.Errorf("OperationTimeout = %s, want 10s", cfg.Bridge.OperationTimeout)
	}
	if !cfg.Bridge.ReplayStaleCommands {
		t.Error("ReplayStaleCommands should default to true")
	}
	if cfg.Topics.Order != "burger_order" || cfg.Topics.Stop != "robot_stop" ||
		cfg.Topics.Recovery != "robot_recovery" || cfg.Topics.Status != "robot_status_update" {
		t.Errorf("topics = %+v", cfg.Topics)
	}
	if cfg.Store.Driver != StoreRTDB {
		t.Errorf("Store.Driver = %s, want rtdb", cfg.Store.Driver)
	}
	if cfg.Bus.Driver != BusNostr {
		t.Errorf("Bus.Driver = %s, want nostr", cfg.Bus.Driver)
	}
	if cfg.Bus.Nostr.Kind != 25050 {
		t.Errorf("Bus.Nostr.Kind = %d, want 25050", cfg.Bus.Nostr.Kind)
	}
	if cfg.Bus.AMQP.Port != 5672 || cfg.Bus.AMQP.User != "guest" || cfg.Bus.AMQP.Password != "guest" {
		t.Errorf("AMQP = %+v", cfg.Bus.AMQP)
	}
}

func TestLoad_Overrides(t *testing.T) {
	resetViper(t)
	viper.Set("bridge.poll_interval", "250ms")
	viper.Set("bridge.replay_stale_commands", false)
	viper.Set("topics.order", "orders_in")
	viper.Set("bus.amqp.user", "bridge")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Bridge.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %s, want 250ms", cfg.Bridge.PollInterval)
	}
	if cfg.Bridge.ReplayStaleCommands {
		t.Error("ReplayStaleCommands should be false when set")
	}
	if cfg.Topics.Order != "orders_in" {
		t.Errorf("Topics.Order = %s", cfg.Topics.Order)
	}
	// Password default only applies alongside the default user.
	if cfg.Bus.AMQP.Password != "" {
		t.Errorf("AMQP.Password = %q, want empty", cfg.Bus.AMQP.Password)
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	resetViper(t)
	viper.Set("store.rtdb.url", "https://robot-default-rtdb.firebaseio.com")
	viper.Set("bus.nostr.secret_key", testSecretHex)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(*Config) {}, false},
		{"unknown store driver", func(c *Config) { c.Store.Driver = "redis" }, true},
		{"unknown bus driver", func(c *Config) { c.Bus.Driver = "mqtt" }, true},
		{"zero poll interval", func(c *Config) { c.Bridge.PollInterval = 0 }, true},
		{"empty topic", func(c *Config) { c.Topics.Status = "" }, true},
		{"rtdb without url", func(c *Config) { c.Store.RTDB.URL = "" }, true},
		{"rtdb url not a url", func(c *Config) { c.Store.RTDB.URL = "not a url" }, true},
		{"sqlite ignores rtdb url", func(c *Config) {
			c.Store.Driver = StoreSQLite
			c.Store.RTDB.URL = ""
		}, false},
		{"nostr without secret", func(c *Config) { c.Bus.Nostr.SecretKey = "" }, true},
		{"nostr without relays", func(c *Config) { c.Bus.Nostr.Relays = nil }, true},
		{"nostr non-ephemeral kind", func(c *Config) { c.Bus.Nostr.Kind = 1 }, true},
		{"amqp ignores nostr secret", func(c *Config) {
			c.Bus.Driver = BusAMQP
			c.Bus.Nostr.SecretKey = ""
		}, false},
		{"amqp bad port", func(c *Config) {
			c.Bus.Driver = BusAMQP
			c.Bus.AMQP.Port = 70000
		}, true},
		{"amqp missing host", func(c *Config) {
			c.Bus.Driver = BusAMQP
			c.Bus.AMQP.Host = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadWithSecrets(t *testing.T) {
	npub, err := nip19.EncodePublicKey(testPubkeyHex)
	if err != nil {
		t.Fatalf("encoding npub: %v", err)
	}
	nsec, err := nip19.EncodePrivateKey(testSecretHex)
	if err != nil {
		t.Fatalf("encoding nsec: %v", err)
	}

	resetViper(t)
	viper.Set("store.rtdb.url", "https://robot-default-rtdb.firebaseio.com")
	viper.Set("bus.nostr.secret_key", nsec)
	viper.Set("bus.nostr.robot_npubs", []string{npub})

	cfg, err := LoadWithSecrets()
	if err != nil {
		t.Fatalf("LoadWithSecrets() error: %v", err)
	}
	if cfg.Bus.Nostr.SecretKeyHex != testSecretHex {
		t.Errorf("SecretKeyHex = %s", cfg.Bus.Nostr.SecretKeyHex)
	}
	if len(cfg.Bus.Nostr.RobotPubkeysHex) != 1 || cfg.Bus.Nostr.RobotPubkeysHex[0] != testPubkeyHex {
		t.Errorf("RobotPubkeysHex = %v", cfg.Bus.Nostr.RobotPubkeysHex)
	}
}

func TestLoadWithSecrets_Env(t *testing.T) {
	resetViper(t)
	BindEnv()
	t.Setenv("ORDERBRIDGE_STORE_RTDB_URL", "https://robot-default-rtdb.firebaseio.com")
	t.Setenv("ORDERBRIDGE_BUS_NOSTR_SECRET_KEY", testSecretHex)

	cfg, err := LoadWithSecrets()
	if err != nil {
		t.Fatalf("LoadWithSecrets() error: %v", err)
	}
	if cfg.Bus.Nostr.SecretKeyHex != testSecretHex {
		t.Errorf("SecretKeyHex = %s", cfg.Bus.Nostr.SecretKeyHex)
	}
}

func TestLoadWithSecrets_BadKey(t *testing.T) {
	resetViper(t)
	viper.Set("store.rtdb.url", "https://robot-default-rtdb.firebaseio.com")
	viper.Set("bus.nostr.secret_key", "nsec1notakey")

	if _, err := LoadWithSecrets(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("LoadWithSecrets() error = %v, want ErrInvalidConfig", err)
	}
}
