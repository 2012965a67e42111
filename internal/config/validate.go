package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/buildtall-systems/orderbridge/internal/nostr"
)

// ErrInvalidConfig indicates configuration that cannot start the bridge.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

// LoadWithSecrets loads configuration, resolves key material and validates
// everything the selected drivers need.
func LoadWithSecrets() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Bus.Driver == BusNostr {
		sk, err := nostr.SecretKeyHex(cfg.Bus.Nostr.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("%w: bus.nostr.secret_key: %v", ErrInvalidConfig, err)
		}
		cfg.Bus.Nostr.SecretKeyHex = sk

		robots, err := nostr.PubkeysHex(cfg.Bus.Nostr.RobotNpubs)
		if err != nil {
			return nil, fmt.Errorf("%w: bus.nostr.robot_npubs: %v", ErrInvalidConfig, err)
		}
		cfg.Bus.Nostr.RobotPubkeysHex = robots
	}

	return cfg, nil
}

// Validate checks field constraints and the settings of the selected store
// and bus drivers.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	switch c.Store.Driver {
	case StoreRTDB:
		if err := validate.Var(c.Store.RTDB.URL, "required,url"); err != nil {
			return fmt.Errorf("%w: store.rtdb.url: %v", ErrInvalidConfig, err)
		}
	case StoreSQLite:
		if err := validate.Var(c.Store.SQLite.Path, "required"); err != nil {
			return fmt.Errorf("%w: store.sqlite.path: %v", ErrInvalidConfig, err)
		}
	}

	switch c.Bus.Driver {
	case BusNostr:
		if err := validate.Var(c.Bus.Nostr.Relays, "min=1,dive,url"); err != nil {
			return fmt.Errorf("%w: bus.nostr.relays: %v", ErrInvalidConfig, err)
		}
		if err := validate.Var(c.Bus.Nostr.Kind, "min=20000,max=29999"); err != nil {
			return fmt.Errorf("%w: bus.nostr.kind must be an ephemeral kind: %v", ErrInvalidConfig, err)
		}
		if err := validate.Var(c.Bus.Nostr.SecretKey, "required"); err != nil {
			return fmt.Errorf("%w: bus.nostr.secret_key: %v", ErrInvalidConfig, err)
		}
	case BusAMQP:
		if err := validate.Var(c.Bus.AMQP.Host, "required,hostname|ip"); err != nil {
			return fmt.Errorf("%w: bus.amqp.host: %v", ErrInvalidConfig, err)
		}
		if err := validate.Var(c.Bus.AMQP.Port, "min=1,max=65535"); err != nil {
			return fmt.Errorf("%w: bus.amqp.port: %v", ErrInvalidConfig, err)
		}
	}

	return nil
}
