package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buildtall-systems/orderbridge/internal/bridge"
	"github.com/buildtall-systems/orderbridge/internal/config"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Read and write the remote store",
	Long:  `Read and write paths in the configured remote store, e.g. to place a test order or raise an emergency stop.`,
}

var storeGetCmd = &cobra.Command{
	Use:   "get PATH",
	Short: "Print the value at PATH as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, s bridge.RemoteStore, cmd *cobra.Command, args []string) error {
		v, err := s.Get(ctx, args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding value: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}),
}

var storeSetCmd = &cobra.Command{
	Use:   "set PATH VALUE",
	Short: "Replace the value at PATH",
	Long:  `Replace the value at PATH. VALUE is parsed as JSON; anything that is not valid JSON is stored as a string. The JSON value null deletes PATH.`,
	Args:  cobra.ExactArgs(2),
	RunE: withStore(func(ctx context.Context, s bridge.RemoteStore, cmd *cobra.Command, args []string) error {
		return s.Set(ctx, args[0], parseValue(args[1]))
	}),
}

var storeUpdateCmd = &cobra.Command{
	Use:   "update PATH JSON_OBJECT",
	Short: "Merge the fields of JSON_OBJECT into PATH",
	Args:  cobra.ExactArgs(2),
	RunE: withStore(func(ctx context.Context, s bridge.RemoteStore, cmd *cobra.Command, args []string) error {
		var fields map[string]any
		if err := json.Unmarshal([]byte(args[1]), &fields); err != nil {
			return fmt.Errorf("update value must be a JSON object: %w", err)
		}
		return s.Update(ctx, args[0], fields)
	}),
}

func init() {
	storeCmd.AddCommand(storeGetCmd, storeSetCmd, storeUpdateCmd)
	rootCmd.AddCommand(storeCmd)
}

type storeFunc func(ctx context.Context, s bridge.RemoteStore, cmd *cobra.Command, args []string) error

// withStore opens the configured store around fn. Bus settings are not
// needed and not validated.
func withStore(fn storeFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		s, closeStore, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer closeStore()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Bridge.OperationTimeout)
		defer cancel()
		return fn(ctx, s, cmd, args)
	}
}

func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
