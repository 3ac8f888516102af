package cmd

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/leonardcser/shmkv/internal/engine"
)

type valueOutput struct {
	Key      string `json:"key" yaml:"key"`
	Value    string `json:"value" yaml:"value"`
	Encoding string `json:"encoding" yaml:"encoding"` // utf8 or base64
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Long: `Print the value stored under a key.

In table format the raw value is written to stdout unchanged, so binary
values can be piped. JSON and YAML output carry non-UTF-8 values base64
encoded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			v, err := a.store.Get(key)
			if errors.Is(err, engine.ErrNotFound) {
				return notFound(key)
			}
			if err != nil {
				return err
			}

			out := valueOutput{Key: key, Value: string(v), Encoding: "utf8"}
			if !utf8.Valid(v) {
				out.Value, out.Encoding = base64.StdEncoding.EncodeToString(v), "base64"
			}
			return a.render(cmd.OutOrStdout(), out, func() error {
				_, err := cmd.OutOrStdout().Write(v)
				return err
			})
		},
	}
}

func newPutCmd(a *app) *cobra.Command {
	var ttl string
	cmd := &cobra.Command{
		Use:   "put <key> [value]",
		Short: "Store a value under a key",
		Long: `Store a value under a key, replacing any previous value.

The value is read from stdin when it is omitted or given as "-".`,
		Example: `  shmkv put greeting hello
  shmkv put session-42 --ttl 15m < token.bin`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseTTL(ttl)
			if err != nil {
				return err
			}

			var value []byte
			if len(args) == 2 && args[1] != "-" {
				value = []byte(args[1])
			} else if value, err = io.ReadAll(cmd.InOrStdin()); err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			if err := a.store.InsertWithTTL(args[0], value, d); err != nil {
				return err
			}
			if a.outputFormat == "table" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d bytes)\n", okFmt("stored"), args[0], len(value))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ttl, "ttl", "", "Expire the entry after this duration (e.g. 30s, 15m, or seconds)")
	return cmd
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <key>...",
		Aliases: []string{"delete"},
		Short:   "Remove keys",
		Long:    "Remove keys. Removing a key that does not exist succeeds.",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, key := range args {
				if err := a.store.Remove(key); err != nil {
					return fmt.Errorf("removing %q: %w", key, err)
				}
				if a.outputFormat == "table" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okFmt("removed"), key)
				}
			}
			return nil
		},
	}
}

func newKeysCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List live keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := a.store.Keys()
			if err != nil {
				return err
			}
			if keys == nil {
				keys = []string{}
			}
			return a.render(cmd.OutOrStdout(), keys, func() error {
				for _, k := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			})
		},
	}
}

type purgeOutput struct {
	Purged int `json:"purged" yaml:"purged"`
}

func newPurgeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.store.PurgeExpired()
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), purgeOutput{Purged: n}, func() error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d expired entries\n", okFmt("purged"), n)
				return nil
			})
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the number and size of live entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.engine == nil {
				return needsEngine("stats")
			}
			st, err := a.engine.Stats()
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), st, func() error {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%-10s %s\n", "DIR", a.cfg.Dir)
				fmt.Fprintf(w, "%-10s %s\n", "PREFIX", a.cfg.Prefix)
				fmt.Fprintf(w, "%-10s %v\n", "ENCRYPTED", a.engine.Encrypted())
				fmt.Fprintf(w, "%-10s %d\n", "KEYS", st.Keys)
				fmt.Fprintf(w, "%-10s %d\n", "BYTES", st.Bytes)
				return nil
			})
		},
	}
}
