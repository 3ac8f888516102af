package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leonardcser/shmkv/internal/cache"
)

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save or restore the store to or from disk",
		Long: `Shared memory does not survive a reboot. A snapshot copies every live
entry into a Bolt file and restores it later. Sealed entries stay sealed
in the file and restore only under the same master key.`,
	}
	cmd.AddCommand(newSnapshotSaveCmd(a), newSnapshotRestoreCmd(a))
	return cmd
}

func (a *app) archivePath(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return a.cfg.Archive
}

func newSnapshotSaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save [file]",
		Short: "Write every live entry to a snapshot file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.engine == nil {
				return needsEngine("snapshot save")
			}
			path := a.archivePath(args)
			arc, err := cache.OpenArchive(path)
			if err != nil {
				return fmt.Errorf("failed to open snapshot %s: %w", path, err)
			}
			defer arc.Close()

			m, err := arc.Save(a.engine)
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), m, func() error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d entries (%d bytes) to %s\n",
					okFmt("saved"), m.Entries, m.Bytes, path)
				return nil
			})
		},
	}
}

func newSnapshotRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore [file]",
		Short: "Write a snapshot's unexpired entries back to the store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.engine == nil {
				return needsEngine("snapshot restore")
			}
			path := a.archivePath(args)
			arc, err := cache.OpenArchive(path)
			if err != nil {
				return fmt.Errorf("failed to open snapshot %s: %w", path, err)
			}
			defer arc.Close()

			m, err := arc.Manifest()
			if err != nil {
				return err
			}
			res, err := arc.Load(a.engine)
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), res, func() error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d entries from snapshot taken %s (%d expired)\n",
					okFmt("restored"), res.Restored, m.CreatedAt.Local().Format(time.RFC3339), res.Expired)
				return nil
			})
		},
	}
}
