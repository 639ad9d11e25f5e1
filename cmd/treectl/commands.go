package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Ratio1/treestore_sdk_go/pkg/dedup"
	"github.com/Ratio1/treestore_sdk_go/pkg/nodeops"
	"github.com/Ratio1/treestore_sdk_go/pkg/snapshot"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore"
)

func wrapArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

func (a *app) snapshots() *snapshot.Manager {
	return snapshot.New(a.client, snapshot.Options{
		Root:   a.cfg.Root,
		Dir:    a.cfg.BackupDir,
		Logger: a.logger,
	})
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print the JSON stored at a path",
		Args:  wrapArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := a.client.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if node == nil {
				a.out.Println("null")
				return nil
			}
			var buf bytes.Buffer
			if err := json.Indent(&buf, node.Value, "", "  "); err != nil {
				return err
			}
			a.out.Println(buf.String())
			return nil
		},
	}
}

func (a *app) renameCmd() *cobra.Command {
	var noCompensate bool
	cmd := &cobra.Command{
		Use:   "rename <parent> <old> <new>",
		Short: "Rename a child node (copy, verify, delete)",
		Long: `Rename copies parent/old to parent/new, reads the copy back and deletes
parent/old. If any step fails once the copy may have been written, the copy
is removed again unless --no-compensate is given. A rename that cannot be rolled back exits
with status 3 and names both paths.`,
		Args: wrapArgs(cobra.ExactArgs(3)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops := nodeops.New(a.client,
				nodeops.WithCompensation(!noCompensate),
				nodeops.WithLogger(a.logger),
			)
			if err := ops.Rename(cmd.Context(), args[0], args[1], args[2]); err != nil {
				return err
			}
			a.out.OK("renamed %s -> %s", treestore.Join(args[0], args[1]), treestore.Join(args[0], args[2]))
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCompensate, "no-compensate", false, "keep the written copy when a later step fails")
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <parent> <name>...",
		Short: "Remove child nodes; absent names are not an error",
		Args:  wrapArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops := nodeops.New(a.client, nodeops.WithLogger(a.logger))
			err := ops.RemoveMany(cmd.Context(), args[0], args[1:]...)
			var removeErr *nodeops.RemoveError
			if errors.As(err, &removeErr) {
				for _, name := range removeErr.Removed {
					a.out.OK("removed %s", treestore.Join(args[0], name))
				}
				for _, name := range removeErr.Remaining {
					a.out.Warn("not removed %s", treestore.Join(args[0], name))
				}
				return err
			}
			if err != nil {
				return err
			}
			a.out.OK("removed %d node(s) under %s", len(args)-1, args[0])
			return nil
		},
	}
}

func (a *app) snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <file>",
		Short: "Write the whole tree to a file",
		Args:  wrapArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.snapshots().Snapshot(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.out.OK("snapshot written to %s", args[0])
			return nil
		},
	}
}

func (a *app) backupCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a timestamped snapshot into the backup directory",
		Args:  wrapArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr := a.snapshots()
			path, err := mgr.Backup(cmd.Context())
			if err != nil {
				return err
			}
			a.out.OK("backup written to %s", path)
			if keep > 0 {
				removed, err := mgr.Prune(keep)
				if err != nil {
					return err
				}
				if removed > 0 {
					a.out.Muted("pruned %d old backup(s)", removed)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "after the backup, delete all but the N newest backups (0 keeps all)")
	return cmd
}

func (a *app) backupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List backups, newest first",
		Args:  wrapArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			backups, err := a.snapshots().ListBackups()
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				a.out.Muted("no backups in %s", a.cfg.BackupDir)
				return nil
			}
			for _, b := range backups {
				created := "unknown time"
				if !b.CreatedAt.IsZero() {
					created = b.CreatedAt.Format("2006-01-02 15:04:05.000000 MST")
				}
				a.out.Println(fmt.Sprintf("%-28s %10d  %s", created, b.Size, b.Path))
			}
			return nil
		},
	}
}

func (a *app) latestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Print the path of the most recent backup",
		Args:  wrapArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.snapshots().LatestBackup()
			if err != nil {
				return err
			}
			a.out.Println(path)
			return nil
		},
	}
}

func (a *app) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Write every top-level key of the latest backup back to the store",
		Long: `Restore merges the latest backup into the store one top-level key at a
time, in sorted order. Keys missing from the backup are left untouched. The
restore stops at the first failed write and lists the keys already applied.`,
		Args: wrapArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := a.snapshots().RestoreFromLatest(cmd.Context())
			if report != nil {
				for _, key := range report.Applied {
					a.out.OK("restored %s", key)
				}
			}
			if err != nil {
				if report != nil {
					a.out.Warn("restore stopped after %d of %d keys from %s", len(report.Applied), report.Total, report.Backup)
				}
				return err
			}
			a.out.OK("restored %d key(s) from %s", report.Total, report.Backup)
			return nil
		},
	}
}

func (a *app) pruneCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest backups",
		Args:  wrapArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			removed, err := a.snapshots().Prune(keep)
			if err != nil {
				return err
			}
			a.out.OK("removed %d backup(s), kept at most %d", removed, keep)
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 5, "number of backups to keep")
	return cmd
}

// recordFlags binds the flags describing a pothole report.
type recordFlags struct {
	lat, lng      string
	depth, length string
	image         string
	collection    string
}

func (f *recordFlags) bind(cmd *cobra.Command, withDetails bool) {
	cmd.Flags().StringVar(&f.lat, "lat", "", "latitude (required)")
	cmd.Flags().StringVar(&f.lng, "lng", "", "longitude (required)")
	cmd.Flags().StringVar(&f.collection, "collection", "", "collection path (default from config)")
	if withDetails {
		cmd.Flags().StringVar(&f.depth, "depth", "", "pothole depth")
		cmd.Flags().StringVar(&f.length, "length", "", "pothole length")
		cmd.Flags().StringVar(&f.image, "image", "", "photo file to attach")
	}
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")
}

func (f *recordFlags) record() (dedup.Record, error) {
	lat, err := strconv.ParseFloat(f.lat, 64)
	if err != nil {
		return dedup.Record{}, &usageError{err: fmt.Errorf("invalid --lat %q: %w", f.lat, err)}
	}
	lng, err := strconv.ParseFloat(f.lng, 64)
	if err != nil {
		return dedup.Record{}, &usageError{err: fmt.Errorf("invalid --lng %q: %w", f.lng, err)}
	}
	r := dedup.Record{Latitude: lat, Longitude: lng, Depth: f.depth, Length: f.length}
	if f.image != "" {
		return r.WithImageFile(f.image)
	}
	return r, nil
}

func (a *app) collection(f *recordFlags) string {
	if f.collection != "" {
		return f.collection
	}
	return a.cfg.Collection
}

func (a *app) reportCmd() *cobra.Command {
	f := &recordFlags{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "File a pothole report unless one exists at the same coordinates",
		Args:  wrapArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := f.record()
			if err != nil {
				return err
			}
			in := dedup.New(a.client, dedup.Options{Logger: a.logger})
			outcome, key, err := in.Insert(cmd.Context(), r, a.collection(f))
			if err != nil {
				return err
			}
			if outcome == dedup.Skipped {
				a.out.Warn("skipped: a report at (%v, %v) already exists", r.Latitude, r.Longitude)
				return nil
			}
			a.out.OK("inserted %s", treestore.Join(a.collection(f), key))
			return nil
		},
	}
	f.bind(cmd, true)
	return cmd
}

func (a *app) existsCmd() *cobra.Command {
	f := &recordFlags{}
	cmd := &cobra.Command{
		Use:   "exists",
		Short: "Print whether a report exists at the given coordinates",
		Args:  wrapArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := f.record()
			if err != nil {
				return err
			}
			in := dedup.New(a.client, dedup.Options{Logger: a.logger})
			exists, err := in.Exists(cmd.Context(), r, a.collection(f))
			if err != nil {
				return err
			}
			a.out.Println(strconv.FormatBool(exists))
			return nil
		},
	}
	f.bind(cmd, false)
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML (auth masked)",
		Args:  wrapArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := a.cfg.Marshal()
			if err != nil {
				return err
			}
			fmt.Fprint(a.out.w, string(data))
			return nil
		},
	}
}
