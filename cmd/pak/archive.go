package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meigma/pak/archive"
)

func newPackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pack <dir> <archive>",
		Short: "Insert every file under a directory into an archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			policy, err := a.policy()
			if err != nil {
				return err
			}
			arc, err := a.openArchive(args[1])
			if err != nil {
				return err
			}
			defer closeArchive(arc, &err)

			stats, err := arc.Pack(cmd.Context(), args[0], policy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "packed %d files (%d bytes), skipped %d\n", stats.FileCount, stats.TotalBytes, stats.Skipped)
			return nil
		},
	}
}

func newUnpackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unpack <archive> <dest>",
		Short: "Write every file of an archive below a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			arc, err := a.openArchive(args[0], archive.WithReadOnly())
			if err != nil {
				return err
			}
			defer closeArchive(arc, &err)

			stats, err := arc.Unpack(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unpacked %d files (%d bytes), skipped %d\n", stats.FileCount, stats.TotalBytes, stats.Skipped)
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var withDigest bool
	cmd := &cobra.Command{
		Use:   "ls <archive>",
		Short: "List the files of an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			arc, err := a.openArchive(args[0], archive.WithReadOnly())
			if err != nil {
				return err
			}
			defer closeArchive(arc, &err)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for e := range arc.Entries() {
				line := fmt.Sprintf("%d\t%s\t%s", e.OriginalSize, e.ModTime.UTC().Format(time.RFC3339), e.Path)
				if withDigest {
					d, err := arc.Digest(e.Path)
					if err != nil {
						return err
					}
					line += "\t" + d.String()
				}
				fmt.Fprintln(w, line)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&withDigest, "digest", false, "print the sha256 digest of each file")
	return cmd
}

func newAddCmd(a *app) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "add <archive> <file>",
		Short: "Insert a single file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			policy, err := a.policy()
			if err != nil {
				return err
			}
			info, err := os.Stat(args[1])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			name := as
			if name == "" {
				name = filepath.Base(args[1])
			}

			arc, err := a.openArchive(args[0])
			if err != nil {
				return err
			}
			defer closeArchive(arc, &err)
			return arc.Insert(name, data, info.ModTime(), policy)
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "path to store the file under (default is the file's base name)")
	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <archive> <path>...",
		Short: "Erase files and compact the archive",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if err := mustExist(args[0]); err != nil {
				return err
			}
			arc, err := a.openArchive(args[0])
			if err != nil {
				return err
			}
			defer closeArchive(arc, &err)

			for _, p := range args[1:] {
				if err := arc.Erase(p); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newRebuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <archive>",
		Short: "Reclaim space left by replaced and erased files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if err := mustExist(args[0]); err != nil {
				return err
			}
			arc, err := a.openArchive(args[0])
			if err != nil {
				return err
			}
			defer closeArchive(arc, &err)

			before := arc.Header().Back
			if err := arc.Rebuild(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %s: data region %d -> %d bytes\n", args[0], before, arc.Header().Back)
			return nil
		},
	}
}

func newMergeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <dst> <src>",
		Short: "Insert every file of one archive into another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			policy, err := a.policy()
			if err != nil {
				return err
			}
			arc, err := a.openArchive(args[0])
			if err != nil {
				return err
			}
			defer closeArchive(arc, &err)

			stats, err := arc.Merge(cmd.Context(), args[1], policy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %d files (%d bytes), skipped %d\n", stats.FileCount, stats.TotalBytes, stats.Skipped)
			return nil
		},
	}
}
