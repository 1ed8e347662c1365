package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meigma/pak/module"
	"github.com/meigma/pak/vfs"
	vfsfuse "github.com/meigma/pak/vfs/fuse"
)

// openSession applies the configured load order to a new session.
func (a *app) openSession(cmd *cobra.Command) (*vfs.Session, error) {
	order, err := vfs.LoadLoadOrder(a.v.GetString("load_order"))
	if err != nil {
		return nil, err
	}
	s := vfs.New(vfs.WithLogger(a.logger))
	report, err := s.Apply(order, module.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	for _, sk := range report.Skipped {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped module %s (%s): %v\n", sk.Name, sk.Path, sk.Reason)
	}
	return s, nil
}

func newCatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Print the winning copy of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := a.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Shutdown()

			f, err := s.LoadSingleFile(args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(f.Data)
			return err
		},
	}
}

func newLayersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "layers <path>",
		Short: "List every module's copy of a file, lowest priority first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := a.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Shutdown()

			files, err := s.LoadAllFiles(args[0])
			if err != nil {
				return err
			}
			for _, f := range files {
				m := s.Module(f.Module)
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%d bytes\t%s\n", f.Module, m.Name(), len(f.Data), m.Path())
			}
			return nil
		},
	}
}

func newFindCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "find <prefix>",
		Short: "List paths starting with a prefix and the modules providing them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := a.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Shutdown()

			for _, e := range s.LoadEverythingInFolder(args[0]) {
				names := make([]string, len(e.Owners))
				for i, id := range e.Owners {
					names[i] = s.Module(id).Name()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Path, strings.Join(names, ","))
			}
			return nil
		},
	}
}

func newMountCmd(a *app) *cobra.Command {
	var allowOther bool
	cmd := &cobra.Command{
		Use:   "mount <mountpoint>",
		Short: "Serve the load order as a read-only FUSE filesystem until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := a.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Shutdown()

			server, err := vfsfuse.Mount(vfsfuse.Options{
				Mountpoint: args[0],
				Session:    s,
				AllowOther: allowOther,
				Logger:     a.logger,
			})
			if err != nil {
				return err
			}

			<-cmd.Context().Done()
			a.logger.Info("unmounting", "mountpoint", args[0])
			return server.Unmount()
		},
	}
	cmd.Flags().BoolVar(&allowOther, "allow-other", false, "allow other users to access the mount")
	return cmd
}
