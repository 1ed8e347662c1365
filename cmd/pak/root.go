package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meigma/pak/archive"
)

// app carries state shared by every command.
type app struct {
	v      *viper.Viper
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	var cfgFile string

	root := &cobra.Command{
		Use:   "pak",
		Short: "Build archives and resolve layered module sets",
		Long: `pak manages single-file archives with a sorted path dictionary and
resolves files across an ordered set of modules, where later modules
override earlier ones.

Configuration is read from pak.yaml in the working directory (or --config),
PAK_* environment variables and flags, in increasing precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd, cfgFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./pak.yaml)")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	flags.String("policy", archive.ReplaceIfNewer.String(), "replace policy for existing paths: never, always, newer")
	flags.String("load-order", "loadorder.yaml", "load order file for module commands")
	for key, flag := range map[string]string{
		"log_level":  "log-level",
		"policy":     "policy",
		"load_order": "load-order",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag)) //nolint:errcheck // flags are defined above
	}

	root.AddCommand(
		newPackCmd(a),
		newUnpackCmd(a),
		newListCmd(a),
		newAddCmd(a),
		newRemoveCmd(a),
		newRebuildCmd(a),
		newMergeCmd(a),
		newCatCmd(a),
		newLayersCmd(a),
		newFindCmd(a),
		newMountCmd(a),
	)
	return root
}

// init loads configuration and installs the logger.
func (a *app) init(cmd *cobra.Command, cfgFile string) error {
	a.v.SetEnvPrefix("PAK")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		a.v.SetConfigName("pak")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	level, err := log.ParseLevel(a.v.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", a.v.GetString("log_level"), err)
	}
	handler := log.NewWithOptions(cmd.ErrOrStderr(), log.Options{
		Prefix:          "pak",
		Level:           level,
		ReportTimestamp: level <= log.DebugLevel,
	})
	a.logger = slog.New(handler)
	return nil
}

// policy returns the configured replace policy.
func (a *app) policy() (archive.ReplacePolicy, error) {
	return archive.ParseReplacePolicy(a.v.GetString("policy"))
}

// openArchive opens an archive with the app logger.
func (a *app) openArchive(path string, opts ...archive.Option) (*archive.Archive, error) {
	opts = append(opts, archive.WithLogger(a.logger))
	return archive.Open(path, opts...)
}

// closeArchive closes arc, reporting a close failure only if err is nil.
func closeArchive(arc *archive.Archive, err *error) {
	if closeErr := arc.Close(); closeErr != nil && *err == nil {
		*err = closeErr
	}
}

// mustExist fails unless path exists, so read commands never create archives.
func mustExist(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return nil
}
