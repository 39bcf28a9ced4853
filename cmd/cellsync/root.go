package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/reactive-notebook/cellsync/internal/command"
)

// rootOptions holds the settings loaded before each command runs.
type rootOptions struct {
	configFile string
	v          *viper.Viper
	logs       io.Writer
	rotator    *lumberjack.Logger
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"server":    keyServer,
	"websocket": keyWebSocket,
	"log-file":  keyLogFile,
	"dir":       keyDir,
	"drafts":    keyDrafts,
	"auto-run":  keyAutoRun,
}

// opts is shared by every subcommand.
var opts rootOptions

var rootCmd = &cobra.Command{
	Use:   "cellsync",
	Short: "Sync notebook cells with a notebook server",
	Long: `cellsync keeps notebook cells consistent between a local editor, a notebook
server that pushes authoritative content over a websocket, and a debounced
save channel that sends local edits back.

Settings come from flags, CELLSYNC_* environment variables and cellsync.toml
(in the working directory, or the file given with --config).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return opts.load(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return opts.close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default ./cellsync.toml)")
	rootCmd.PersistentFlags().String("server", defaultServer, "notebook server base URL")
	rootCmd.PersistentFlags().String("log-file", "", "write logs to a rotating file instead of stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "cells", Title: "Cells:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

// load reads configuration and sets up the log sink.
func (o *rootOptions) load(cmd *cobra.Command) error {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CELLSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
	} else {
		v.SetConfigName("cellsync")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind --%s: %w", name, err)
			}
		}
	}
	o.v = v

	o.logs = cmd.ErrOrStderr()
	if path := v.GetString(keyLogFile); path != "" {
		o.rotator = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		o.logs = o.rotator
	}
	return nil
}

func (o *rootOptions) close() error {
	if o.rotator == nil {
		return nil
	}
	err := o.rotator.Close()
	o.rotator = nil
	return err
}

// logger returns a logger for component writing to the configured sink.
func (o *rootOptions) logger(component string) *log.Logger {
	return log.New(o.logs, "["+component+"] ", log.LstdFlags)
}

func (o *rootOptions) commands() (*command.Client, error) {
	return command.NewWithConfig(&command.Config{
		BaseURL:    o.v.GetString(keyServer),
		HTTPClient: &http.Client{},
		Logger:     o.logger("command"),
	})
}
