package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reactive-notebook/cellsync/internal/cellsync"
	"github.com/reactive-notebook/cellsync/internal/mirror"
	"github.com/reactive-notebook/cellsync/internal/transport"
)

const (
	keyServer      = "server"
	keyWebSocket   = "websocket"
	keyLogFile     = "log_file"
	keyDir         = "dir"
	keyDrafts      = "drafts"
	keyAutoRun     = "auto_run"
	keyDebounce    = "debounce"
	keyBlurGrace   = "blur_grace"
	keyIdle        = "idle"
	keyReconnect   = "reconnect"
	keyHeartbeat   = "heartbeat"
	defaultServer  = "http://localhost:8000"
	defaultConfig  = "cellsync.toml"
	defaultDrafts  = ".cellsync/drafts.db"
	defaultCellDir = "cells"
)

// fileConfig is the on-disk layout of cellsync.toml.
type fileConfig struct {
	Server    string `toml:"server"`
	WebSocket string `toml:"websocket"`
	LogFile   string `toml:"log_file"`
	Dir       string `toml:"dir"`
	Drafts    string `toml:"drafts"`
	AutoRun   bool   `toml:"auto_run"`
	Debounce  string `toml:"debounce"`
	BlurGrace string `toml:"blur_grace"`
	Idle      string `toml:"idle"`
	Reconnect string `toml:"reconnect"`
	Heartbeat string `toml:"heartbeat"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyServer, defaultServer)
	v.SetDefault(keyWebSocket, "")
	v.SetDefault(keyLogFile, "")
	v.SetDefault(keyDir, defaultCellDir)
	v.SetDefault(keyDrafts, defaultDrafts)
	v.SetDefault(keyAutoRun, false)
	v.SetDefault(keyDebounce, cellsync.DefaultDebounceInterval)
	v.SetDefault(keyBlurGrace, cellsync.DefaultBlurGrace)
	v.SetDefault(keyIdle, mirror.DefaultIdleTimeout)
	v.SetDefault(keyReconnect, transport.DefaultReconnectDelay)
	v.SetDefault(keyHeartbeat, transport.DefaultHeartbeatInterval)
}

// effective returns the settings currently in force.
func effective(v *viper.Viper) fileConfig {
	return fileConfig{
		Server:    v.GetString(keyServer),
		WebSocket: v.GetString(keyWebSocket),
		LogFile:   v.GetString(keyLogFile),
		Dir:       v.GetString(keyDir),
		Drafts:    v.GetString(keyDrafts),
		AutoRun:   v.GetBool(keyAutoRun),
		Debounce:  v.GetDuration(keyDebounce).String(),
		BlurGrace: v.GetDuration(keyBlurGrace).String(),
		Idle:      v.GetDuration(keyIdle).String(),
		Reconnect: v.GetDuration(keyReconnect).String(),
		Heartbeat: v.GetDuration(keyHeartbeat).String(),
	}
}

// websocketURL returns the configured push endpoint, deriving it from the
// server URL when unset.
func websocketURL(v *viper.Viper) (string, error) {
	if ws := v.GetString(keyWebSocket); ws != "" {
		return ws, nil
	}
	u, err := url.Parse(v.GetString(keyServer))
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server URL must be http or https, got %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage cellsync.toml",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default settings",
	Long: `Write cellsync.toml (or the file given with --config) containing the
default settings. An existing file is kept unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path := opts.configFile
		if path == "" {
			path = defaultConfig
		}
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		defaults := viper.New()
		setDefaults(defaults)

		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer f.Close()
		if err := toml.NewEncoder(f).Encode(effective(defaults)); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", renderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(effective(opts.v))
	},
}

func init() {
	configInitCmd.Flags().BoolP("force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
