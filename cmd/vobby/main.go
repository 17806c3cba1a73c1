package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vobby/vobby/internal/bridge"
	"github.com/vobby/vobby/internal/bridge/config"
	"github.com/vobby/vobby/internal/utils"
	"github.com/vobby/vobby/internal/version"
)

const vobbyArt = `
 _  _  ___  ___  ___  _  _
| || |/ _ \| _ )| _ )| || |
 \_/ \___/|___/|___/ \_, |
                     |__/`

var logLevel = new(slog.LevelVar)

// flag name -> config key
var flagKeys = map[string]string{
	"user":              "user",
	"server":            "server_url",
	"encodings":         "encodings",
	"root":              "root",
	"auto-open":         "auto_open",
	"explore-all":       "explore_all",
	"netbeans-addr":     "netbeans.addr",
	"netbeans-password": "netbeans.password",
	"netbeans-encoding": "netbeans.encoding",
	"control-addr":      "control_plane.addr",
	"token":             "control_plane.token",
	"rate-limit":        "control_plane.rate_limit",
	"runtime-dir":       "runtime_dir",
}

var rootCmd = &cobra.Command{
	Use:     "vobby",
	Short:   "Bridge Vim to a collaborative editing server",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		closeLog, err := setupFileLogging(cfg.LogFilePath())
		if err != nil {
			return err
		}
		defer closeLog()
		showHeader()

		b, err := bridge.New(cfg)
		if err != nil {
			return err
		}
		defer slog.Info("bye")
		return b.Start(cmd.Context())
	},
}

// addBridgeFlags defines the flags that end up in the config file.
func addBridgeFlags(flags *pflag.FlagSet) {
	flags.SortFlags = false
	flags.StringP("user", "u", "", "user name shown to collaborators (default: derived from the machine id)")
	flags.StringP("server", "s", config.DefaultServerURL, "collaboration server url")
	flags.String("encodings", "msgpack,json", "wire encodings offered to the server, in preference order")
	flags.StringP("root", "r", ".", "local directory shared with the server")
	flags.StringSlice("auto-open", nil, "glob patterns of files to open as soon as they are announced")
	flags.Bool("explore-all", false, "explore every directory the server announces")
	flags.String("netbeans-addr", config.DefaultNetBeansAddr, "address Vim connects to with :nbstart")
	flags.String("netbeans-password", "", "password Vim must send")
	flags.String("netbeans-encoding", "utf-8", "Vim 'encoding' (utf-8 or latin1)")
	flags.String("rate-limit", config.DefaultRateLimit, "control plane rate limit")
	flags.String("runtime-dir", config.DefaultRuntimeDir, "directory for the log file and instance lock")
}

// addClientFlags defines the flags shared by the bridge and the commands
// that talk to its control plane.
func addClientFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", config.DefaultConfigPath, "vobby config file")
	flags.String("control-addr", config.DefaultControlPlaneAddr, "control plane address")
	flags.String("token", "", "control plane access token")
}

func init() {
	addBridgeFlags(rootCmd.Flags())

	addClientFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		lvl, _ := cmd.Flags().GetString("log-level")
		return logLevel.UnmarshalText([]byte(lvl))
	}
}

func main() {
	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevel,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers flags over VOBBY_* environment variables over the
// config file over defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	path := resolveConfigPath(cmd)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	}

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			_ = v.BindPFlag(key, f)
		}
	})

	v.SetEnvPrefix("VOBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := config.FromViper(v)
	cfg.Path = path
	return cfg, nil
}

// resolveConfigPath prefers an explicit --config, then VOBBY_CONFIG_PATH,
// then the default location.
func resolveConfigPath(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if env := os.Getenv("VOBBY_CONFIG_PATH"); env != "" {
		return env
	}
	return config.DefaultConfigPath
}

// setupFileLogging adds a log file next to stdout for the lifetime of the
// bridge.
func setupFileLogging(path string) (func(), error) {
	if err := utils.EnsureParent(path); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	interceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(interceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// the interceptor stamps the time
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	prev := slog.Default()
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(prev.Handler(), fileHandler)))

	return func() {
		slog.SetDefault(prev)
		_ = interceptor.Close()
		_ = file.Close()
	}, nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Println(vobbyArt)
	color.New(color.FgHiBlack).Println(version.ShortWithApp())
}
