// plasma-setup-helper is the privileged companion of the first-boot
// setup wizard. It runs as a bus-activated system service and performs
// the actions the unprivileged setup session may not: creating the user
// account, handing configuration over to it, and managing the temporary
// autologin.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/lmittmann/tint"

	"github.com/plasma-setup/setup-helper/internal/config"
	"github.com/plasma-setup/setup-helper/internal/daemon"
	"github.com/plasma-setup/setup-helper/internal/flagfile"
	"github.com/plasma-setup/setup-helper/internal/helper"
	"github.com/plasma-setup/setup-helper/internal/platform"
	"github.com/plasma-setup/setup-helper/internal/service"
)

var version = "0.1.0"

var progName = filepath.Base(os.Args[0])

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "execute":
		runExecute(os.Args[2:])
	case "remove-autologin":
		runRemoveAutologin(os.Args[2:])
	case "wait-flag":
		runWaitFlag(os.Args[2:])
	case "set-hostname":
		runSetHostname(os.Args[2:])
	case "set-timezone":
		runSetTimezone(os.Args[2:])
	case "set-locale":
		runSetLocale(os.Args[2:])
	case "service":
		runService(os.Args[2:])
	case "version":
		fmt.Println(version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [options]

Commands:
  serve            Run the helper daemon (started by systemd)
  execute          Call one helper action over D-Bus
  remove-autologin Remove the temporary autologin (called by the autostart hook)
  wait-flag        Block until the setup-complete marker appears
  set-hostname     Set the static hostname via hostnamed
  set-timezone     Set the system timezone via timedated
  set-locale       Set the system locale via localed
  service          Manage the systemd system service
  version          Print the version

Run '%s <command> -h' for command-specific help.
`, progName, progName)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: "+config.DefaultPath+")")
	busAddress := fs.String("bus-address", "", "D-Bus address (default: the system bus)")
	logLevel := fs.String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "text", "Log format: text (colored) or json")
	fs.Parse(args)

	// Load config and apply values for flags not explicitly set
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	set := setFlags(fs)
	if !set["bus-address"] && cfg.BusAddress != "" {
		*busAddress = cfg.BusAddress
	}
	if !set["log-level"] && cfg.LogLevel != "" {
		*logLevel = cfg.LogLevel
	}
	if !set["log-format"] && cfg.LogFormat != "" {
		*logFormat = cfg.LogFormat
	}
	cfg = cfg.WithDefaults()

	setupLogging(*logLevel, *logFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	err = daemon.Run(ctx, daemon.Config{
		BusAddress: *busAddress,
		Version:    version,
		Helper: helper.Config{
			SourceDir:     cfg.Paths.SourceDir,
			AutologinPath: cfg.Paths.Autologin,
			SettingsPath:  cfg.Paths.Settings,
			FlagPath:      flagPathOrDefault(cfg),
			SetupConfPath: cfg.Paths.SetupConf,
			SetupUnit:     cfg.SetupUnit,
		},
		LoginDefsPath: cfg.Paths.LoginDefs,
		PasswdPath:    cfg.Paths.Passwd,
		ActionTimeout: time.Duration(cfg.ActionTimeout),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runExecute calls one action on the running (or bus-activated) daemon.
// Arguments are key=value pairs; repeating a key builds a string list.
func runExecute(args []string) {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	busAddress := fs.String("bus-address", "", "D-Bus address (default: the system bus)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s execute [options] <action> [key=value ...]\n", progName)
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}
	action := fs.Arg(0)
	variants, err := parseActionArgs(fs.Args()[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	out, err := callHelper(*busAddress, action, variants)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	for k, v := range out {
		fmt.Printf("%s=%s\n", k, v)
	}
}

// runRemoveAutologin is what the autostart hook in the new user's
// session invokes. It asks the daemon to drop the temporary autologin;
// the privileged side does the file work.
func runRemoveAutologin(args []string) {
	fs := flag.NewFlagSet("remove-autologin", flag.ExitOnError)
	busAddress := fs.String("bus-address", "", "D-Bus address (default: the system bus)")
	fs.Parse(args)

	if _, err := callHelper(*busAddress, "removeAutologin", nil); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runWaitFlag(args []string) {
	fs := flag.NewFlagSet("wait-flag", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: "+config.DefaultPath+")")
	path := fs.String("path", "", "Marker path (default: "+flagfile.DefaultPath+")")
	timeout := fs.Duration("timeout", 0, "Give up after this long (0 waits forever)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *path == "" {
		*path = flagPathOrDefault(cfg)
	}

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}
	if err := flagfile.Wait(ctx, *path); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runSetHostname(args []string) {
	runPlatform("set-hostname", args, func(ctx context.Context, s *platform.Settings, fs *flag.FlagSet) error {
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: %s set-hostname <hostname>", progName)
		}
		return s.SetStaticHostname(ctx, fs.Arg(0))
	})
}

func runSetTimezone(args []string) {
	runPlatform("set-timezone", args, func(ctx context.Context, s *platform.Settings, fs *flag.FlagSet) error {
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: %s set-timezone <zone>", progName)
		}
		return s.SetTimezone(ctx, fs.Arg(0))
	})
}

func runSetLocale(args []string) {
	runPlatform("set-locale", args, func(ctx context.Context, s *platform.Settings, fs *flag.FlagSet) error {
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: %s set-locale LANG=... [LC_*=...]", progName)
		}
		return s.SetLocale(ctx, fs.Args())
	})
}

// runPlatform shares the bus connection and error plumbing of the three
// machine-settings subcommands.
func runPlatform(name string, args []string, fn func(context.Context, *platform.Settings, *flag.FlagSet) error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	busAddress := fs.String("bus-address", "", "D-Bus address (default: the system bus)")
	fs.Parse(args)

	settings, err := platform.Connect(*busAddress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer settings.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := fn(ctx, settings, fs); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runService handles the "service" subcommand group (install/uninstall/status).
func runService(args []string) {
	if len(args) == 0 {
		printServiceUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "install":
		runServiceInstall(args[1:])
	case "uninstall":
		if err := service.Uninstall(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "status":
		service.Status()
	case "-h", "--help", "help":
		printServiceUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown service command: %s\n\n", args[0])
		printServiceUsage()
		os.Exit(1)
	}
}

func runServiceInstall(args []string) {
	fs := flag.NewFlagSet("service install", flag.ExitOnError)
	start := fs.Bool("start", false, "Start the service immediately after installing")
	configPath := fs.String("config", "", "Config file path to embed in the unit file")
	fs.Parse(args)

	flagPath := ""
	if *configPath != "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		flagPath = cfg.Paths.FlagFile
	}

	if err := service.Install(service.Options{
		ConfigPath: *configPath,
		FlagPath:   flagPath,
		Start:      *start,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printServiceUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s service <command> [options]

Commands:
  install       Install and enable the systemd system service
  uninstall     Stop, disable, and remove the systemd system service
  status        Show the service status

Install options:
  --start       Start the service immediately after installing
  --config      Config file path to embed in the unit file's ExecStart
`, progName)
}

// callHelper performs one Execute call against the helper daemon.
func callHelper(busAddress, action string, args map[string]dbus.Variant) (map[string]string, error) {
	var conn *dbus.Conn
	var err error
	if busAddress == "" {
		conn, err = dbus.ConnectSystemBus()
	} else {
		conn, err = dbus.Connect(busAddress)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to D-Bus: %w", err)
	}
	defer conn.Close()

	if args == nil {
		args = map[string]dbus.Variant{}
	}
	var out map[string]string
	obj := conn.Object(daemon.BusName, daemon.ObjectPath)
	if err := obj.Call(daemon.Interface+".Execute", 0, action, args).Store(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseActionArgs turns key=value pairs into a variant map. A key given
// more than once becomes a string list.
func parseActionArgs(pairs []string) (map[string]dbus.Variant, error) {
	out := make(map[string]dbus.Variant, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", pair)
		}
		if prev, dup := out[key]; dup {
			switch v := prev.Value().(type) {
			case string:
				out[key] = dbus.MakeVariant([]string{v, value})
			case []string:
				out[key] = dbus.MakeVariant(append(v, value))
			}
			continue
		}
		out[key] = dbus.MakeVariant(value)
	}
	return out, nil
}

func setupLogging(logLevel, logFormat string) {
	level := parseLogLevel(logLevel)

	var handler slog.Handler
	switch logFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		// When running under systemd, the journal adds its own timestamps.
		underSystemd := os.Getenv("INVOCATION_ID") != ""
		opts := &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    underSystemd,
		}
		if underSystemd {
			opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.Attr{}
				}
				return a
			}
		}
		handler = tint.NewHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func flagPathOrDefault(cfg *config.Config) string {
	if cfg.Paths.FlagFile != "" {
		return cfg.Paths.FlagFile
	}
	return flagfile.DefaultPath
}

// loadConfig loads a config file. An explicit path that doesn't exist is an error.
// A missing default path is silently ignored (returns empty config).
func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		cfg, err := config.Load(explicitPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", explicitPath, err)
		}
		// If the explicit path didn't exist, Load returns empty config.
		// We need to distinguish: check if the file actually exists.
		if _, statErr := os.Stat(explicitPath); statErr != nil {
			return nil, fmt.Errorf("config file not found: %s", explicitPath)
		}
		return cfg, nil
	}

	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", config.DefaultPath, err)
	}
	return cfg, nil
}

// setFlags returns the set of flag names that were explicitly provided on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	m := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { m[f.Name] = true })
	return m
}
