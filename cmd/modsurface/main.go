package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const version = "0.1.0"

// Environment variables that supply flag defaults (typically from the env file).
const (
	envConfigPath = "MODSURFACE_CONFIG"
	envLogLevel   = "MODSURFACE_LOG_LEVEL"
)

func printVersion() {
	fmt.Printf("modsurface v%s\n", version)
	fmt.Println("Rotary encoder control surface for the MOD effect host")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  modsurface [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Reads rotary encoders and buttons (GPIO, MCP23017 over I2C, or evdev),")
	fmt.Println("  maps them onto the parameters of the selected effect on the MOD host,")
	fmt.Println("  and sends param_set updates over the host websocket.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Printf("        YAML config file (default %q, env %s)\n", defaultConfigPath, envConfigPath)
	fmt.Println()
	fmt.Println("  -env-file string")
	fmt.Printf("        Optional dotenv file loaded before anything else (default %q)\n", defaultEnvFilePath)
	fmt.Println()
	fmt.Println("  -host-ws-url string")
	fmt.Println("        Override host.ws_url")
	fmt.Println()
	fmt.Println("  -host-rest-url string")
	fmt.Println("        Override host.rest_url")
	fmt.Println()
	fmt.Println("  -host-timeout-ms int")
	fmt.Println("        Override host.timeout_ms")
	fmt.Println()
	fmt.Println("  -step-divisions int")
	fmt.Println("        Override surface.step_divisions")
	fmt.Println()
	fmt.Println("  -settle-ms int")
	fmt.Println("        Override surface.settle_ms")
	fmt.Println()
	fmt.Println("  -store string")
	fmt.Println("        Override store.path (\":memory:\" keeps mappings in memory)")
	fmt.Println()
	fmt.Println("  -console")
	fmt.Println("        Override display.console")
	fmt.Println()
	fmt.Println("  -http-listen string")
	fmt.Println("        Override display.http_listen (\"\" disables the display websocket)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Override ipc.socket_path (\"\" disables IPC)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Printf("        Log level: error, warn, info, debug (env %s)\n", envLogLevel)
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Run with the packaged config")
	fmt.Println("  modsurface")
	fmt.Println()
	fmt.Println("  # Bench test without hardware state on disk, boxes on the terminal")
	fmt.Println("  modsurface -config ./dev.yml -store :memory: -console -log-level debug")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - GPIO needs access to /dev/gpiomem, I2C to /dev/i2c-N, evdev to /dev/input")
	fmt.Println("  - The default config file may be absent; defaults are then used")
	fmt.Println()
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath    = flag.String("config", defaultConfigPath, "YAML config file")
		envFile       = flag.String("env-file", defaultEnvFilePath, "Optional dotenv file")
		hostWsURL     = flag.String("host-ws-url", "", "Override host.ws_url")
		hostRestURL   = flag.String("host-rest-url", "", "Override host.rest_url")
		hostTimeoutMS = flag.Int("host-timeout-ms", 0, "Override host.timeout_ms")
		stepDivisions = flag.Int("step-divisions", 0, "Override surface.step_divisions")
		settleMS      = flag.Int("settle-ms", 0, "Override surface.settle_ms")
		storePath     = flag.String("store", "", "Override store.path")
		console       = flag.Bool("console", false, "Override display.console")
		httpListen    = flag.String("http-listen", "", "Override display.http_listen")
		ipcSocket     = flag.String("ipc-socket", "", "Override ipc.socket_path")
		logLevelStr   = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion   = flag.Bool("version", false, "Print version and exit")
		showHelp      = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return 0
	}
	if *showVersion {
		printVersion()
		return 0
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if err := loadEnvFile(*envFile, set["env-file"]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	configExplicit := set["config"]
	if !configExplicit {
		if v := os.Getenv(envConfigPath); v != "" {
			*configPath = v
			configExplicit = true
		}
	}
	if !set["log-level"] {
		if v := os.Getenv(envLogLevel); v != "" {
			*logLevelStr = v
			set["log-level"] = true
		}
	}

	// Only flags given on the command line override the file.
	var o FlagOverrides
	if set["host-ws-url"] {
		o.HostWsURL = hostWsURL
	}
	if set["host-rest-url"] {
		o.HostRestURL = hostRestURL
	}
	if set["host-timeout-ms"] {
		o.HostTimeoutMS = hostTimeoutMS
	}
	if set["step-divisions"] {
		o.StepDivisions = stepDivisions
	}
	if set["settle-ms"] {
		o.SettleMS = settleMS
	}
	if set["store"] {
		o.StorePath = storePath
	}
	if set["console"] {
		o.DisplayConsole = console
	}
	if set["http-listen"] {
		o.HTTPListen = httpListen
	}
	if set["ipc-socket"] {
		o.IPCSocketPath = ipcSocket
	}
	if set["log-level"] {
		o.LogLevel = logLevelStr
	}

	cfg, err := resolveConfig(*configPath, configExplicit, o)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	logger := setupLogger(os.Stdout, logLevel)

	if err := runSurface(&cfg, logger); err != nil {
		logger.Error("modsurface stopped", "error", err)
		return 1
	}
	return 0
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is only an error when the
// path was given explicitly.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(ExpandPath(path)); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// resolveConfig runs defaults, the config file, the overrides and validation,
// in that order. A missing file at the default path falls back to defaults.
func resolveConfig(path string, explicit bool, o FlagOverrides) (Config, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
		cfg = DefaultConfig()
	}
	o.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// runSurface builds the collaborators and runs them until a signal arrives or
// one of them fails.
func runSurface(cfg *Config, logger *slog.Logger) error {
	logger.Debug("starting modsurface", "version", version)

	store, err := openStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	timeout := ms(cfg.Host.TimeoutMS)
	host, err := NewHostClient(cfg.Host.WsURL, timeout, logger)
	if err != nil {
		return err
	}
	defer host.Close()

	var (
		displays multiDisplay
		hubDisp  *hubDisplay
	)
	if cfg.Display.HTTPListen != "" {
		hubDisp = newHubDisplay(256, logger)
		displays = append(displays, hubDisp)
	}
	if cfg.Display.Console {
		displays = append(displays, newConsoleDisplay(os.Stdout))
	}

	d := newDaemon(DaemonDeps{
		Config:      cfg,
		Host:        host,
		Definitions: newHTTPDefinitionSource(cfg.Host.RestURL, timeout, logger),
		Store:       store,
		Display:     displays,
		Logger:      logger,
	})

	var (
		server *Server
		ln     net.Listener
	)
	if hubDisp != nil {
		server = NewServer(logger, d.Snapshot, ServerConfig{})
		ln, err = net.Listen("tcp", cfg.Display.HTTPListen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Display.HTTPListen, err)
		}
	}

	sources := buildSources(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.Run(ctx) })
	g.Go(func() error { return host.Run(ctx, d.DeliverHostLine) })
	for _, src := range sources {
		g.Go(func() error { return src.Run(ctx, d.Samples()) })
	}
	if server != nil {
		g.Go(func() error {
			server.Hub().Run(ctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(ctx, server.Hub(), hubDisp.frames, logger)
			return nil
		})
		g.Go(func() error { return serveHTTP(ctx, ln, newHTTPRouter(server, host.Connected), logger) })
	}
	if cfg.IPC.SocketPath != "" {
		g.Go(func() error { return runIPCServer(ctx, cfg.IPC.SocketPath, d.Intents(), logger) })
	}

	listenInfo := []any{
		"slots", len(cfg.Encoders),
		"buttons", len(cfg.Buttons),
		"sources", len(sources),
		"host_ws", cfg.Host.WsURL,
		"store", cfg.Store.Path,
	}
	if ln != nil {
		listenInfo = append(listenInfo, "http", ln.Addr().String())
	}
	if cfg.IPC.SocketPath != "" {
		listenInfo = append(listenInfo, "ipc", cfg.IPC.SocketPath)
	}
	logger.Info("listening", listenInfo...)

	err = g.Wait()
	logger.Info("shutting down")
	return err
}
