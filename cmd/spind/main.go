package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/spinsense/internal/api"
	"github.com/banshee-data/spinsense/internal/config"
	"github.com/banshee-data/spinsense/internal/db"
	"github.com/banshee-data/spinsense/internal/gyro"
	"github.com/banshee-data/spinsense/internal/httputil"
	"github.com/banshee-data/spinsense/internal/serialmux"
	"github.com/banshee-data/spinsense/internal/spin"
	"github.com/banshee-data/spinsense/internal/timeutil"
	"github.com/banshee-data/spinsense/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode with a synthetic IMU")
	listen     = flag.String("listen", ":8080", "Listen address")
	port       = flag.String("port", "", "Serial port to use, overrides stored and file config (ignored in dev mode)")
	baud       = flag.Int("baud", 0, "Serial baud rate, 0 uses the configured rate")
	dbPath     = flag.String("db-path", "spinsense.db", "Path to the sqlite database")
	configFile = flag.String("config", "", "Path to a JSON config file, defaults apply when empty")
	autostart  = flag.Bool("autostart", true, "Start the detector as soon as the service is up")
)

const shutdownTimeout = 5 * time.Second

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [flags] [command]\n\n", os.Args[0])
	fmt.Fprint(out, `Commands:
  (none)         run the detector service
  migrate <act>  manage the database schema (up, down, status, help)
  status         print the state of a running service
  start          start the detector of a running service
  stop           stop the detector of a running service
  version        print the build version

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		if err := runCommand(context.Background(), args, os.Stdout); err != nil {
			log.Fatalf("%s: %v", args[0], err)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	log.Printf("spind %s", version.String())

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	opts, err := detectorOptions(cfg, database)
	if err != nil {
		log.Fatalf("Failed to load detector config: %v", err)
	}

	mux, snapshot, factory, err := openSerial(cfg, database)
	if err != nil {
		log.Fatalf("Invalid serial configuration: %v", err)
	}
	portManager := api.NewSerialPortManager(database, mux, snapshot, factory)
	defer portManager.Close()
	log.Printf("serial source %s (%s)", snapshot.PortPath, snapshot.Source)

	source := gyro.NewSerialSource(portManager)
	manager, err := api.NewManager(source, opts)
	if err != nil {
		log.Fatalf("Failed to create detector: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := portManager.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	if *autostart {
		startCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		if err := manager.Start(startCtx); err != nil {
			log.Printf("failed to start detector, use POST /api/spin/start to retry: %v", err)
		} else {
			log.Printf("detector started")
		}
		cancel()
	}

	// log transitions so the service is useful without a client attached
	wg.Add(1)
	go func() {
		defer wg.Done()
		logTransitions(ctx, manager)
		log.Print("transition log routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(manager, database)
		apiServer.SetDevice(source)
		apiServer.SetSerialManager(portManager)

		httpMux := apiServer.ServeMux()
		portManager.AttachAdminRoutes(httpMux)
		if err := database.AttachAdminRoutes(httpMux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}
		apiServer.AttachDebugRoutes(httpMux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(httpMux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.Close(closeCtx); err != nil {
		log.Printf("detector close error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// runCommand dispatches the subcommands that do not run the service.
func runCommand(ctx context.Context, args []string, out io.Writer) error {
	switch args[0] {
	case "migrate":
		return db.RunMigrateCommand(args[1:], *dbPath, out)
	case "version":
		fmt.Fprintf(out, "spind %s\n", version.String())
		return nil
	case "status", "start", "stop":
		client := api.NewClient(httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second}), controlURL(*listen))
		return runControl(ctx, client, args[0], out)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// runControl sends one control request to a running service and prints the
// resulting state.
func runControl(ctx context.Context, client *api.Client, action string, out io.Writer) error {
	var (
		status api.SpinStatus
		err    error
	)
	switch action {
	case "status":
		status, err = client.Spin(ctx)
	case "start":
		status, err = client.Start(ctx)
	case "stop":
		status, err = client.Stop(ctx)
	default:
		return fmt.Errorf("unknown control action %q", action)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "running=%v spinning=%v rate=%.1f deg/s dropped=%d\n",
		status.Running, status.Spinning, status.Rate, status.Dropped)
	return nil
}

// controlURL turns a listen address into a URL the control commands can
// reach. A bare ":port" means the local host.
func controlURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func loadConfig(path string) (*config.SpinConfig, error) {
	if path == "" {
		return config.EmptySpinConfig(), nil
	}
	return config.LoadSpinConfig(path)
}

// detectorOptions resolves the detector parameters. A profile saved through
// the API takes precedence over the config file.
func detectorOptions(cfg *config.SpinConfig, database *db.DB) (spin.Options, error) {
	opts := cfg.DetectorOptions()
	if database == nil {
		return opts, nil
	}
	stored, err := database.GetDetectorConfig()
	if err != nil {
		return opts, err
	}
	if stored == nil {
		return opts, nil
	}
	if err := stored.Validate(); err != nil {
		log.Printf("ignoring invalid stored detector profile, fix it with PUT /api/config: %v", err)
		return opts, nil
	}
	log.Printf("using stored detector profile (threshold %.1f deg/s)", stored.Threshold)
	opts = spin.OptionsFromConfig(stored.SpinConfig())
	opts.StatsWindow = stored.StatsWindow
	return opts, nil
}

// serialTarget picks the port to open. The -port flag wins over the first
// enabled stored config, which wins over the config file. Options that do not
// normalise, such as a non-standard -baud, are an error.
func serialTarget(cfg *config.SpinConfig, database *db.DB, portFlag string, baudFlag int) (api.SerialConfigSnapshot, error) {
	snap := api.SerialConfigSnapshot{
		PortPath: cfg.GetSerialPort(),
		Source:   "config",
		Options:  cfg.PortOptions(),
	}
	if database != nil {
		configs, err := database.GetEnabledSerialConfigs()
		if err != nil {
			log.Printf("failed to load serial configs, falling back to config file: %v", err)
		} else if len(configs) > 0 {
			c := configs[0]
			snap = api.SerialConfigSnapshot{
				ConfigID: c.ID,
				Name:     c.Name,
				PortPath: c.PortPath,
				Source:   "database",
				Options:  c.PortOptions(),
			}
		}
	}
	if portFlag != "" {
		snap = api.SerialConfigSnapshot{PortPath: portFlag, Source: "flag", Options: snap.Options}
	}
	if baudFlag > 0 {
		snap.Options.BaudRate = baudFlag
	}
	opts, err := snap.Options.Normalize()
	if err != nil {
		return snap, fmt.Errorf("serial options for %s (%s): %w", snap.PortPath, snap.Source, err)
	}
	snap.Options = opts
	return snap, nil
}

// openSerial returns the initial mux and the factory used for later reloads.
// Dev mode swaps every port for a synthetic IMU. A real port that cannot be
// opened leaves the service up on a disabled mux so it can be reconfigured.
func openSerial(cfg *config.SpinConfig, database *db.DB) (serialmux.SerialMuxInterface, api.SerialConfigSnapshot, api.SerialMuxFactory, error) {
	if *devMode {
		interval := cfg.GetSyntheticInterval()
		factory := func(string, serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
			return serialmux.NewMockSerialMux(timeutil.RealClock{}, interval, gyro.SyntheticLine(time.Now(), uint64(time.Now().UnixNano()))), nil
		}
		mux, _ := factory("", serialmux.PortOptions{})
		return mux, api.SerialConfigSnapshot{PortPath: "synthetic", Source: "dev"}, factory, nil
	}

	factory := func(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
		return serialmux.NewRealSerialMux(path, opts)
	}
	snap, err := serialTarget(cfg, database, *port, *baud)
	if err != nil {
		return nil, snap, nil, err
	}
	mux, err := factory(snap.PortPath, snap.Options)
	if err != nil {
		log.Printf("failed to open serial port %s, running without an IMU: %v", snap.PortPath, err)
		return serialmux.NewDisabledSerialMux(), snap, factory, nil
	}
	return mux, snap, factory, nil
}

func logTransitions(ctx context.Context, manager *api.Manager) {
	for {
		det, id, ch := manager.Watch()
		for open := true; open; {
			select {
			case <-ctx.Done():
				det.Unwatch(id)
				return
			case tr, ok := <-ch:
				if !ok {
					open = false
					break
				}
				log.Printf("spinning=%v rate=%.1f deg/s", tr.Spinning, tr.Rate)
			}
		}
		// The detector was replaced or closed.
		if ctx.Err() != nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}
