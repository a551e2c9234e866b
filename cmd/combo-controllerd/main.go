// Command combo-controllerd runs the pump control daemon: it loads a YAML
// config, opens the sqlite pump store, starts the monitor websocket server
// and (if configured) the diagnostics frame tee, and constructs the
// controller. No front-end (CLI/UI) is attached: the controller is built
// but no operation is invoked on it or exposed by this binary.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/agsys/combo-control/internal/btio"
	"github.com/agsys/combo-control/internal/controller"
	"github.com/agsys/combo-control/internal/diagnostics"
	"github.com/agsys/combo-control/internal/monitor"
	"github.com/agsys/combo-control/internal/store"
)

// Config is the on-disk daemon configuration.
type Config struct {
	Pump struct {
		FriendlyNameFilter string `yaml:"friendly_name_filter"`
		PinTimeoutSeconds  int    `yaml:"pin_timeout_seconds"`
		Major              uint8  `yaml:"app_major"`
		Minor              uint8  `yaml:"app_minor"`
	} `yaml:"pump"`

	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`

	Monitor struct {
		ListenAddr           string `yaml:"listen_addr"`
		WriteTimeoutSeconds  int    `yaml:"write_timeout_seconds"`
		PingIntervalSeconds  int    `yaml:"ping_interval_seconds"`
	} `yaml:"monitor"`

	Diagnostics struct {
		Enabled   bool   `yaml:"enabled"`
		ListenURL string `yaml:"listen_url"`
	} `yaml:"diagnostics"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "combo-controllerd",
		Short: "Accu-Chek Spirit Combo pump control daemon",
		Long:  "Control daemon for the Accu-Chek Spirit Combo insulin pump over Bluetooth RFCOMM.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the control daemon",
		RunE:  runDaemon,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("combo-controllerd v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/combo-control/controllerd.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// btProvider is the daemon's single platform-Bluetooth extension point.
// internal/btio.Provider is an external collaborator this repository
// deliberately does not implement (RFCOMM/SDP access is platform-specific
// and out of scope); a deployment wires a concrete Provider in here before
// calling run, the same way database/sql defers to a registered driver.
var btProvider btio.Provider

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if btProvider == nil {
		return fmt.Errorf("no btio.Provider wired into this build; see var btProvider in main.go")
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open pump store: %w", err)
	}
	defer st.Close()

	ctrlCfg := controller.Config{
		BTProvider: btProvider,
		PinPrompt:  stdinPinPrompt{timeout: time.Duration(cfg.Pump.PinTimeoutSeconds) * time.Second},
		Store:      st,
		Major:      cfg.Pump.Major,
		Minor:      cfg.Pump.Minor,
	}

	if cfg.Diagnostics.Enabled {
		tee := diagnostics.New(diagnostics.Config{ListenURL: cfg.Diagnostics.ListenURL})
		if err := tee.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start diagnostics tee: %w", err)
		}
		defer tee.Stop()
		ctrlCfg.Diagnostics = tee
	}

	ctl := controller.New(ctrlCfg)
	_ = ctl

	monCfg := monitor.DefaultConfig()
	monCfg.ListenAddr = cfg.Monitor.ListenAddr
	if cfg.Monitor.WriteTimeoutSeconds > 0 {
		monCfg.WriteTimeout = time.Duration(cfg.Monitor.WriteTimeoutSeconds) * time.Second
	}
	if cfg.Monitor.PingIntervalSeconds > 0 {
		monCfg.PingInterval = time.Duration(cfg.Monitor.PingIntervalSeconds) * time.Second
	}
	mon := monitor.New(monCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitor server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("combo-controllerd listening for UI connections on %s", monCfg.ListenAddr)
	sig := <-sigChan
	log.Printf("received signal %v, shutting down...", sig)

	log.Println("shutdown complete")
	return nil
}

// stdinPinPrompt is a minimal btio.PinPrompt that reads the pairing PIN
// from standard input, for headless operation against a terminal.
type stdinPinPrompt struct {
	timeout time.Duration
}

func (p stdinPinPrompt) AskPIN(ctx context.Context, addr string, previousAttemptFailed bool) ([10]uint8, error) {
	var pin [10]uint8
	if previousAttemptFailed {
		fmt.Printf("PIN rejected, re-enter the 10-digit PIN for %s: ", addr)
	} else {
		fmt.Printf("Enter the 10-digit PIN for %s: ", addr)
	}
	var raw string
	if _, err := fmt.Scanln(&raw); err != nil {
		return pin, err
	}
	if len(raw) != 10 {
		return pin, fmt.Errorf("pin must be exactly 10 digits, got %d", len(raw))
	}
	for i := 0; i < 10; i++ {
		d := raw[i]
		if d < '0' || d > '9' {
			return pin, fmt.Errorf("pin must be all digits")
		}
		pin[i] = d - '0'
	}
	return pin, nil
}
