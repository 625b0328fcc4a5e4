// Package syncnode is the command line entry point of the node: run keeps a local node in
// sync with the configured peers until interrupted, simulate syncs it once against freshly
// mined in-memory peers and prints the outcome, settings dumps the resolved configuration.
package syncnode

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dieguito9000/rskj/chaincfg"
	"github.com/dieguito9000/rskj/daemon"
	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
	"github.com/dieguito9000/rskj/settings"
	"github.com/dieguito9000/rskj/ulogger"
	jsoniter "github.com/json-iterator/go"
	"github.com/ordishs/gocore"
	"github.com/urfave/cli/v2"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Run parses args and executes the selected command. It returns the process exit code.
func Run(progname, version, commit string, args []string) int {
	gocore.SetInfo(progname, version, commit)

	app := NewApp(progname, version, commit, os.Stdout)

	if err := app.Run(args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progname, err)
		return 1
	}

	return 0
}

// NewApp builds the cli application writing its command output to out.
func NewApp(progname, version, commit string, out io.Writer) *cli.App {
	settingsFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "network",
			Usage: "network to follow (mainnet, testnet or regtest)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "log level (DEBUG, INFO, WARN, ERROR)",
		},
		&cli.IntFlag{
			Name:  "peers",
			Usage: "number of in-memory peers started next to the local node",
		},
		&cli.IntFlag{
			Name:  "blocks",
			Usage: "number of blocks mined by the first peer before the local node connects",
		},
	}

	return &cli.App{
		Name:      progname,
		Usage:     "keep a local chain in sync with its peers",
		Version:   fmt.Sprintf("%s (%s)", version, commit),
		Writer:    out,
		ErrWriter: os.Stderr,
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the node until interrupted",
				Flags: append(settingsFlags, &cli.StringFlag{
					Name:  "listen",
					Usage: "listen address of the status API",
				}),
				Action: func(c *cli.Context) error {
					tSettings, err := loadSettings(c)
					if err != nil {
						return err
					}

					if c.IsSet("listen") {
						tSettings.Status.HTTPListenAddress = c.String("listen")
					}

					return runNode(c.Context, tSettings, version, commit)
				},
			},
			{
				Name:  "simulate",
				Usage: "sync once against in-memory peers and print the result as JSON",
				Flags: settingsFlags,
				Action: func(c *cli.Context) error {
					tSettings, err := loadSettings(c)
					if err != nil {
						return err
					}

					return simulate(c.Context, tSettings, out)
				},
			},
			{
				Name:  "settings",
				Usage: "print the configuration stats and the resolved settings",
				Flags: settingsFlags,
				Action: func(c *cli.Context) error {
					tSettings, err := loadSettings(c)
					if err != nil {
						return err
					}

					return printSettings(out, tSettings, version, commit)
				},
			},
		},
	}
}

// loadSettings reads settings.conf and applies the command line overrides.
func loadSettings(c *cli.Context) (*settings.Settings, error) {
	tSettings := settings.NewSettings()

	if c.IsSet("network") {
		params, err := chaincfg.GetChainParams(c.String("network"))
		if err != nil {
			return nil, err
		}

		tSettings.Network = c.String("network")
		tSettings.ChainCfgParams = params
	}

	if c.IsSet("log-level") {
		tSettings.LogLevel = c.String("log-level")
	}

	if c.IsSet("peers") {
		tSettings.Simulation.Peers = c.Int("peers")
	}

	if c.IsSet("blocks") {
		tSettings.Simulation.InitialBlocks = c.Int("blocks")
	}

	return tSettings, nil
}

func loggerFactory(tSettings *settings.Settings) func(serviceName string) ulogger.Logger {
	return func(serviceName string) ulogger.Logger {
		return ulogger.New(serviceName, ulogger.WithLevel(tSettings.LogLevel), ulogger.WithPretty(tSettings.PrettyLogs))
	}
}

func runNode(ctx context.Context, tSettings *settings.Settings, version, commit string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := loggerFactory(tSettings)
	logger := factory(tSettings.ClientName)

	stats := gocore.Config().Stats()
	logger.Infof("STATS\n%s\nVERSION\n-------\n%s (%s)\n\n", stats, version, commit)

	d, err := daemon.New(tSettings, daemon.WithContext(ctx), daemon.WithLoggerFactory(factory))
	if err != nil {
		return err
	}

	readyCh := make(chan struct{})

	go func() {
		select {
		case <-readyCh:
			if addr := d.StatusAddr(); addr != "" {
				logger.Infof("status API listening on %s", addr)
			}

			logger.Infof("node %s ready on %s with %d simulated peers", d.Local().Identity, tSettings.Network, len(d.Nodes())-1)
		case <-ctx.Done():
		}
	}()

	if err = d.Start(readyCh); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Infof("node stopped")

	return nil
}

func simulate(ctx context.Context, tSettings *settings.Settings, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := daemon.Simulate(ctx, tSettings, daemon.WithLoggerFactory(loggerFactory(tSettings)))
	if result != nil {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")

		if encodeErr := encoder.Encode(result); encodeErr != nil && err == nil {
			err = errors.NewProcessingError("could not encode simulation result", encodeErr)
		}
	}

	return err
}

type settingsOutput struct {
	Network     string                      `json:"network"`
	ClientName  string                      `json:"client_name"`
	LogLevel    string                      `json:"log_level"`
	StoreURL    string                      `json:"store_url"`
	Sync        settings.SyncSettings       `json:"sync"`
	Scoring     settings.ScoringSettings    `json:"scoring"`
	Status      settings.StatusSettings     `json:"status"`
	Simulation  settings.SimulationSettings `json:"simulation"`
	GenesisHash string                      `json:"genesis_hash"`
}

func printSettings(out io.Writer, tSettings *settings.Settings, version, commit string) error {
	stats := gocore.Config().Stats()
	fmt.Fprintf(out, "STATS\n%s\nVERSION\n-------\n%s (%s)\n\n", stats, version, commit)

	output := settingsOutput{
		Network:    tSettings.Network,
		ClientName: tSettings.ClientName,
		LogLevel:   tSettings.LogLevel,
		Sync:       tSettings.Sync,
		Scoring:    tSettings.Scoring,
		Status:     tSettings.Status,
		Simulation: tSettings.Simulation,
	}

	if tSettings.BlockChain.StoreURL != nil {
		output.StoreURL = tSettings.BlockChain.StoreURL.String()
	}

	if tSettings.ChainCfgParams != nil {
		output.GenesisHash = model.GenesisBlock(tSettings.ChainCfgParams).Hash().String()
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(output); err != nil {
		return errors.NewProcessingError("could not encode settings", err)
	}

	return nil
}
