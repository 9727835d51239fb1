// Command relayer is the process entrypoint: load configuration, build a
// chain.Handler and Reconciler per configured chain, and run until a
// shutdown signal, in the shape of cmd/kcn/main.go (an
// urfave/cli.v1 app with a signal-driven stop, grounded on
// cmd/utils/cmd.go's StartNode).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"gopkg.in/urfave/cli.v1"

	"github.com/tbtc-relay/relayer/config"
	"github.com/tbtc-relay/relayer/internal/backfill"
	"github.com/tbtc-relay/relayer/internal/chain"
	"github.com/tbtc-relay/relayer/internal/deposit"
	"github.com/tbtc-relay/relayer/internal/deposit/index"
	rlog "github.com/tbtc-relay/relayer/internal/log"
	"github.com/tbtc-relay/relayer/internal/notify"
	"github.com/tbtc-relay/relayer/internal/reconcile"
)

var logger = rlog.NewModuleLogger("cmd.relayer")

var configFileFlag = cli.StringFlag{
	Name:  "config",
	Usage: "TOML configuration file",
	Value: "relayer.toml",
}

var indexBackendFlag = cli.StringFlag{
	Name:  "index",
	Usage: "deposit status index backend: leveldb, badger, or none",
	Value: "leveldb",
}

var app = cli.NewApp()

func init() {
	app.Name = "relayer"
	app.Usage = "tBTC cross-chain deposit relayer"
	app.Flags = []cli.Flag{configFileFlag, indexBackendFlag}
	app.Action = run
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	color.Cyan("tBTC relayer starting")

	cfg, err := config.Load(cliCtx.String(configFileFlag.Name))
	if err != nil {
		return err
	}

	var idx deposit.Index
	if backend := cliCtx.String(indexBackendFlag.Name); backend != "none" {
		idx, err = index.Open(index.Backend(backend), cfg.DataDir+"/index")
		if err != nil {
			return fmt.Errorf("cmd.relayer: opening status index: %w", err)
		}
	}

	store, err := deposit.NewStore(cfg.DataDir+"/deposits", idx)
	if err != nil {
		return err
	}
	if idx != nil {
		if err := store.Rebuild(); err != nil {
			logger.Warn("failed to rebuild status index at startup", "err", err)
		}
	}

	notifier, err := buildNotifier(cfg.Kafka)
	if err != nil {
		logger.Warn("notifier disabled", "err", err)
		notifier = notify.NewNoop()
	}
	defer notifier.Close()

	var checkpoint backfill.Checkpoint
	if cfg.Backfill.DSN != "" {
		sqlCheckpoint, err := backfill.NewSQLCheckpoint(cfg.Backfill.DSN)
		if err != nil {
			logger.Warn("backfill checkpoint disabled", "err", err)
		} else {
			checkpoint = sqlCheckpoint
			defer sqlCheckpoint.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconcilers := make([]*reconcile.Reconciler, 0, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		handler, err := chain.NewHandler(chainCfg.ToHandlerConfig())
		if err != nil {
			return fmt.Errorf("cmd.relayer: building handler for %s: %w", chainCfg.Chain, err)
		}

		scanner := backfill.New(chainCfg.Chain, backfill.Config{
			StartBlock: chainCfg.L2StartBlock,
			Window:     10 * time.Minute, // spec.md §5 past-scan loop K
		}, checkpoint)

		r := reconcile.New(reconcile.DefaultConfig(chainCfg.Chain), handler, store, notifier, scanner)
		if err := r.Start(ctx); err != nil {
			return fmt.Errorf("cmd.relayer: starting reconciler for %s: %w", chainCfg.Chain, err)
		}
		reconcilers = append(reconcilers, r)
		logger.Info("reconciler started", "chain", chainCfg.Chain)
	}

	waitForShutdown()

	logger.Info("shutting down")
	cancel()
	for _, r := range reconcilers {
		r.Stop()
	}
	return nil
}

func buildNotifier(cfg config.KafkaConfig) (*notify.Notifier, error) {
	if len(cfg.Brokers) == 0 {
		return notify.NewNoop(), nil
	}
	return notify.New(notify.Config{
		Brokers:     cfg.Brokers,
		Partitions:  cfg.Partitions,
		Replicas:    cfg.Replicas,
		TopicPrefix: cfg.TopicPrefix,
	})
}

// waitForShutdown blocks until SIGINT/SIGTERM, the same shape as the
// cmd/utils.StartNode.
func waitForShutdown() {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	<-sigc
	logger.Info("got interrupt")
}
