package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/abstract-rmax/internal/codec"
	"github.com/danielpatrickdp/abstract-rmax/internal/config"
	"github.com/danielpatrickdp/abstract-rmax/internal/env"
	"github.com/danielpatrickdp/abstract-rmax/internal/executor"
	"github.com/danielpatrickdp/abstract-rmax/internal/learner"
	"github.com/danielpatrickdp/abstract-rmax/internal/logging"
	"github.com/danielpatrickdp/abstract-rmax/internal/report"
	"github.com/danielpatrickdp/abstract-rmax/internal/snapshot"
	"github.com/danielpatrickdp/abstract-rmax/internal/trace"
	"github.com/danielpatrickdp/abstract-rmax/internal/trainer"
)

// #region main
func main() {
	envFile := flag.String("env", ".env", "optional .env file with ARMAX_* settings")
	remote := flag.String("remote", "", "gRPC address of a level-0 policy server (overrides ARMAX_POLICY_ADDR)")
	steps := flag.Int("steps", 0, "primitive step budget (overrides ARMAX_STEPS)")
	dbPath := flag.String("db", "", "SQLite path (overrides ARMAX_DB)")
	outDir := flag.String("out", "", "report and trace directory (overrides ARMAX_OUT)")
	desc := flag.String("desc", "rooms", "run description")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *remote != "" {
		cfg.PolicyAddr = *remote
	}
	if *steps > 0 {
		cfg.Trainer.Steps = *steps
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *outDir != "" {
		cfg.OutDir = *outDir
	}

	log := logrus.New()
	log.SetLevel(cfg.Level())
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, *desc, log); err != nil {
		log.WithError(err).Error("training failed")
		os.Exit(1)
	}
}
// #endregion main

// #region run
func run(ctx context.Context, cfg config.Config, desc string, log *logrus.Logger) error {
	rooms, err := env.New(cfg.Env)
	if err != nil {
		return err
	}

	policy, closePolicy, err := newPolicy(cfg)
	if err != nil {
		return err
	}
	defer closePolicy()
	driver := executor.NewDriver(policy, cfg.Executor, log.WithField("component", "executor"))

	store, err := snapshot.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runRec, err := store.CreateRun(desc, cfg)
	if err != nil {
		return err
	}
	runLog := log.WithField("run", shortID(runRec.RunID))
	runLog.WithFields(logrus.Fields{
		"db":     cfg.DBPath,
		"policy": policyName(cfg),
		"steps":  cfg.Trainer.Steps,
	}).Info("run started")

	rec := trace.NewRecorder(desc, cfg.Learner)
	l, err := learner.New(rooms, rooms.Abstractor(), driver, cfg.Learner,
		learner.WithLogger(runLog.WithField("component", "learner")),
		learner.WithRecorder(rec),
		learner.WithObserver(rec),
		learner.WithObserver(logging.NewObserver(store.DB(), runRec.RunID, runLog)),
	)
	if err != nil {
		return err
	}

	sink := trainer.NewStoreSink(store, runRec.RunID, l.Core)
	tr, err := trainer.New(l, rooms, cfg.Trainer,
		trainer.WithLogger(runLog.WithField("component", "trainer")),
		trainer.WithSink(sink),
	)
	if err != nil {
		return err
	}

	res, trainErr := tr.Train(ctx)
	if trainErr != nil && !errors.Is(trainErr, context.Canceled) {
		return trainErr
	}
	if trainErr != nil {
		runLog.Warn("interrupted, saving partial run")
	}

	if err := sink.Finish(res.Steps); err != nil {
		return err
	}
	active, err := store.Active(runRec.RunID)
	if err != nil {
		return err
	}

	name := "run-" + shortID(runRec.RunID)
	paths, err := report.Write(cfg.OutDir, name, res, &active)
	if err != nil {
		return err
	}
	tracePath := filepath.Join(cfg.OutDir, name+"-trace.json")
	if err := rec.Fixture().Save(tracePath); err != nil {
		return err
	}

	runLog.WithFields(logrus.Fields{
		"steps":    res.Steps,
		"episodes": len(res.Episodes),
		"states":   l.Graph().Len(),
		"actions":  l.Graph().NumActions(),
		"best":     res.BestReward,
		"chart":    paths.Chart,
		"workbook": paths.Workbook,
		"trace":    tracePath,
	}).Info("run finished")
	return nil
}

func newPolicy(cfg config.Config) (executor.Policy, func(), error) {
	if cfg.PolicyAddr != "" {
		client, err := codec.NewPolicyClient(cfg.PolicyAddr)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { client.Close() }, nil
	}
	tab, err := executor.NewTabularPolicy(cfg.Tabular)
	if err != nil {
		return nil, nil, err
	}
	return tab, func() {}, nil
}

func policyName(cfg config.Config) string {
	if cfg.PolicyAddr != "" {
		return "remote " + cfg.PolicyAddr
	}
	return "tabular"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
// #endregion run
