package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"signalgate/src/connectors"
	"signalgate/src/controller"
	"signalgate/src/database"
	"signalgate/src/evaluator"
	"signalgate/src/executors"
	"signalgate/src/intake"
	"signalgate/src/ledger"
	"signalgate/src/market"
	"signalgate/src/metrics"
	"signalgate/src/model"
	"signalgate/src/registry"
	"signalgate/src/repository"
	"signalgate/src/risk"
	"signalgate/src/security"
	"signalgate/src/server"
	"signalgate/src/tracker"
)

// Gateway runs the HTTP API together with the enabled intake channels and
// the daily reset loop, all sharing one in-memory evaluator.
type Gateway struct {
	Log *logrus.Entry

	// Overrides for the INTAKE_* settings; nil keeps the environment value.
	Poll  *bool
	Kafka *bool
}

type stack struct {
	deps      server.Deps
	evaluator *evaluator.Evaluator
	signals   *controller.SignalController
}

func (g *Gateway) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if g.Log == nil {
		g.Log = logrus.WithField("cmd", "gateway")
	}
	config := GetConfig()
	if g.Poll != nil {
		config.EnablePoll = *g.Poll
	}
	if g.Kafka != nil {
		config.EnableKafka = *g.Kafka
	}

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		g.Log.WithError(err).Error("Failed to connect to main database")
		return err
	}

	// Initialize read-only database
	if err := database.InitReadOnlyDB(); err != nil {
		g.Log.WithError(err).Error("Failed to connect to read-only database")
		return err
	}

	s, err := g.build(ctx)
	if err != nil {
		g.Log.WithError(err).Error("Failed to build gateway")
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.StartServer(ctx, server.GetConfig(), server.NewRouter(s.deps))
	})
	group.Go(func() error {
		executors.StartResetLoop(ctx, s.evaluator, executors.GetConfig().ResetCheckPeriod, time.Now)
		return nil
	})
	if config.EnablePoll {
		poller := executors.NewPoller(repository.NewAnalystSignalRepository(), s.signals, executors.GetConfig())
		group.Go(func() error {
			return poller.StartLoop(ctx)
		})
	}
	if config.EnableKafka {
		cfg := intake.GetConfig()
		consumer := intake.NewConsumer(intake.NewKafkaReader(cfg), s.signals.HandleMessage, cfg, g.Log)
		group.Go(func() error {
			return consumer.Run(ctx)
		})
	}

	g.Log.WithFields(map[string]interface{}{
		"poll":  config.EnablePoll,
		"kafka": config.EnableKafka,
	}).Info("gateway started")

	if err := group.Wait(); err != nil {
		g.Log.WithError(err).Error("gateway stopped")
		return err
	}
	g.Log.Info("gateway stopped")
	return nil
}

func (g *Gateway) build(ctx context.Context) (*stack, error) {
	rec := metrics.New(prometheus.NewRegistry())
	exceptions := repository.NewExceptionRepository()
	settlements := repository.NewSettlementRepository()
	orders := repository.NewOrderRepository()

	led := ledger.New(g.Log, repository.NewLedgerRepository(), exceptions, rec)
	if err := led.Load(ctx); err != nil {
		return nil, err
	}

	reg := registry.New(g.Log, repository.NewAnalystRepository(), led)
	if err := reg.Load(ctx); err != nil {
		return nil, err
	}

	trk, err := tracker.New(g.Log, tracker.GetConfig(), reg, settlements, rec)
	if err != nil {
		return nil, err
	}
	if err := trk.Load(ctx); err != nil {
		return nil, err
	}

	rules, err := risk.GetConfig().InitialRuleSet()
	if err != nil {
		return nil, fmt.Errorf("risk rules: %w", err)
	}
	evalCfg := evaluator.GetConfig()
	eval, err := evaluator.New(g.Log, evalCfg, rules, evaluator.Deps{
		Analysts: reg,
		Settler:  trk,
		Ledger:   led,
		Store:    repository.NewAccountRepository(),
		Metrics:  rec,
	})
	if err != nil {
		return nil, err
	}
	if err := eval.Load(ctx); err != nil {
		return nil, err
	}
	if _, err := eval.OpenAccount(ctx, model.AccountID(evalCfg.AccountID), decimal.NewFromFloat(evalCfg.AccountEquity)); err != nil {
		return nil, err
	}

	var quotes intake.QuoteSource
	src, err := market.NewSource(market.GetConfig(), g.Log, rec)
	if err != nil {
		return nil, err
	}
	if src != nil {
		quotes = src
	}

	secrets := security.GetConfig()
	sink, err := connectors.NewOrderSink(connectors.GetConfig(), secrets.SigningSecret)
	if err != nil {
		return nil, err
	}

	normalizer := intake.NewNormalizer(g.Log, reg, quotes, model.AccountID(intake.GetConfig().DefaultAccount))
	dispatcher := controller.NewDispatcher(g.Log, orders, sink, exceptions, rec)
	signals := controller.NewSignalController(g.Log, normalizer, eval, dispatcher, rec)

	return &stack{
		deps: server.Deps{
			Signals:     signals,
			Evaluator:   eval,
			Registry:    reg,
			Ledger:      led,
			Orders:      orders,
			Settlements: settlements,
			Exceptions:  exceptions,
			Metrics:     rec,
			FillSecret:  secrets.SigningSecret,
			FillMaxSkew: secrets.MaxSkew,
		},
		evaluator: eval,
		signals:   signals,
	}, nil
}
