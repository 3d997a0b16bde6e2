package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"grantledger/internal/amqp"
	"grantledger/internal/catalog"
	"grantledger/internal/config"
	"grantledger/internal/listener"
	"grantledger/internal/pipeline"
	"grantledger/internal/storage"
	"grantledger/internal/util"
)

func main() {
	cfg, err := config.Load()
	must(err)
	must(util.SetLogLevel(cfg.LogLevel))

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	rules, err := catalog.Load(cfg.RulesPath)
	must(err)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc := listener.NewService(db, cfg, pipeline.NewClassifier(rules))

	// The broker is optional; when configured it must be reachable before
	// the first cycle so no import event is dropped.
	if cfg.AMQPURL != "" {
		client := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		must(client.Connect(ctx))
		defer client.Close()
		svc.WithNotifier(client)
	}
	util.Log.WithField("provider", cfg.MailListenerProvider).Info("inbox listener started")
	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
