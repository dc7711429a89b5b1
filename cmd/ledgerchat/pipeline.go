package main

import (
	"fmt"
	"log/slog"

	"github.com/ashureev/ledgerchat/internal/action"
	"github.com/ashureev/ledgerchat/internal/agent"
	"github.com/ashureev/ledgerchat/internal/config"
	"github.com/ashureev/ledgerchat/internal/conversation"
	"github.com/ashureev/ledgerchat/internal/intent"
	"github.com/ashureev/ledgerchat/internal/ledger"
	"github.com/ashureev/ledgerchat/internal/responder"
	"github.com/ashureev/ledgerchat/internal/store"
)

// pipeline holds the wired chat service and the resources it owns.
type pipeline struct {
	service    *agent.Service
	registry   *conversation.Registry
	store      store.SessionStore
	sim        *ledger.Simulated
	classifier *intent.GrpcClassifier
	network    *config.Network
}

func buildPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	p := &pipeline{network: cfg.Network}

	st, err := store.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize session store: %w", err)
	}
	p.store = st

	opts := []conversation.Option{
		conversation.WithHistoryWindow(cfg.Conversation.HistoryWindow),
		conversation.WithLogger(logger),
	}
	if st != nil {
		opts = append(opts, conversation.WithStore(st))
	}
	p.registry = conversation.NewRegistry(opts...)

	var provider ledger.Provider
	if cfg.Simulated() {
		p.sim = ledger.NewSimulated()
		provider = p.sim
		logger.Info("Using simulated ledger")
	} else {
		provider = ledger.NewGateway(cfg.Ledger.RPCURL, cfg.Ledger.Timeout)
		logger.Info("Using ledger gateway", "rpc_url", cfg.Ledger.RPCURL, "network", cfg.Network.Name)
	}
	ledgerOpts := ledger.OptionsFromConfig(cfg.Ledger, cfg.Network)
	ledgerOpts.Logger = logger
	interactor := ledger.NewInteractor(provider, cfg.Network, ledgerOpts)

	builder, err := action.NewBuilder(cfg.Network)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("initialize action builder: %w", err)
	}

	var classifier agent.Classifier
	if cfg.Classifier.Addr != "" {
		c, err := intent.NewGrpcClassifier(cfg.Classifier.Addr, cfg.Classifier.Timeout, cfg.Classifier.Timeout, logger)
		if err != nil {
			logger.Warn("Intent classifier unavailable, using built-in rules", "error", err)
		} else {
			p.classifier = c
			classifier = c
		}
	}

	var gen responder.Generator
	if g := responder.NewOpenAIGenerator(cfg.LLM); g != nil {
		gen = g
		logger.Info("Free-form replies enabled", "model", cfg.LLM.Model)
	}

	p.service, err = agent.NewService(agent.ServiceConfig{
		Registry:        p.registry,
		Recognizer:      intent.NewRecognizer(cfg.Conversation.ConfidenceThreshold),
		Classifier:      classifier,
		Builder:         builder,
		Ledger:          interactor,
		Responder:       responder.New(gen, cfg.Network, logger),
		ConfirmationTTL: cfg.Conversation.ConfirmationTTL,
		Logger:          logger,
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the classifier connection and the store.
func (p *pipeline) Close() {
	if p.classifier != nil {
		p.classifier.Close()
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			slog.Error("Failed to close session store", "error", err)
		}
	}
}
