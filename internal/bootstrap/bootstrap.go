// Package bootstrap wires configuration into a ready orchestrator: the
// oracle provider, the spreadsheet fetcher, the request cache, and the run log.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/sheetwise/internal/cache"
	"github.com/danielpatrickdp/sheetwise/internal/catalog"
	"github.com/danielpatrickdp/sheetwise/internal/codec"
	"github.com/danielpatrickdp/sheetwise/internal/config"
	"github.com/danielpatrickdp/sheetwise/internal/gemini"
	"github.com/danielpatrickdp/sheetwise/internal/llm"
	"github.com/danielpatrickdp/sheetwise/internal/oracle"
	"github.com/danielpatrickdp/sheetwise/internal/orchestrator"
	"github.com/danielpatrickdp/sheetwise/internal/provenance"
	"github.com/danielpatrickdp/sheetwise/internal/sheets"
)

// App holds the long-lived components of a question-answering process.
type App struct {
	Config       config.Config
	Catalog      *catalog.Catalog
	Oracle       oracle.Oracle
	Sheets       *sheets.Client
	Cache        *cache.Cache
	Store        *provenance.Store
	Orchestrator *orchestrator.Orchestrator

	closers []func() error
}

// Close releases the store and any oracle connection.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// NewOracle builds the oracle named by cfg.OracleProvider. The returned
// close func is never nil.
func NewOracle(ctx context.Context, cfg config.Config) (oracle.Oracle, func() error, error) {
	noop := func() error { return nil }
	if err := cfg.ValidateOracle(); err != nil {
		return nil, noop, err
	}
	switch cfg.OracleProvider {
	case config.ProviderGemini:
		p, err := gemini.New(ctx, gemini.Config{
			APIKey:        cfg.GeminiKey,
			ClassifyModel: cfg.ClassifyModel,
			AnswerModel:   cfg.AnswerModel,
		})
		return p, noop, err
	case config.ProviderCodec:
		c, err := codec.NewClient(cfg.CodecAddr)
		if err != nil {
			return nil, noop, err
		}
		return c, c.Close, nil
	default:
		p, err := llm.NewOpenAIProvider(llm.Config{
			APIURL:        cfg.OpenAIBaseURL,
			APIKey:        cfg.OpenAIKey,
			ClassifyModel: cfg.ClassifyModel,
			AnswerModel:   cfg.AnswerModel,
		})
		return p, noop, err
	}
}

// NewSheets builds the Source Fetcher.
func NewSheets(ctx context.Context, cfg config.Config) (*sheets.Client, error) {
	if err := cfg.ValidateSheets(); err != nil {
		return nil, err
	}
	return sheets.NewClient(ctx, cfg.SpreadsheetID, cfg.Credentials())
}

// Build validates cfg and wires every component. Configuration errors are
// reported before any network call.
func Build(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app := &App{Config: cfg}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	app.Catalog = cat

	o, closeOracle, err := NewOracle(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Oracle = o
	app.closers = append(app.closers, closeOracle)

	sh, err := NewSheets(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Sheets = sh

	var rec orchestrator.Recorder
	if cfg.RunDB != "" {
		store, err := provenance.Open(cfg.RunDB)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("open run log: %w", err)
		}
		app.Store = store
		app.closers = append(app.closers, store.Close)
		rec = store
	}

	if !cfg.PerRunCache {
		app.Cache = cache.New()
	}
	orch, err := orchestrator.New(orchestrator.Config{
		Catalog:     cat,
		Classifier:  o,
		Generator:   o,
		Fetcher:     sh,
		Cache:       app.Cache,
		PerRunCache: cfg.PerRunCache,
		MaxSteps:    cfg.MaxSteps,
		Recorder:    rec,
		Logger:      logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Orchestrator = orch

	logger.WithFields(logrus.Fields{
		"provider":  cfg.OracleProvider,
		"sources":   cat.Len(),
		"max_steps": orch.MaxSteps(),
		"run_db":    cfg.RunDB,
	}).Info("[BOOT] orchestrator ready")
	return app, nil
}
