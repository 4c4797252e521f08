package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/sheetwise/internal/cache"
	"github.com/danielpatrickdp/sheetwise/internal/catalog"
	"github.com/danielpatrickdp/sheetwise/internal/errs"
	"github.com/danielpatrickdp/sheetwise/internal/oracle"
)

// #endregion

// DefaultMaxSteps caps generation rounds per run.
const DefaultMaxSteps = 5

// #region orchestrator-struct

// Config wires an Orchestrator. Catalog, Classifier, Generator and Fetcher are required.
type Config struct {
	Catalog    *catalog.Catalog
	Classifier oracle.Classifier
	Generator  oracle.Generator
	Fetcher    Fetcher

	// Cache is shared by every run. A nil Cache, or PerRunCache, gives each
	// run its own fresh cache.
	Cache       *cache.Cache
	PerRunCache bool

	MaxSteps int
	Recorder Recorder
	Logger   *logrus.Logger
}

// Orchestrator runs questions through selection, gated retrieval, and answering.
type Orchestrator struct {
	selector    *Selector
	generator   oracle.Generator
	fetcher     Fetcher
	cache       *cache.Cache
	perRunCache bool
	maxSteps    int
	recorder    Recorder
	logger      *logrus.Logger
}

// #endregion

// #region constructor

// New validates cfg and returns a ready Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	var missing []string
	if cfg.Catalog == nil {
		missing = append(missing, "catalog")
	}
	if cfg.Classifier == nil {
		missing = append(missing, "classifier")
	}
	if cfg.Generator == nil {
		missing = append(missing, "generator")
	}
	if cfg.Fetcher == nil {
		missing = append(missing, "fetcher")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("orchestrator: missing %s", strings.Join(missing, ", "))
	}

	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := cfg.Cache
	perRun := cfg.PerRunCache || c == nil

	return &Orchestrator{
		selector:    NewSelector(cfg.Catalog, cfg.Classifier),
		generator:   cfg.Generator,
		fetcher:     cfg.Fetcher,
		cache:       c,
		perRunCache: perRun,
		maxSteps:    maxSteps,
		recorder:    cfg.Recorder,
		logger:      logger,
	}, nil
}

// #endregion

// #region accessors

// Selector exposes the selection phase on its own.
func (o *Orchestrator) Selector() *Selector { return o.selector }

// MaxSteps returns the round budget.
func (o *Orchestrator) MaxSteps() int { return o.maxSteps }

// #endregion

// #region handle

// Handle answers the question carried by conv. Answer text is sent to
// streamer as it arrives. The returned Run is non-nil even on failure; a
// failed run returns a *RunError.
func (o *Orchestrator) Handle(ctx context.Context, conv oracle.Conversation, streamer TokenStreamer) (*Run, error) {
	run := &Run{
		ID:           uuid.NewString(),
		Question:     UserQuestion(conv),
		State:        StateSelecting,
		Conversation: conv.Clone(),
		StartedAt:    time.Now().UTC(),
	}
	log := o.logger.WithField("run_id", run.ID)
	log.WithField("question", run.Question).Info("[ORCH] run started")

	err := o.execute(ctx, run, streamer, log)
	run.FinishedAt = time.Now().UTC()
	runRounds.Observe(float64(run.Rounds))

	var failedIn State
	if err != nil {
		failedIn = run.State
		run.Err = err
		o.transition(run, StateFailed, log)
		runsTotal.WithLabelValues("failed").Inc()
		log.WithError(err).WithFields(logrus.Fields{
			"state":  failedIn,
			"rounds": run.Rounds,
		}).Warn("[ORCH] run failed")
	} else {
		runsTotal.WithLabelValues("done").Inc()
		log.WithFields(logrus.Fields{
			"rounds":  run.Rounds,
			"fetches": len(run.Fetches),
		}).Info("[ORCH] run done")
	}

	if o.recorder != nil {
		// Failed and cancelled runs are recorded too.
		if recErr := o.recorder.Record(context.WithoutCancel(ctx), run); recErr != nil {
			log.WithError(recErr).Warn("[ORCH] failed to record run")
		}
	}

	if err != nil {
		return run, &RunError{RunID: run.ID, State: failedIn, Err: err}
	}
	return run, nil
}

// #endregion

// #region execute

func (o *Orchestrator) execute(ctx context.Context, run *Run, streamer TokenStreamer, log *logrus.Entry) error {
	start := time.Now()
	sel, err := o.selector.Select(ctx, run.Question)
	oracleDuration.WithLabelValues("classify").Observe(time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, errs.ErrEmptyQuestion) {
			oracleCallsTotal.WithLabelValues("classify", "error").Inc()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	oracleCallsTotal.WithLabelValues("classify", "success").Inc()
	if sel.Fallback {
		selectionFallbackTotal.Inc()
	}
	run.Selection = sel
	log.WithFields(logrus.Fields{
		"sources":  sel.Names(),
		"fallback": sel.Fallback,
	}).Info("[ORCH] sources selected")

	if err := o.transition(run, StateToolPhase, log); err != nil {
		return err
	}

	c := o.cache
	if o.perRunCache {
		c = cache.New()
	}
	reader := newSourceReader(sel, c, o.fetcher, log)
	req := oracle.Request{
		System: answerPrompt(sel.SummaryText),
		Tools:  []oracle.ToolDefinition{ReadSourceDefinition()},
	}
	tes, _ := streamer.(ToolEventStreamer)

	for round := 1; round <= o.maxSteps; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		run.Rounds = round
		req.Conversation = run.Conversation
		req.RequireTool = len(reader.pending()) > 0

		text, calls, err := o.generateRound(ctx, req, streamer)
		if err != nil {
			return err
		}

		if len(calls) == 0 {
			if strings.TrimSpace(text) == "" {
				return &errs.OracleError{Role: "generate", Err: errors.New("empty answer")}
			}
			if err := o.transition(run, StateAnswering, log); err != nil {
				return err
			}
			run.Conversation = append(run.Conversation, oracle.AssistantTurn(text, nil))
			run.Answer = text
			return o.transition(run, StateDone, log)
		}

		run.Conversation = append(run.Conversation, oracle.AssistantTurn(text, calls))
		results := make([]oracle.ToolResult, 0, len(calls))
		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				return err
			}
			if tes != nil {
				_ = tes.SendToolStart(call.Name)
			}
			res := reader.execute(ctx, call)
			sourceFetchTotal.WithLabelValues(string(res.Outcome)).Inc()
			run.Fetches = append(run.Fetches, res)
			log.WithFields(logrus.Fields{
				"round":   round,
				"source":  res.Name,
				"outcome": res.Outcome,
			}).Debug("[TOOL] readSource")
			if tes != nil {
				_ = tes.SendToolEnd(call.Name, res.Error)
			}
			results = append(results, oracle.ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Content: toolContent(res),
				IsError: !res.Success,
			})
		}
		run.Conversation = append(run.Conversation, oracle.ToolTurn(results))
	}

	log.WithField("pending", reader.pending()).Warn("[ORCH] step budget exhausted")
	return errs.ErrStepBudgetExceeded
}

// #endregion

// #region generate-round

// generateRound streams one generation round, forwarding text as it arrives
// and collecting the requested tool calls.
func (o *Orchestrator) generateRound(ctx context.Context, req oracle.Request, streamer TokenStreamer) (string, []oracle.ToolCall, error) {
	start := time.Now()
	defer func() {
		oracleDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	}()

	stream, err := o.generator.Generate(ctx, req)
	if err != nil {
		oracleCallsTotal.WithLabelValues("generate", "error").Inc()
		return "", nil, generateError(ctx, err)
	}
	defer stream.Close()

	var text strings.Builder
	var calls []oracle.ToolCall
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			oracleCallsTotal.WithLabelValues("generate", "error").Inc()
			return text.String(), nil, generateError(ctx, err)
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if streamer != nil {
				if err := streamer.SendToken(chunk.Text); err != nil {
					return text.String(), nil, fmt.Errorf("stream token: %w", err)
				}
			}
		}
		if len(chunk.ToolCalls) > 0 {
			calls = mergeToolCalls(calls, chunk.ToolCalls)
		}
	}
	oracleCallsTotal.WithLabelValues("generate", "success").Inc()
	return text.String(), calls, nil
}

// #endregion

// #region helpers

func (o *Orchestrator) transition(run *Run, to State, log *logrus.Entry) error {
	if !run.State.CanTransition(to) {
		return fmt.Errorf("invalid transition %s -> %s", run.State, to)
	}
	log.WithFields(logrus.Fields{"from": run.State, "to": to}).Debug("[ORCH] transition")
	run.State = to
	return nil
}

// generateError prefers the context error when the run was cancelled, so
// callers can tell a deadline apart from an oracle failure.
func generateError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &errs.OracleError{Role: "generate", Err: err}
}

// mergeToolCalls accumulates complete tool calls across chunks. Calls without
// an ID get one; a repeated ID is ignored.
func mergeToolCalls(existing, incoming []oracle.ToolCall) []oracle.ToolCall {
	for _, inc := range incoming {
		if inc.ID == "" {
			inc.ID = "call_" + uuid.NewString()
		}
		dup := false
		for _, ex := range existing {
			if ex.ID == inc.ID {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, inc)
		}
	}
	return existing
}

// #endregion
