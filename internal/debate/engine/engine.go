// Package engine runs debate sessions end to end: it seeds each round from
// the commander's opening decomposition (a full analysis fan-out when
// routing is static), walks the supervisor's decide/execute loop, folds
// every step into the session state, checkpoints per round, and synthesizes
// the final verdict. One engine serves many concurrent sessions; each
// session is owned by a single goroutine.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/moolen/inquest/internal/audit"
	"github.com/moolen/inquest/internal/debate/catalog"
	"github.com/moolen/inquest/internal/debate/checkpoint"
	"github.com/moolen/inquest/internal/debate/invoker"
	"github.com/moolen/inquest/internal/debate/mailbox"
	"github.com/moolen/inquest/internal/debate/recorder"
	"github.com/moolen/inquest/internal/debate/state"
	"github.com/moolen/inquest/internal/debate/supervisor"
	"github.com/moolen/inquest/internal/debate/types"
	"github.com/moolen/inquest/internal/logging"
	"github.com/moolen/inquest/internal/metrics"
	"github.com/moolen/inquest/internal/provider"
	"github.com/moolen/inquest/internal/tracing"
)

// Config holds the per-session budgets and feature toggles.
type Config struct {
	// MaxDiscussionSteps bounds supervisor decision + execution pairs.
	MaxDiscussionSteps int

	// MaxRounds bounds full debate rounds.
	MaxRounds int

	// ConsensusThreshold is the judgment confidence that ends the debate.
	ConsensusThreshold float64

	// SessionBudget is the wall-clock limit for one session. Expiry
	// finalizes with whatever evidence exists; it does not fail the
	// session.
	SessionBudget time.Duration

	// EnableCritique includes the critique/rebuttal pair in the sequence.
	EnableCritique bool

	// DynamicRouting enables commander-based routing between seeded steps.
	DynamicRouting bool

	// Supervisor carries the tunable routing thresholds.
	Supervisor supervisor.Config
}

// DefaultConfig returns the stock budgets.
func DefaultConfig() Config {
	return Config{
		MaxDiscussionSteps: 24,
		MaxRounds:          3,
		ConsensusThreshold: 0.75,
		SessionBudget:      15 * time.Minute,
		EnableCritique:     true,
		DynamicRouting:     true,
		Supervisor: supervisor.Config{
			RepetitionCap:    supervisor.DefaultRepetitionCap,
			SettleConfidence: supervisor.DefaultSettleConfidence,
		},
	}
}

// Options are the engine's injected dependencies.
type Options struct {
	Catalog  *catalog.Catalog
	Provider provider.Provider
	Tools    invoker.ToolRunner
	Store    *checkpoint.Store
	Metrics  *metrics.Metrics
	Tracing  *tracing.Provider
	Config   Config
}

// Engine orchestrates debate sessions.
type Engine struct {
	catalog     *catalog.Catalog
	provider    provider.Provider
	invoker     *invoker.Invoker
	supervisor  *supervisor.Supervisor
	transitions *state.TransitionService
	store       *checkpoint.Store
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	config      Config
	logger      *logging.Logger

	mu       sync.Mutex
	caller   supervisor.AgentCaller
	sessions map[string]*session
}

// session is the live handle for one running or finished session.
type session struct {
	id       string
	recorder *recorder.TurnRecorder
	audit    *audit.Logger
	cancel   context.CancelFunc
	done     chan struct{}

	mu          sync.Mutex
	runtime     types.RuntimeState
	subscribers map[int]chan audit.Event
	nextSubID   int
}

// New creates an engine. Provider and Store are required; Catalog defaults
// to the built-in roster and Metrics to an unregistered set.
func New(opts Options) (*Engine, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("engine requires a model provider")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("engine requires a checkpoint store")
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNopMetrics()
	}
	if opts.Config.MaxDiscussionSteps <= 0 {
		opts.Config = DefaultConfig()
	}
	if opts.Config.Supervisor.RepetitionCap <= 0 {
		opts.Config.Supervisor.RepetitionCap = supervisor.DefaultRepetitionCap
	}
	if opts.Config.Supervisor.SettleConfidence <= 0 {
		opts.Config.Supervisor.SettleConfidence = supervisor.DefaultSettleConfidence
	}

	inv := invoker.New(opts.Provider, opts.Tools)
	var caller supervisor.AgentCaller
	if opts.Config.DynamicRouting {
		caller = inv
	}

	tracer := otel.Tracer("debate.engine")
	if opts.Tracing != nil {
		tracer = opts.Tracing.GetTracer("debate.engine")
	}

	return &Engine{
		catalog:     opts.Catalog,
		provider:    opts.Provider,
		invoker:     inv,
		supervisor:  supervisor.New(opts.Catalog, caller, opts.Config.Supervisor),
		transitions: state.NewTransitionService(),
		store:       opts.Store,
		metrics:     opts.Metrics,
		tracer:      tracer,
		config:      opts.Config,
		logger:      logging.GetLogger("debate.engine"),
		caller:      caller,
		sessions:    make(map[string]*session),
	}, nil
}

// UpdateRouting swaps the supervisor's tunable thresholds. Live sessions
// pick the new values up on their next decision.
func (e *Engine) UpdateRouting(cfg supervisor.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.Supervisor = cfg
	e.supervisor = supervisor.New(e.catalog, e.caller, cfg)
	e.logger.InfoWithFields("routing thresholds updated",
		logging.Field("repetition_cap", cfg.RepetitionCap),
		logging.Field("settle_confidence", cfg.SettleConfidence),
	)
}

func (e *Engine) currentSupervisor() *supervisor.Supervisor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.supervisor
}

// StartSession begins a new debate session over the given incident context
// and returns its id. The session runs on its own goroutine; callers observe
// it through GetState, SubscribeEvents, and Wait.
func (e *Engine) StartSession(ctx context.Context, sessionID string, contextSummary map[string]interface{}) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	e.mu.Lock()
	if _, exists := e.sessions[sessionID]; exists {
		e.mu.Unlock()
		return "", fmt.Errorf("session %s already exists", sessionID)
	}
	e.mu.Unlock()

	st := types.SessionState{
		SessionID:          sessionID,
		ContextSummary:     contextSummary,
		Round:              1,
		MaxDiscussionSteps: e.config.MaxDiscussionSteps,
		MaxRounds:          e.config.MaxRounds,
		ConsensusThreshold: e.config.ConsensusThreshold,
	}

	sess, err := e.newSession(sessionID, recorder.New(), 0)
	if err != nil {
		return "", err
	}
	sess.runtime = types.RuntimeState{
		SessionID: sessionID,
		Status:    types.StatusRunning,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := e.store.RegisterSession(sessionID); err != nil {
		e.logger.Warn("failed to register session %s: %v", sessionID, err)
	}
	if err := sess.audit.LogSessionStart(e.provider.Model(), sortedKeys(contextSummary)); err != nil {
		e.logger.Warn("failed to log session start: %v", err)
	}

	e.launch(sess, st)
	return sessionID, nil
}

// Resume restarts an in-flight session from its checkpoint. The turn log is
// validated, the event sequence continues where it left off, and stale
// mailbox queues are compacted. The interrupted round restarts from its
// seeded fan-out.
func (e *Engine) Resume(ctx context.Context, sessionID string) error {
	rt, err := e.store.LoadState(sessionID)
	if err != nil {
		return err
	}
	if rt.Status != types.StatusRunning {
		return fmt.Errorf("session %s is %s, nothing to resume", sessionID, rt.Status)
	}
	if rt.Debate == nil {
		return fmt.Errorf("checkpoint for %s carries no debate state", sessionID)
	}

	e.mu.Lock()
	if _, exists := e.sessions[sessionID]; exists {
		e.mu.Unlock()
		return fmt.Errorf("session %s is already live", sessionID)
	}
	e.mu.Unlock()

	rec, err := recorder.Resume(rt.Turns)
	if err != nil {
		return err
	}

	var lastSeq int64
	if events, rerr := audit.ReadEvents(e.store.EventLogPath(sessionID)); rerr == nil && len(events) > 0 {
		lastSeq = events[len(events)-1].Sequence
	}

	sess, err := e.newSession(sessionID, rec, lastSeq)
	if err != nil {
		return err
	}
	sess.runtime = rt
	sess.runtime.Status = types.StatusRunning
	sess.runtime.Debate = nil

	st := *rt.Debate
	st.Mailbox = mailbox.Compact(st.Mailbox)
	st.NextStep = nil

	e.logger.InfoWithFields("resuming session",
		logging.Field("session", sessionID),
		logging.Field("round", st.Round),
		logging.Field("turns", rec.Len()),
	)
	e.launch(sess, st)
	return nil
}

func (e *Engine) newSession(sessionID string, rec *recorder.TurnRecorder, sequence int64) (*session, error) {
	auditLogger, err := audit.NewLogger(e.store.EventLogPath(sessionID), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	if sequence > 0 {
		auditLogger.SetSequence(sequence)
	}

	sess := &session{
		id:          sessionID,
		recorder:    rec,
		audit:       auditLogger,
		done:        make(chan struct{}),
		subscribers: make(map[int]chan audit.Event),
	}
	auditLogger.SetSink(sess.fanout)

	e.mu.Lock()
	e.sessions[sessionID] = sess
	e.mu.Unlock()
	return sess, nil
}

func (e *Engine) launch(sess *session, st types.SessionState) {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.SessionBudget)
	sess.cancel = cancel
	go func() {
		defer cancel()
		defer close(sess.done)
		e.runSession(ctx, sess, st)
	}()
}

// GetState returns a session's runtime state: from memory for live
// sessions, from the checkpoint store otherwise.
func (e *Engine) GetState(sessionID string) (types.RuntimeState, error) {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if ok {
		return sess.snapshot(), nil
	}
	return e.store.LoadState(sessionID)
}

// SubscribeEvents returns a live event feed for a session plus an
// unsubscribe function. Slow consumers lose events rather than stalling the
// session; the event log on disk stays complete.
func (e *Engine) SubscribeEvents(sessionID string) (<-chan audit.Event, func(), error) {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return nil, nil, checkpoint.ErrNotFound
	}

	ch := make(chan audit.Event, 64)
	sess.mu.Lock()
	id := sess.nextSubID
	sess.nextSubID++
	sess.subscribers[id] = ch
	sess.mu.Unlock()

	unsubscribe := func() {
		sess.mu.Lock()
		if _, still := sess.subscribers[id]; still {
			delete(sess.subscribers, id)
			close(ch)
		}
		sess.mu.Unlock()
	}
	return ch, unsubscribe, nil
}

// Wait blocks until the session's goroutine finishes or ctx expires.
func (e *Engine) Wait(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return checkpoint.ErrNotFound
	}
	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels all live sessions and waits for them to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	live := make([]*session, 0, len(e.sessions))
	for _, sess := range e.sessions {
		live = append(live, sess)
	}
	e.mu.Unlock()

	for _, sess := range live {
		sess.cancel()
	}
	for _, sess := range live {
		select {
		case <-sess.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// runSession drives one session to a terminal status.
func (e *Engine) runSession(ctx context.Context, sess *session, st types.SessionState) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "debate.session",
		trace.WithAttributes(attribute.String("session.id", sess.id)))
	defer span.End()

	st, status, failure := e.debate(ctx, sess, st)

	if status == types.StatusFailed {
		e.finishFailed(sess, st, failure)
	} else {
		e.finishCompleted(sess, st)
	}
	e.metrics.SessionsTotal.WithLabelValues(string(status)).Inc()
	e.metrics.SessionDuration.Observe(time.Since(started).Seconds())

	if err := sess.audit.Close(); err != nil {
		e.logger.Warn("failed to close event log for %s: %v", sess.id, err)
	}
	sess.closeSubscribers()
}

// debate runs the round loop and returns the final state. A fatal backend
// error on a debate agent fails the session; every other failure path
// degrades and the loop continues to finalization.
func (e *Engine) debate(ctx context.Context, sess *session, st types.SessionState) (types.SessionState, types.SessionStatus, string) {
rounds:
	for st.Round <= st.MaxRounds {
		if ctx.Err() != nil {
			e.logger.Warn("session %s budget expired, finalizing early", sess.id)
			break
		}

		// The commander decomposes the round opening; without dynamic
		// routing (or when the call degrades) the full analysis fan-out
		// is seeded instead.
		plan, planTurn := e.currentSupervisor().PlanRound(ctx, st, sess.recorder.NextRound())
		if planTurn != nil {
			st = e.absorbCommanderTurn(sess, st, *planTurn)
		}
		st.NextStep = &plan
		var roundTurns []types.Turn

		for {
			if ctx.Err() != nil {
				e.logger.Warn("session %s budget expired, finalizing early", sess.id)
				break rounds
			}
			if len(roundTurns) > st.MaxDiscussionSteps {
				e.logger.Warn("session %s round %d exceeded the step budget, finalizing", sess.id, st.Round)
				break rounds
			}

			decision, commanderTurn := e.currentSupervisor().Decide(ctx, st, sess.recorder.Turns(), roundTurns, sess.recorder.NextRound())
			e.metrics.DecisionsTotal.WithLabelValues(string(decision.Mode)).Inc()
			if decision.Mode == types.DecisionFallback {
				e.metrics.RoutingFallbacks.Inc()
			}
			if err := sess.audit.LogDecision(decision.Target, decision.Parallel, decision.Stop, string(decision.Mode), decision.Reason); err != nil {
				e.logger.Warn("failed to log decision: %v", err)
			}

			if commanderTurn != nil {
				st = e.absorbCommanderTurn(sess, st, *commanderTurn)
			}

			if decision.Stop {
				// Terminal decisions enter the decision log too, so a
				// persisted state records why the debate ended.
				st = e.transitions.Apply(st, types.StepResult{Decision: &decision})
				if decision.Mode == types.DecisionConsensus {
					if card, ok := latestJudgment(st.HistoryCards); ok {
						_ = sess.audit.LogConsensus(card.Confidence, st.ConsensusThreshold)
					}
				}
				break rounds
			}

			batch, next, err := e.executeDecision(ctx, sess, st, decision)
			if err != nil {
				_ = sess.audit.LogError(decision.Target, err)
				return next, types.StatusFailed, err.Error()
			}
			st = next
			st.NextStep = nil
			roundTurns = append(roundTurns, batch...)

			if hasJudgment(batch) {
				e.checkpointRound(sess, st)
				if st.ConsensusReached {
					if card, ok := latestJudgment(st.HistoryCards); ok {
						_ = sess.audit.LogConsensus(card.Confidence, st.ConsensusThreshold)
					}
					break rounds
				}
				st.Round++
				break
			}
		}
	}
	return st, types.StatusCompleted, ""
}

// executeDecision dispatches the decision's targets. Parallel targets get
// their rounds pre-assigned sequentially before concurrent dispatch, so the
// turn log stays strictly ordered regardless of completion order.
func (e *Engine) executeDecision(ctx context.Context, sess *session, st types.SessionState, decision types.Decision) ([]types.Turn, types.SessionState, error) {
	targets := decision.Parallel
	if len(targets) == 0 && decision.Target != "" {
		targets = []string{decision.Target}
	}

	mb := st.Mailbox
	var commandMsgs []types.AgentMessage
	for target, instruction := range decision.Commands {
		msg := mailbox.Command(catalog.Commander, target, instruction)
		mb = mailbox.Enqueue(mb, target, msg)
		commandMsgs = append(commandMsgs, msg)
	}

	type assignment struct {
		spec       types.AgentSpec
		round      int
		prompt     string
		instructed bool
	}
	base := sess.recorder.NextRound()
	var assignments []assignment
	for _, name := range targets {
		spec, ok := e.catalog.Lookup(name)
		if !ok {
			continue
		}
		var inbox []types.AgentMessage
		inbox, mb = mailbox.Dequeue(mb, name)
		instruction := decision.Commands[name]
		if instruction == "" {
			instruction = st.AgentCommands[name]
		}
		if instruction == "" && st.NextStep != nil {
			instruction = st.NextStep.Instruction
		}
		assignments = append(assignments, assignment{
			spec:       spec,
			round:      base + len(assignments),
			prompt:     e.agentPrompt(st, instruction, inbox),
			instructed: instruction != "",
		})
	}
	if len(assignments) == 0 {
		return nil, st, fmt.Errorf("decision targeted no known agents")
	}

	turns := make([]types.Turn, len(assignments))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range assignments {
		g.Go(func() error {
			tctx, span := e.tracer.Start(gctx, "debate.turn",
				trace.WithAttributes(
					attribute.String("agent", a.spec.Name),
					attribute.Int("round", a.round),
				))
			defer span.End()

			turn, err := e.invoker.Invoke(tctx, a.spec, a.prompt, a.round, st.Round, recentCards(st.HistoryCards, 10))
			if err != nil {
				return err
			}
			turns[i] = turn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, st, err
	}

	sort.Slice(turns, func(i, j int) bool { return turns[i].Round < turns[j].Round })

	first := true
	for i, turn := range turns {
		if err := sess.recorder.Append(turn); err != nil {
			return nil, st, fmt.Errorf("turn log: %w", err)
		}
		e.observeTurn(sess, turn)

		mb = sess.recorder.Broadcast(mb, turn, catalog.Commander, e.agentNames())

		result := e.stepResultFromTurn(st, turn, assignments[i].instructed)
		if first {
			result.Decision = &decision
			result.Commands = decision.Commands
			result.Messages = append(commandMsgs, result.Messages...)
			first = false
		}
		st = e.transitions.Apply(st, result)
		st.Mailbox = mb
	}
	sess.updateProgress(st, sess.recorder.Turns())
	return turns, st, nil
}

// stepResultFromTurn projects an executed turn into the delta the transition
// service folds into the state.
func (e *Engine) stepResultFromTurn(st types.SessionState, turn types.Turn, instructed bool) types.StepResult {
	result := types.StepResult{Turns: []types.Turn{turn}}
	if turn.Degraded() {
		return result
	}

	card := recorder.CardFromTurn(turn)
	result.Cards = []types.EvidenceCard{card}
	result.Messages = append(result.Messages, mailbox.Evidence(turn.AgentName, catalog.Commander, card))
	if instructed {
		result.Messages = append(result.Messages,
			mailbox.Feedback(turn.AgentName, catalog.Commander, card.Conclusion, card.Confidence))
	}

	if card.Conclusion != "" {
		result.Claims = []string{card.Conclusion}
	}
	result.OpenQuestions = stringSlice(turn.Output, "open_questions")
	result.ResolvedQuestions = stringSlice(turn.Output, "resolved")

	if turn.Phase == types.PhaseJudgment && turn.Confidence >= st.ConsensusThreshold {
		result.ConsensusReached = true
	}
	return result
}

// absorbCommanderTurn records the routing call itself: commander turns enter
// the turn log and the agent output map, but produce no evidence cards.
func (e *Engine) absorbCommanderTurn(sess *session, st types.SessionState, turn types.Turn) types.SessionState {
	if err := sess.recorder.Append(turn); err != nil {
		e.logger.Warn("failed to record commander turn: %v", err)
		return st
	}
	e.observeTurn(sess, turn)
	return e.transitions.Apply(st, types.StepResult{Turns: []types.Turn{turn}})
}

func (e *Engine) observeTurn(sess *session, turn types.Turn) {
	if err := sess.audit.LogTurn(turn.AgentName, turn.Round, string(turn.Phase), turn.Confidence, turn.Degraded()); err != nil {
		e.logger.Warn("failed to log turn: %v", err)
	}
	if err := sess.audit.LogLLMRequest(e.provider.Name(), turn.Model, turn.Usage.InputTokens, turn.Usage.OutputTokens); err != nil {
		e.logger.Warn("failed to log llm request: %v", err)
	}

	e.metrics.TurnsTotal.WithLabelValues(turn.AgentName, string(turn.Phase)).Inc()
	if turn.Degraded() {
		e.metrics.DegradedTurnsTotal.WithLabelValues(turn.AgentName).Inc()
	}
	e.metrics.TokensTotal.WithLabelValues("input").Add(float64(turn.Usage.InputTokens))
	e.metrics.TokensTotal.WithLabelValues("output").Add(float64(turn.Usage.OutputTokens))
}

// checkpointRound persists the per-round projection. Durability is
// best-effort; a failed write is logged and the session continues in memory.
func (e *Engine) checkpointRound(sess *session, st types.SessionState) {
	cp := types.RoundCheckpoint{
		Round:           st.Round,
		DiscussionSteps: st.DiscussionSteps,
		Cards:           append([]types.EvidenceCard(nil), st.HistoryCards...),
		CreatedAt:       time.Now(),
	}

	sess.mu.Lock()
	sess.runtime.Checkpoints = append(sess.runtime.Checkpoints, cp)
	sess.runtime.Round = st.Round
	sess.runtime.DiscussionSteps = st.DiscussionSteps
	sess.runtime.Turns = sess.recorder.Turns()
	sess.runtime.UpdatedAt = time.Now()
	rt := sess.runtime
	sess.mu.Unlock()

	rt.Debate = &st
	if err := e.store.SaveState(rt); err != nil {
		e.logger.Warn("checkpoint write failed for %s: %v", sess.id, err)
	}
	if err := sess.audit.LogRoundCheckpoint(st.Round, st.DiscussionSteps, len(st.HistoryCards)); err != nil {
		e.logger.Warn("failed to log round checkpoint: %v", err)
	}
}

func (e *Engine) finishCompleted(sess *session, st types.SessionState) {
	verdict := Finalize(st, sess.recorder.Turns())
	st.FinalPayload = map[string]interface{}{
		"root_cause":     verdict.RootCause,
		"summary":        verdict.Summary,
		"confidence":     verdict.Confidence,
		"evidence_chain": verdict.EvidenceChain,
		"produced_by":    verdict.ProducedBy,
		"degraded":       verdict.Degraded,
	}

	if err := sess.audit.LogFinalization(verdict.ProducedBy, verdict.Confidence, verdict.Degraded); err != nil {
		e.logger.Warn("failed to log finalization: %v", err)
	}
	e.logUsageSummary(sess)
	if err := sess.audit.LogSessionEnd(string(types.StatusCompleted)); err != nil {
		e.logger.Warn("failed to log session end: %v", err)
	}

	sess.mu.Lock()
	sess.runtime.Status = types.StatusCompleted
	sess.runtime.Verdict = &verdict
	sess.runtime.Round = st.Round
	sess.runtime.DiscussionSteps = st.DiscussionSteps
	sess.runtime.Turns = sess.recorder.Turns()
	sess.runtime.UpdatedAt = time.Now()
	rt := sess.runtime
	sess.mu.Unlock()

	rt.Debate = &st
	if err := e.store.SaveState(rt); err != nil {
		e.logger.Error("failed to persist final state for %s: %v", sess.id, err)
	}
	if err := e.store.SetSessionStatus(sess.id, types.StatusCompleted); err != nil {
		e.logger.Warn("failed to update task registry: %v", err)
	}

	e.logger.InfoWithFields("session completed",
		logging.Field("session", sess.id),
		logging.Field("root_cause", verdict.RootCause),
		logging.Field("confidence", verdict.Confidence),
		logging.Field("degraded", verdict.Degraded),
	)
}

// finishFailed terminates a session without a verdict. Only a fatal backend
// error on a debate agent lands here.
func (e *Engine) finishFailed(sess *session, st types.SessionState, reason string) {
	e.logUsageSummary(sess)
	if err := sess.audit.LogSessionEnd(string(types.StatusFailed)); err != nil {
		e.logger.Warn("failed to log session end: %v", err)
	}

	sess.mu.Lock()
	sess.runtime.Status = types.StatusFailed
	sess.runtime.FailureReason = reason
	sess.runtime.Round = st.Round
	sess.runtime.DiscussionSteps = st.DiscussionSteps
	sess.runtime.Turns = sess.recorder.Turns()
	sess.runtime.UpdatedAt = time.Now()
	rt := sess.runtime
	sess.mu.Unlock()

	rt.Debate = &st
	if err := e.store.SaveState(rt); err != nil {
		e.logger.Error("failed to persist failed state for %s: %v", sess.id, err)
	}
	if err := e.store.SetSessionStatus(sess.id, types.StatusFailed); err != nil {
		e.logger.Warn("failed to update task registry: %v", err)
	}

	e.logger.ErrorWithFields("session failed",
		logging.Field("session", sess.id),
		logging.Field("reason", reason),
	)
}

func (e *Engine) logUsageSummary(sess *session) {
	turns := sess.recorder.Turns()
	var inTokens, outTokens int
	for _, turn := range turns {
		inTokens += turn.Usage.InputTokens
		outTokens += turn.Usage.OutputTokens
	}
	if err := sess.audit.LogSessionMetrics(len(turns), inTokens, outTokens); err != nil {
		e.logger.Warn("failed to log session metrics: %v", err)
	}
}

// agentPrompt assembles the user-facing portion of an agent call: incident
// context, standing open questions, the commander's instruction, and the
// agent's dequeued mailbox.
func (e *Engine) agentPrompt(st types.SessionState, instruction string, inbox []types.AgentMessage) string {
	var b strings.Builder
	b.WriteString("Analyze the production incident below and report your findings.\n")

	if len(st.ContextSummary) > 0 {
		b.WriteString("\nIncident context:\n")
		for _, key := range sortedKeys(st.ContextSummary) {
			fmt.Fprintf(&b, "- %s: %v\n", key, st.ContextSummary[key])
		}
	}
	if len(st.OpenQuestions) > 0 {
		fmt.Fprintf(&b, "\nOpen questions: %s\n", strings.Join(st.OpenQuestions, "; "))
	}
	if instruction != "" {
		fmt.Fprintf(&b, "\nInstruction from the incident commander: %s\n", instruction)
	}
	if rendered := mailbox.Render(inbox); rendered != "" {
		b.WriteString("\n" + rendered)
	}
	return b.String()
}

func (e *Engine) agentNames() []string {
	specs := e.catalog.Specs()
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	return names
}

// snapshot returns a copy of the runtime state with a fresh turn log.
func (s *session) snapshot() types.RuntimeState {
	s.mu.Lock()
	rt := s.runtime
	rt.Checkpoints = append([]types.RoundCheckpoint(nil), s.runtime.Checkpoints...)
	s.mu.Unlock()
	rt.Turns = s.recorder.Turns()
	return rt
}

func (s *session) updateProgress(st types.SessionState, turns []types.Turn) {
	s.mu.Lock()
	s.runtime.Round = st.Round
	s.runtime.DiscussionSteps = st.DiscussionSteps
	s.runtime.Turns = turns
	s.runtime.UpdatedAt = time.Now()
	s.mu.Unlock()
}

// fanout delivers an event to all subscribers without blocking the session.
func (s *session) fanout(event audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (s *session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}

func hasJudgment(turns []types.Turn) bool {
	for _, turn := range turns {
		if turn.Phase == types.PhaseJudgment {
			return true
		}
	}
	return false
}

func latestJudgment(cards []types.EvidenceCard) (types.EvidenceCard, bool) {
	for i := len(cards) - 1; i >= 0; i-- {
		if cards[i].Phase == types.PhaseJudgment {
			return cards[i], true
		}
	}
	return types.EvidenceCard{}, false
}

func recentCards(cards []types.EvidenceCard, n int) []types.EvidenceCard {
	if len(cards) <= n {
		return cards
	}
	return cards[len(cards)-n:]
}

func stringSlice(m map[string]interface{}, key string) []string {
	if m == nil {
		return nil
	}
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
