package engine

import (
	"context"
	"errors"
	"time"

	"specsmith/pkg/checkpoint"
	"specsmith/pkg/logx"
	"specsmith/pkg/session"
)

// maxRouterHops bounds one invocation so a routing bug cannot spin: the
// longest legitimate path (extract, plan, then every continuation node
// degrading straight through to the document) is far shorter.
const maxRouterHops = 16

// NodeFunc is the stage node contract: read the state, return a partial
// update. Only the extractor may return an error.
type NodeFunc func(ctx context.Context, state *session.State) (*session.Update, error)

// Engine drives the interview graph: extractor on entry, a fixed edge to the
// planner, then router-directed hops until a terminal node or TERMINATE. The
// state is checkpointed after every invocation.
type Engine struct {
	deps   *Deps
	store  checkpoint.Store
	logger *logx.Logger
	nodes  map[NodeName]NodeFunc
}

// New wires the graph. The dependencies and the store are injected; the
// engine owns neither.
func New(deps *Deps, store checkpoint.Store) *Engine {
	return &Engine{
		deps:   deps,
		store:  store,
		logger: logx.NewLogger("engine"),
		nodes: map[NodeName]NodeFunc{
			NodeExtractor:     runExtractor(deps),
			NodePlanner:       runPlanner(deps),
			NodeAsker:         runAsker(deps),
			NodeRiskAnalyst:   runRiskAnalyst(deps),
			NodeTechAdvisor:   runTechAdvisor(deps),
			NodeMVPBoundary:   runMVPBoundary(deps),
			NodeSpecGenerator: runSpecGenerator(deps),
		},
	}
}

// RunWorkflow starts a fresh session with the user's opening message and runs
// one invocation of the graph.
func (e *Engine) RunWorkflow(ctx context.Context, sessionID, userInput string) (*session.State, error) {
	return e.run(ctx, session.NewState(sessionID), userInput)
}

// ContinueWorkflow resumes a checkpointed session with the next user message.
// A missing checkpoint falls back to starting fresh.
func (e *Engine) ContinueWorkflow(ctx context.Context, sessionID, userInput string) (*session.State, error) {
	state, err := e.store.Get(ctx, sessionID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		e.logger.Info("No checkpoint for session %s, starting fresh", sessionID)
		return e.RunWorkflow(ctx, sessionID, userInput)
	}
	if err != nil {
		return nil, logx.Wrap(err, "checkpoint load failed")
	}
	return e.run(ctx, state, userInput)
}

func (e *Engine) run(ctx context.Context, state *session.State, userInput string) (*session.State, error) {
	start := time.Now()
	entryStage := state.CurrentStage

	state.UserInput = userInput
	state.Response = ""
	state.AppendMessage(session.RoleUser, userInput)

	// Entry: extract, then the fixed edge to the planner. An extractor error
	// aborts before anything is persisted.
	if err := e.step(ctx, NodeExtractor, state); err != nil {
		return nil, err
	}
	if err := e.step(ctx, NodePlanner, state); err != nil {
		return nil, err
	}

	for hops := 0; ; hops++ {
		if hops >= maxRouterHops {
			e.logger.Warn("Hop guard tripped for session %s at stage %s", state.SessionID, state.CurrentStage)
			break
		}

		next := Route(state)
		if next == Terminate {
			break
		}
		if err := e.step(ctx, next, state); err != nil {
			return nil, err
		}
		if next == NodeAsker || next == NodeSpecGenerator {
			break
		}
	}

	if state.Response != "" {
		state.AppendMessage(session.RoleAssistant, state.Response)
	}

	// Checkpoint failure fails the invocation: a turn the user cannot resume
	// from is worse than an error they can retry.
	if err := e.store.Put(ctx, state); err != nil {
		return nil, logx.Wrap(err, "checkpoint write failed")
	}

	if e.deps.Recorder != nil {
		e.deps.Recorder.ObserveWorkflow(string(entryStage), time.Since(start))
	}
	e.logger.Debug("Session %s: %s -> %s in %s", state.SessionID, entryStage, state.CurrentStage, time.Since(start))
	return state, nil
}

func (e *Engine) step(ctx context.Context, name NodeName, state *session.State) error {
	node, ok := e.nodes[name]
	if !ok {
		return logx.Errorf("no node registered for %s", name)
	}
	update, err := node(ctx, state)
	if err != nil {
		return err
	}
	state.Apply(update)
	return nil
}
