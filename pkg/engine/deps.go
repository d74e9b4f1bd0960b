// Package engine orchestrates the requirement interview: a fixed graph of
// stage nodes driven by a pure router over the session state. Every node talks
// to the language model through the cache manager, renders its system prompt
// from the prompt provider, and returns a partial state update.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"specsmith/pkg/cache"
	"specsmith/pkg/contextmgr"
	"specsmith/pkg/llm"
	"specsmith/pkg/llm/llmerrors"
	"specsmith/pkg/logx"
	"specsmith/pkg/metrics"
	"specsmith/pkg/prompts"
	"specsmith/pkg/session"
)

// DefaultMaxQuestions bounds the clarifying-question loop when no limit is
// configured.
const DefaultMaxQuestions = 5

// Deps carries the injected collaborators shared by all nodes. Everything is
// constructed by the caller; the engine holds no globals.
type Deps struct {
	Client  llm.Client
	Cache   *cache.Manager
	Prompts *prompts.Provider
	Context *contextmgr.Manager

	// Recorder is optional; nil disables metrics.
	Recorder *metrics.Recorder

	// ModelName labels metrics, not requests; the client already knows its model.
	ModelName string

	// MaxQuestions is the clarifying-question budget before the planner forces
	// the pipeline forward. Zero means DefaultMaxQuestions.
	MaxQuestions int
}

func (d *Deps) maxQuestions() int {
	if d.MaxQuestions > 0 {
		return d.MaxQuestions
	}
	return DefaultMaxQuestions
}

// templateData assembles the rendering context every prompt template shares.
func (d *Deps) templateData(state *session.State) *prompts.TemplateData {
	return &prompts.TemplateData{
		Profile:        state.Profile,
		MissingFields:  state.MissingFields,
		AskedQuestions: state.AskedQuestions,
		Completeness:   state.Completeness,
		MaxQuestions:   d.maxQuestions(),
		Stage:          string(state.CurrentStage),
		Risk:           state.Summary.Risk,
		Tech:           state.Summary.Tech,
		MVP:            state.Summary.MVP,
	}
}

// complete performs one cached model call for an agent: system prompt from the
// provider, history windowed to the token budget, sampling settings from the
// manifest.
func (d *Deps) complete(ctx context.Context, agentType string, state *session.State) (llm.CompletionResponse, error) {
	settings, err := d.Prompts.Settings(agentType)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	systemPrompt, err := d.Prompts.Render(agentType, d.templateData(state))
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	window := d.Context.Window(state.Messages)
	messages := make([]llm.CompletionMessage, 0, len(window)+2)
	messages = append(messages, llm.NewSystemMessage(systemPrompt))
	messages = append(messages, window...)
	if len(window) == 0 {
		// The conversation log always carries the current user turn, but an
		// empty window would leave the request without a user message.
		messages = append(messages, llm.NewUserMessage(state.UserInput))
	}

	req := llm.CompletionRequest{
		Messages:    messages,
		Temperature: settings.Temperature,
		MaxTokens:   settings.MaxTokens,
	}

	start := time.Now()
	resp, err := d.Cache.Invoke(ctx, d.Client, agentType, req, cache.InvokeOptions{
		TTL: settings.TTL.Std(),
	})
	d.observeRequest(agentType, state.SessionID, resp, err, time.Since(start))
	return resp, err
}

// completeJSON runs complete and parses the structured payload into out,
// classifying empty and malformed responses through llmerrors so the retry
// layer can tell them apart from transport failures.
func (d *Deps) completeJSON(ctx context.Context, agentType string, state *session.State, out any) error {
	resp, err := d.complete(ctx, agentType, state)
	if err != nil {
		return err
	}

	payload := llm.ExtractJSON(resp.Content)
	if payload == "" {
		return llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
			agentType+" completion contained no JSON object")
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeMalformed, err,
			agentType+" completion JSON failed to parse")
	}
	return nil
}

// completeText runs complete and returns the raw content, for agents whose
// output is a document rather than a JSON payload.
func (d *Deps) completeText(ctx context.Context, agentType string, state *session.State) (string, error) {
	resp, err := d.complete(ctx, agentType, state)
	if err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
			agentType+" completion was empty")
	}
	return resp.Content, nil
}

func (d *Deps) observeRequest(agentType, sessionID string, resp llm.CompletionResponse, err error, elapsed time.Duration) {
	if d.Recorder == nil {
		return
	}
	errType := ""
	if err != nil {
		errType = llmerrors.TypeOf(err).String()
	}
	d.Recorder.ObserveRequest(agentType, d.ModelName, sessionID,
		resp.PromptTokens, resp.CompletionTokens, err == nil, errType, elapsed)
}

// nodeLogger returns the shared engine-domain logger for node fallback paths.
func nodeLogger() *logx.Logger {
	return logx.NewLogger("engine")
}
