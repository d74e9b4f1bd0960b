package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// SessionUsage aggregates LLM usage for one interview session.
type SessionUsage struct {
	SessionID        string `json:"session_id"`
	Requests         int64  `json:"requests"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// QueryService reads usage aggregates back from a Prometheus server.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service against prometheusURL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// GetSessionUsage aggregates request and token counts for one session across
// all agents.
func (q *QueryService) GetSessionUsage(ctx context.Context, sessionID string) (*SessionUsage, error) {
	usage := &SessionUsage{SessionID: sessionID}

	requests, err := q.scalar(ctx, fmt.Sprintf(
		`sum(interview_llm_requests_total{session_id=%q})`, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to query request count: %w", err)
	}
	usage.Requests = requests

	usage.PromptTokens, err = q.scalar(ctx, fmt.Sprintf(
		`sum(interview_llm_tokens_total{session_id=%q, type="prompt"})`, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}

	usage.CompletionTokens, err = q.scalar(ctx, fmt.Sprintf(
		`sum(interview_llm_tokens_total{session_id=%q, type="completion"})`, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage, nil
}

// GetUsageByAgent breaks session usage down per agent type.
func (q *QueryService) GetUsageByAgent(ctx context.Context, sessionID string) (map[string]*SessionUsage, error) {
	result := make(map[string]*SessionUsage)

	agentsResult, _, err := q.queryAPI.Query(ctx, fmt.Sprintf(
		`group by (agent) (interview_llm_tokens_total{session_id=%q})`, sessionID), time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}

	var agents []string
	if vector, ok := agentsResult.(model.Vector); ok {
		for _, sample := range vector {
			if agent, ok := sample.Metric["agent"]; ok {
				agents = append(agents, string(agent))
			}
		}
	}

	for _, agent := range agents {
		usage := &SessionUsage{SessionID: sessionID}

		usage.PromptTokens, err = q.scalar(ctx, fmt.Sprintf(
			`sum(interview_llm_tokens_total{session_id=%q, agent=%q, type="prompt"})`, sessionID, agent))
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for agent %s: %w", agent, err)
		}
		usage.CompletionTokens, err = q.scalar(ctx, fmt.Sprintf(
			`sum(interview_llm_tokens_total{session_id=%q, agent=%q, type="completion"})`, sessionID, agent))
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for agent %s: %w", agent, err)
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		result[agent] = usage
	}
	return result, nil
}

// scalar runs an instant query expected to return a single-sample vector.
func (q *QueryService) scalar(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
