package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"specsmith/pkg/llm"
	"specsmith/pkg/logx"
)

// DefaultCleanupInterval is how often the background sweep runs.
const DefaultCleanupInterval = 1 * time.Minute

// EntryMeta is the per-entry metadata the manager layers atop the raw cache.
type EntryMeta struct {
	AgentType     string    `json:"agent_type"`
	ReuseCount    int       `json:"reuse_count"`
	LastValidated time.Time `json:"last_validated"`
}

// Recorder receives cache events for metrics. Implemented by pkg/metrics.
type Recorder interface {
	ObserveCache(agentType string, hit bool)
}

// Manager derives deterministic keys for language-model calls, tracks which
// agent produced each entry, and runs the periodic TTL sweep on its own timer
// so housekeeping never blocks a request.
//
// The manager is constructed explicitly and injected into the engine; sharing
// one instance across sessions is a configuration choice, not a global.
type Manager struct {
	cache    *Cache
	logger   *logx.Logger
	recorder Recorder

	metaMu sync.Mutex
	meta   map[string]*EntryMeta // key -> metadata

	stopOnce sync.Once
	stopCh   chan struct{}
}

// ManagerOptions configures a cache manager.
type ManagerOptions struct {
	Capacity        int
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	Recorder        Recorder // optional
}

// NewManager creates a manager with its own cache and starts the cleanup timer.
func NewManager(opts ManagerOptions) *Manager {
	interval := opts.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	m := &Manager{
		cache:    New(opts.Capacity, opts.DefaultTTL),
		logger:   logx.NewLogger("cache"),
		recorder: opts.Recorder,
		meta:     make(map[string]*EntryMeta),
		stopCh:   make(chan struct{}),
	}
	go m.cleanupLoop(interval)
	return m
}

// Close stops the cleanup timer. Safe to call more than once.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

func (m *Manager) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if removed := m.cache.Sweep(); removed > 0 {
				m.pruneMeta()
				m.logger.Debug("Swept %d expired entries", removed)
			}
		}
	}
}

// DeriveKey builds the deterministic cache key: a sha256 digest over the
// agent type, the normalized system prompt, the normalized user message, and
// (when present) a digest of recent conversation history. Session identity is
// deliberately absent from the key.
func DeriveKey(agentType, systemPrompt, userMessage string, history []llm.CompletionMessage) string {
	h := sha256.New()
	h.Write([]byte(agentType))
	h.Write([]byte{0})
	h.Write([]byte(normalize(systemPrompt)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(userMessage)))
	if len(history) > 0 {
		h.Write([]byte{0})
		h.Write([]byte(historyDigest(history)))
	}
	return fmt.Sprintf("%s:%x", agentType, h.Sum(nil))
}

// normalize collapses whitespace so formatting-only differences share a key.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

func historyDigest(history []llm.CompletionMessage) string {
	h := sha256.New()
	for i := range history {
		msg := &history[i]
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(normalize(msg.Content)))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// InvokeOptions tunes one cached invocation.
type InvokeOptions struct {
	TTL  time.Duration // 0 = cache default
	Tags []string
}

// Invoke performs a cached completion: on a key hit the stored response is
// returned without touching the client; on a miss the client is invoked and a
// successful response is stored. Failures are never cached.
func (m *Manager) Invoke(ctx context.Context, client llm.Client, agentType string, req llm.CompletionRequest, opts InvokeOptions) (llm.CompletionResponse, error) {
	systemPrompt, userMessage, history := splitRequest(req.Messages)
	key := DeriveKey(agentType, systemPrompt, userMessage, history)

	if value, ok := m.cache.Get(key); ok {
		if resp, ok := asCompletionResponse(value); ok {
			m.touchMeta(key, agentType)
			m.observe(agentType, true)
			m.logger.Debug("Hit for agent %s", agentType)
			return resp, nil
		}
	}
	m.observe(agentType, false)

	resp, err := client.Complete(ctx, req)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	tags := append([]string{agentType}, opts.Tags...)
	m.cache.Set(key, resp, SetOptions{TTL: opts.TTL, Tags: tags})
	m.setMeta(key, agentType)
	return resp, nil
}

// asCompletionResponse recovers a stored response. Entries that went through
// Export/Import come back as generic JSON maps, so those are re-decoded into
// the concrete type rather than treated as misses.
func asCompletionResponse(value any) (llm.CompletionResponse, bool) {
	switch v := value.(type) {
	case llm.CompletionResponse:
		return v, true
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return llm.CompletionResponse{}, false
		}
		var resp llm.CompletionResponse
		if err := json.Unmarshal(data, &resp); err != nil || resp.Content == "" {
			return llm.CompletionResponse{}, false
		}
		return resp, true
	default:
		return llm.CompletionResponse{}, false
	}
}

// splitRequest separates a request into the key components: system prompt,
// final user message, and the preceding history.
func splitRequest(messages []llm.CompletionMessage) (systemPrompt, userMessage string, history []llm.CompletionMessage) {
	var systemParts []string
	var rest []llm.CompletionMessage
	for i := range messages {
		if messages[i].Role == llm.RoleSystem {
			systemParts = append(systemParts, messages[i].Content)
		} else {
			rest = append(rest, messages[i])
		}
	}
	systemPrompt = strings.Join(systemParts, "\n\n")
	if len(rest) > 0 {
		userMessage = rest[len(rest)-1].Content
		history = rest[:len(rest)-1]
	}
	return systemPrompt, userMessage, history
}

// InvalidateByAgent drops every entry the given agent type produced.
func (m *Manager) InvalidateByAgent(agentType string) int {
	removed := m.cache.InvalidateByTags([]string{agentType})
	m.pruneMeta()
	return removed
}

// InvalidateByTags drops entries carrying any of the tags.
func (m *Manager) InvalidateByTags(tags []string) int {
	removed := m.cache.InvalidateByTags(tags)
	m.pruneMeta()
	return removed
}

// Clear drops all entries and metadata.
func (m *Manager) Clear() {
	m.cache.Clear()
	m.metaMu.Lock()
	m.meta = make(map[string]*EntryMeta)
	m.metaMu.Unlock()
}

// GetStats returns the underlying cache counters.
func (m *Manager) GetStats() Stats {
	return m.cache.GetStats()
}

// GetMeta returns a copy of the metadata for a key, if present.
func (m *Manager) GetMeta(key string) (EntryMeta, bool) {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	meta, ok := m.meta[key]
	if !ok {
		return EntryMeta{}, false
	}
	return *meta, true
}

// Export hands off the cache contents for persistence.
func (m *Manager) Export() ([]byte, error) {
	return m.cache.Export()
}

// Import restores previously exported contents.
func (m *Manager) Import(data []byte) error {
	return m.cache.Import(data)
}

// Cache exposes the raw cache, mainly for tests.
func (m *Manager) Cache() *Cache {
	return m.cache
}

func (m *Manager) setMeta(key, agentType string) {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	m.meta[key] = &EntryMeta{
		AgentType:     agentType,
		LastValidated: time.Now().UTC(),
	}
}

func (m *Manager) touchMeta(key, agentType string) {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	meta, ok := m.meta[key]
	if !ok {
		meta = &EntryMeta{AgentType: agentType}
		m.meta[key] = meta
	}
	meta.ReuseCount++
	meta.LastValidated = time.Now().UTC()
}

// pruneMeta drops metadata for keys no longer present in the cache.
func (m *Manager) pruneMeta() {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	for key := range m.meta {
		if _, ok := m.cache.peek(key); !ok {
			delete(m.meta, key)
		}
	}
}

// peek checks presence without touching access metadata or counters.
func (c *Cache) peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*Entry)
	if entry.expired(time.Now().UTC()) {
		return nil, false
	}
	return entry.Value, true
}

func (m *Manager) observe(agentType string, hit bool) {
	if m.recorder != nil {
		m.recorder.ObserveCache(agentType, hit)
	}
}
