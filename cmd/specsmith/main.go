// specsmith is an interactive CLI for the requirement interview engine: it
// turns a vague product idea into a requirement specification through a staged
// conversation (collect, risks, stack, MVP boundary, document).
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"specsmith/pkg/cache"
	"specsmith/pkg/checkpoint"
	"specsmith/pkg/config"
	"specsmith/pkg/contextmgr"
	"specsmith/pkg/engine"
	"specsmith/pkg/llm"
	"specsmith/pkg/llm/anthropic"
	"specsmith/pkg/llm/google"
	"specsmith/pkg/llm/ollama"
	"specsmith/pkg/llm/openai"
	"specsmith/pkg/metrics"
	"specsmith/pkg/prompts"
	"specsmith/pkg/resilience"
	"specsmith/pkg/session"
)

// vaultPasswordEnv lets scripts supply the vault passphrase non-interactively.
const vaultPasswordEnv = "SPECSMITH_VAULT_PASSWORD"

type cliFlags struct {
	configPath  string
	secretsDir  string
	resume      string
	usage       string
	setSecret   string
	list        bool
	metricsAddr string
}

func main() {
	var flags cliFlags
	flag.StringVar(&flags.configPath, "config", "config.json", "Path to the configuration file")
	flag.StringVar(&flags.secretsDir, "secrets-dir", ".", "Directory holding the encrypted secrets file")
	flag.StringVar(&flags.resume, "resume", "", "Resume the session with this ID")
	flag.StringVar(&flags.usage, "usage", "", "Print the LLM usage report for a session ID and exit")
	flag.StringVar(&flags.setSecret, "set-secret", "", "Store a named secret in the encrypted vault and exit")
	flag.BoolVar(&flags.list, "list", false, "List checkpointed sessions and exit")
	flag.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9091)")
	flag.Parse()

	if err := run(&flags); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(flags *cliFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	if flags.setSecret != "" {
		return storeSecret(flags.secretsDir, flags.setSecret)
	}
	if flags.usage != "" {
		return printUsageReport(&cfg, flags.usage)
	}

	store, err := openStore(&cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if flags.list {
		return listSessions(store)
	}
	return runInterview(&cfg, flags, store)
}

func openStore(cfg *config.Config) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "sqlite":
		return checkpoint.NewSQLiteStore(cfg.Checkpoint.Path)
	case "file":
		return checkpoint.NewFileStore(cfg.Checkpoint.Path)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

func runInterview(cfg *config.Config, flags *cliFlags, store checkpoint.Store) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, modelName, err := buildClient(cfg, flags.secretsDir)
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder()
	if flags.metricsAddr != "" {
		go serveMetrics(flags.metricsAddr)
	}

	manager := cache.NewManager(cache.ManagerOptions{
		Capacity:        cfg.Cache.Capacity,
		DefaultTTL:      cfg.Cache.DefaultTTL.Std(),
		CleanupInterval: cfg.Cache.CleanupInterval.Std(),
		Recorder:        recorder,
	})
	defer manager.Close()

	provider, err := prompts.NewProvider()
	if err != nil {
		return err
	}
	windower, err := contextmgr.New(cfg.Interview.HistoryTokenBudget)
	if err != nil {
		return err
	}

	eng := engine.New(&engine.Deps{
		Client:       client,
		Cache:        manager,
		Prompts:      provider,
		Context:      windower,
		Recorder:     recorder,
		ModelName:    modelName,
		MaxQuestions: cfg.Interview.MaxQuestions,
	}, store)

	wrapper := resilience.NewWrapper(resilience.Config{
		Breaker: resilience.BreakerConfig{
			FailureThreshold: cfg.Resilience.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Resilience.Breaker.SuccessThreshold,
			OpenTimeout:      cfg.Resilience.Breaker.OpenTimeout.Std(),
			HalfOpenBudget:   cfg.Resilience.Breaker.HalfOpenBudget,
			Recorder:         recorder,
		},
		Retry: resilience.RetryConfig{MaxAttempts: cfg.Resilience.Retry.MaxAttempts},
	})

	sessionID := flags.resume
	resuming := sessionID != ""
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	fmt.Printf("Session %s (%s via %s)\n", sessionID, modelName, cfg.Model.Provider)
	fmt.Println("Describe the product you want to build. Type 'exit' to leave.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		var state *session.State
		err := wrapper.Execute(ctx, func(ctx context.Context) error {
			var turnErr error
			if resuming {
				state, turnErr = eng.ContinueWorkflow(ctx, sessionID, input)
			} else {
				state, turnErr = eng.RunWorkflow(ctx, sessionID, input)
			}
			return turnErr
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			fmt.Fprintf(os.Stderr, "Turn failed: %v\n", err)
			continue
		}
		resuming = true

		if state.Response != "" {
			fmt.Printf("\n%s\n", state.Response)
		}
		if state.Stop {
			if path, err := writeFinalSpec(state); err != nil {
				fmt.Fprintf(os.Stderr, "Could not write the document: %v\n", err)
			} else {
				fmt.Printf("\nSpecification written to %s\n", path)
			}
			break
		}
	}

	fmt.Printf("\nResume later with: specsmith -resume %s\n", sessionID)
	return scanner.Err()
}

func buildClient(cfg *config.Config, secretsDir string) (llm.Client, string, error) {
	if cfg.Model.Provider == config.ProviderOllama {
		host := cfg.Model.Host
		if host == "" {
			host = ollama.DefaultHostURL
		}
		model := cfg.Model.Model
		if model == "" {
			return nil, "", fmt.Errorf("ollama requires an explicit model name")
		}
		return ollama.NewClientWithModel(host, model), model, nil
	}

	vault, err := openVault(secretsDir)
	if err != nil {
		return nil, "", err
	}
	apiKey, err := vault.Get(cfg.Model.APIKeyVar)
	if err != nil {
		return nil, "", err
	}

	model := cfg.Model.Model
	switch cfg.Model.Provider {
	case config.ProviderAnthropic:
		if model == "" {
			model = anthropic.DefaultModel
		}
		return anthropic.NewClientWithModel(apiKey, model), model, nil
	case config.ProviderOpenAI:
		if model == "" {
			model = openai.DefaultModel
		}
		return openai.NewClientWithModel(apiKey, model), model, nil
	case config.ProviderGoogle:
		if model == "" {
			model = google.DefaultModel
		}
		return google.NewClientWithModel(apiKey, model), model, nil
	default:
		return nil, "", fmt.Errorf("unknown provider %q", cfg.Model.Provider)
	}
}

// openVault opens the encrypted secrets file when one exists. The passphrase
// comes from the environment or an interactive prompt; with no secrets file
// the vault just falls through to environment lookups.
func openVault(dir string) (*config.Vault, error) {
	if _, err := os.Stat(filepath.Join(dir, config.SecretsFileName)); os.IsNotExist(err) {
		return config.NewVault(), nil
	}

	password := os.Getenv(vaultPasswordEnv)
	if password == "" {
		var err error
		password, err = promptPassword("Vault passphrase: ")
		if err != nil {
			return nil, err
		}
	}
	return config.OpenVault(dir, password)
}

func storeSecret(dir, name string) error {
	value, err := promptPassword(fmt.Sprintf("Value for %s: ", name))
	if err != nil {
		return err
	}
	password := os.Getenv(vaultPasswordEnv)
	if password == "" {
		password, err = promptPassword("Vault passphrase: ")
		if err != nil {
			return err
		}
	}

	vault, err := config.OpenVault(dir, password)
	if err != nil {
		return err
	}
	vault.Set(name, value)
	if err := vault.Save(dir, password); err != nil {
		return err
	}
	fmt.Printf("Stored %s in %s\n", name, filepath.Join(dir, config.SecretsFileName))
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func listSessions(store checkpoint.Store) error {
	infos, err := store.List(context.Background())
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}
	for _, info := range infos {
		fmt.Printf("%-36s  %-22s  %s\n", info.SessionID, info.Stage, info.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func printUsageReport(cfg *config.Config, sessionID string) error {
	if cfg.Metrics.PrometheusURL == "" {
		return fmt.Errorf("usage reports need metrics.prometheus_url in the config")
	}
	query, err := metrics.NewQueryService(cfg.Metrics.PrometheusURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	usage, err := query.GetSessionUsage(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Printf("Session %s\n", usage.SessionID)
	fmt.Printf("  Requests:          %d\n", usage.Requests)
	fmt.Printf("  Prompt tokens:     %d\n", usage.PromptTokens)
	fmt.Printf("  Completion tokens: %d\n", usage.CompletionTokens)
	fmt.Printf("  Total tokens:      %d\n", usage.TotalTokens)

	byAgent, err := query.GetUsageByAgent(ctx, sessionID)
	if err != nil || len(byAgent) == 0 {
		return err
	}
	fmt.Println("  By agent:")
	for agent, au := range byAgent {
		fmt.Printf("    %-15s %d tokens\n", agent, au.TotalTokens)
	}
	return nil
}

func writeFinalSpec(state *session.State) (string, error) {
	path := fmt.Sprintf("spec-%s.md", state.SessionID)
	if err := os.WriteFile(path, []byte(state.FinalSpec), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "Metrics server stopped: %v\n", err)
	}
}
