package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/mathcoach/internal/api"
	"github.com/kalambet/mathcoach/internal/config"
	"github.com/kalambet/mathcoach/internal/engine"
	"github.com/kalambet/mathcoach/internal/extract"
	"github.com/kalambet/mathcoach/internal/guardrail"
	"github.com/kalambet/mathcoach/internal/pipeline"
	"github.com/kalambet/mathcoach/internal/proxy"
	"github.com/kalambet/mathcoach/internal/retrieval"
	"github.com/kalambet/mathcoach/internal/session"
	"github.com/kalambet/mathcoach/internal/storage"
	"github.com/kalambet/mathcoach/internal/synthesis"
	"github.com/kalambet/mathcoach/internal/websearch"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the mathcoach server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running mathcoach server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mathcoach system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the tutor tools over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "mathcoach.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// app holds the wired components shared by the server and MCP modes.
type app struct {
	cfg          config.Config
	store        *storage.Store
	vectors      *retrieval.SQLiteStore
	sessions     *session.Store
	orchestrator *pipeline.Orchestrator
	ragSearch    synthesis.ProblemSearcher
	webSearch    synthesis.WebSearcher
	extractor    *extract.Extractor
}

// newApp checks the local engine, opens storage and wires the pipeline.
// Readiness progress goes to w.
func newApp(ctx context.Context, cfg config.Config, w io.Writer) (*app, error) {
	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if err := engine.EnsureReady(ctx, eng, cfg.Ollama.GuardModel, cfg.Ollama.EmbedModel, w); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)
	vectors := retrieval.NewSQLiteStore(store.DB())
	ragSearch := pipeline.InstrumentRetrieval(retrieval.NewTool(embedder, vectors, cfg.Retrieval.ScoreThreshold))

	if cfg.Search.TavilyAPIKey == "" {
		slog.Warn("Tavily API key not configured; web_search will report an error to the model")
	}
	tavily := websearch.NewTavilyClient(cfg.Search.TavilyAPIKey, "")
	webSearch := pipeline.InstrumentWebSearch(websearch.NewTool(tavily, cfg.SearchTimeout()))

	openrouter := proxy.NewClient(cfg.Proxy.OpenRouterAPIKey)
	synth := synthesis.New(openrouter, synthesis.Config{
		Model:         cfg.Proxy.SynthesisModel,
		MaxIterations: cfg.Synthesis.MaxIterations,
		Timeout:       cfg.SynthesisTimeout(),
	},
		synthesis.NewRAGCapability(ragSearch),
		synthesis.NewWebCapability(webSearch),
	)

	sessions := session.NewStore()
	orch := pipeline.New(pipeline.Deps{
		Sessions:    sessions,
		Input:       guardrail.NewInputValidator(eng, cfg.Ollama.GuardModel),
		Output:      guardrail.NewOutputValidator(eng, cfg.Ollama.GuardModel),
		Synthesizer: synth,
		Recorder:    store,
	})

	return &app{
		cfg:          cfg,
		store:        store,
		vectors:      vectors,
		sessions:     sessions,
		orchestrator: orch,
		ragSearch:    ragSearch,
		webSearch:    webSearch,
		extractor:    extract.New(openrouter, cfg.Proxy.VisionModel),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}

func (a *app) mcpServer() *server.MCPServer {
	return api.NewMCPServer(api.MCPDeps{
		Retrieval:    a.ragSearch,
		Web:          a.webSearch,
		Queries:      a.orchestrator,
		Interactions: a.store,
	})
}

// sweepSessions drops idle sessions once a minute until ctx is done.
func sweepSessions(ctx context.Context, sessions *session.Store, maxIdle time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Prune(maxIdle); n > 0 {
				slog.Debug("pruned idle sessions", "count", n)
			}
			pipeline.SetActiveSessions(sessions.Len())
		}
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "mathcoach version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	// Refuse to start twice.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("mathcoach is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("mathcoach is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Server.SessionIdleMinutes > 0 {
		go sweepSessions(ctx, a.sessions, time.Duration(cfg.Server.SessionIdleMinutes)*time.Minute)
	}

	handler := api.NewHandler(api.Deps{
		Queries:      a.orchestrator,
		Sessions:     a.sessions,
		Extractor:    a.extractor,
		Interactions: a.store,
		Corpus:       a.vectors,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("mathcoach listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runMCP serves over stdin/stdout, so all diagnostics go to stderr.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	slog.Info("MCP server started (stdio transport)")
	stdioSrv := server.NewStdioServer(a.mcpServer())
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("mathcoach is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop mathcoach (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to mathcoach (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	if resp, err := client.Get(serverURL + "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		running = resp.StatusCode == http.StatusOK
		if running {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if eng.IsRunning(checkCtx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}
	printStatus("Guard model", "%s", cfg.Ollama.GuardModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	if models, err := proxy.NewClient(cfg.Proxy.OpenRouterAPIKey).ListModels(checkCtx); err != nil {
		printStatus("OpenRouter", "unreachable (%v)", err)
	} else {
		printStatus("OpenRouter", "%d models available", len(models))
	}
	printStatus("Synthesis model", "%s", cfg.Proxy.SynthesisModel)

	if cfg.Search.TavilyAPIKey == "" {
		printStatus("Web search", "not configured")
	} else {
		printStatus("Web search", "configured")
	}

	if running {
		var stats struct {
			Total int `json:"total"`
		}
		if resp, err := client.Get(serverURL + "/v1/corpus/stats"); err == nil {
			if decodeJSON(resp, &stats) == nil {
				printStatus("Corpus", "%d problems", stats.Total)
			}
		}
		var outcomes map[string]int
		if resp, err := client.Get(serverURL + "/v1/interactions/outcomes"); err == nil {
			if decodeJSON(resp, &outcomes) == nil {
				printStatus("Queries", "%s", outcomeSummary(outcomes))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// outcomeSummary renders counts as "3 completed, 1 rejected" in a stable order.
func outcomeSummary(counts map[string]int) string {
	if len(counts) == 0 {
		return "none logged"
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%d %s", counts[name], name)
	}
	return strings.Join(parts, ", ")
}
