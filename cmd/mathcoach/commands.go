package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/mathcoach/internal/api"
	"github.com/kalambet/mathcoach/internal/config"
	"github.com/kalambet/mathcoach/internal/engine"
	"github.com/kalambet/mathcoach/internal/extract"
	"github.com/kalambet/mathcoach/internal/ingest"
	"github.com/kalambet/mathcoach/internal/proxy"
	"github.com/kalambet/mathcoach/internal/retrieval"
	"github.com/kalambet/mathcoach/internal/session"
	"github.com/kalambet/mathcoach/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the tutor a math question",
	Long: `Ask the tutor a math question through the running server.

Examples:
  mathcoach ask "Integrate x^2 * e^(x^3) dx"
  mathcoach ask --session 3f1c... "Now do the same for x * e^(x^2)"
  mathcoach ask --file ./question.png "I am stuck at step two"
  mathcoach ask --format yaml "Find the roots of x^2 - 5x + 6"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		sessionID, _ := cmd.Flags().GetString("session")
		userID, _ := cmd.Flags().GetString("user")
		file, _ := cmd.Flags().GetString("file")
		format, _ := cmd.Flags().GetString("format")

		if file == "" && strings.TrimSpace(query) == "" {
			return fmt.Errorf("a question or --file is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var res *http.Response
		if file != "" {
			res, err = client.postFile(cmd.Context(), "/v1/query/file", file, map[string]string{
				"query":      query,
				"session_id": sessionID,
				"user_id":    userID,
			})
		} else {
			res, err = client.post(cmd.Context(), "/v1/query", api.QueryRequest{
				Query:     query,
				SessionID: sessionID,
				UserID:    userID,
			})
		}
		if err != nil {
			return err
		}

		result, err := decodeResult(res)
		if err != nil {
			return err
		}
		if err := writeResult(os.Stdout, format, result); err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("query failed (%s)", result.ErrorType)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "session id to continue")
	askCmd.Flags().String("user", "", "user id for a new session")
	askCmd.Flags().String("file", "", "image or PDF containing the question")
	askCmd.Flags().String("format", formatText, "output format: text, json or yaml")
}

// --- extract ---

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Print the question text extracted from an image or PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ex := extract.New(proxy.NewClient(cfg.Proxy.OpenRouterAPIKey), cfg.Proxy.VisionModel)
		text, err := ex.ExtractFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

// --- corpus ---

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the worked-problem corpus",
}

var corpusImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Embed and store every problem file under dir",
	Long: `Embed and store every .json and .jsonl problem file under dir.

Each entry needs "problem" and "solution" fields; "section" defaults to the
name of the containing directory. Re-importing the same files replaces the
existing entries.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
		if err := engine.EnsureReady(cmd.Context(), eng, cfg.Ollama.GuardModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel).WithConcurrency(concurrency)
		importer := ingest.NewImporter(
			embedder,
			retrieval.NewSQLiteStore(store.DB()),
			batchSize,
		).OnProgress(func(done, total int) {
			printStep("%d/%d problems", done, total)
		})

		printStep("Importing %s with %s", args[0], embedder.Model())
		rep, err := importer.ImportDir(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		printSuccess("Imported %d problems from %d files", rep.Imported, rep.Files)
		if rep.Skipped > 0 {
			printWarning("Skipped %d malformed entries", rep.Skipped)
		}
		if rep.FailedFiles > 0 || rep.FailedBatches > 0 {
			printWarning("%d files and %d batches failed; see log for details", rep.FailedFiles, rep.FailedBatches)
		}
		return nil
	},
}

var corpusRemoveCmd = &cobra.Command{
	Use:   "remove <content-id>...",
	Short: "Remove problems from the corpus by content id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		removed, err := removeProblems(cmd.Context(), retrieval.NewSQLiteStore(store.DB()), args)
		printSuccess("Removed %d of %d problems", removed, len(args))
		return err
	},
}

// removeProblems deletes each id, continuing past failures, and returns how
// many were removed.
func removeProblems(ctx context.Context, vectors retrieval.VectorStore, ids []string) (int, error) {
	var errs []error
	removed := 0
	for _, id := range ids {
		if err := vectors.Delete(ctx, id); err != nil {
			printWarning("%s: %v", id, err)
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

var corpusStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show corpus size per section",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		vectors := retrieval.NewSQLiteStore(store.DB())
		total, err := vectors.Count(cmd.Context())
		if err != nil {
			return err
		}
		sections, err := vectors.Sections(cmd.Context())
		if err != nil {
			return err
		}

		if format != formatText {
			return writeValue(os.Stdout, format, map[string]any{"total": total, "sections": sections})
		}

		names := make([]string, 0, len(sections))
		for name := range sections {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-30s %d\n", name, sections[name])
		}
		fmt.Printf("%s %d\n", colorize(colorBold, "Total:"), total)
		return nil
	},
}

func init() {
	corpusImportCmd.Flags().Int("batch-size", ingest.DefaultBatchSize, "problems embedded per batch")
	corpusImportCmd.Flags().Int("concurrency", retrieval.DefaultConcurrency, "embedding requests in flight")
	corpusStatsCmd.Flags().String("format", formatText, "output format: text, json or yaml")
	corpusCmd.AddCommand(corpusImportCmd)
	corpusCmd.AddCommand(corpusRemoveCmd)
	corpusCmd.AddCommand(corpusStatsCmd)
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session <id>",
	Short: "Show a session and its recent exchanges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/sessions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var info session.Info
		if err := decodeJSON(resp, &info); err != nil {
			return err
		}
		if format != formatText {
			return writeValue(os.Stdout, format, info)
		}

		printStatus("Session", "%s", info.ID)
		printStatus("User", "%s", info.UserID)
		printStatus("Queries", "%d", info.TotalQueries)
		printStatus("Last activity", "%s", info.LastActivity.Format("2006-01-02 15:04:05"))
		for i, ex := range info.History {
			fmt.Printf("\n%s %s\n", colorize(colorBold, fmt.Sprintf("Query %d:", i+1)), ex.Query)
			fmt.Printf("  %s\n", session.Summarize(ex.Response))
		}
		return nil
	},
}

func init() {
	sessionCmd.Flags().String("format", formatText, "output format: text, json or yaml")
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Browse the interaction log",
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/v1/interactions?limit=%d", limit)
		if sessionID != "" {
			path = fmt.Sprintf("/v1/sessions/%s/interactions?limit=%d", url.PathEscape(sessionID), limit)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var interactions []storage.Interaction
		if err := decodeJSON(resp, &interactions); err != nil {
			return err
		}

		if len(interactions) == 0 {
			fmt.Println("No interactions found.")
			return nil
		}

		for _, ix := range interactions {
			query := ix.Query
			if len([]rune(query)) > 80 {
				query = string([]rune(query)[:80]) + "..."
			}
			fmt.Printf("%s  %s  %-9s  %s\n",
				colorize(colorCyan, shortID(ix.ID)),
				ix.CreatedAt.Format("2006-01-02 15:04:05"),
				ix.Outcome,
				query,
			)
		}
		return nil
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format == formatText {
			format = formatJSON
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/interactions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var interaction storage.Interaction
		if err := decodeJSON(resp, &interaction); err != nil {
			return err
		}
		return writeValue(os.Stdout, format, interaction)
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsListCmd.Flags().String("session", "", "only list interactions of this session")
	interactionsShowCmd.Flags().String("format", formatJSON, "output format: json or yaml")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}

		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
