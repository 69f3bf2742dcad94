// Command shopsight is a natural-language analytics assistant over the
// thelook_ecommerce dataset. It reads free-text questions in a loop,
// runs each one through the turn graph, prints the report, and
// optionally appends it to a report log file.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/randalmurphal/shopsight/pkg/analyst"
	"github.com/randalmurphal/shopsight/pkg/config"
	"github.com/randalmurphal/shopsight/pkg/flow/checkpoint"
	"github.com/randalmurphal/shopsight/pkg/llm"
	"github.com/randalmurphal/shopsight/pkg/warehouse"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "shopsight:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfgPath := "shopsight.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.FromFileOrEmpty(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = cfg.String("gemini_api_key", "")
	}
	if apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is not set")
	}

	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if projectID == "" {
		projectID = cfg.String("project_id", "")
	}
	if projectID == "" {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT is not set")
	}

	client, err := llm.NewGemini(ctx, apiKey,
		llm.WithModel(cfg.String("model", "gemini-2.0-flash")),
		llm.WithTemperature(cfg.Float("temperature", 0.2)))
	if err != nil {
		return fmt.Errorf("init gemini: %w", err)
	}

	store, err := warehouse.NewBigQuery(ctx, projectID,
		warehouse.WithMaxRows(cfg.Int("row_limit", 1000)))
	if err != nil {
		return fmt.Errorf("init bigquery: %w", err)
	}
	defer store.Close()

	profile := warehouse.DefaultProfile()
	if cfg.Bool("live_profile", false) {
		profile = warehouse.LoadProfile(ctx, store.Client(), logger)
	}

	opts := []analyst.AssistantOption{
		analyst.WithAssistantLogger(logger),
	}

	var ckpt checkpoint.Store
	if path := cfg.String("checkpoint_db", ""); path != "" {
		ckpt, err = checkpoint.NewSQLiteStore(path)
		if err != nil {
			return fmt.Errorf("open checkpoint store: %w", err)
		}
	} else {
		ckpt = checkpoint.NewMemoryStore()
	}
	defer ckpt.Close()
	opts = append(opts, analyst.WithCheckpointStore(ckpt))

	if cfg.Bool("tracing", false) {
		opts = append(opts, analyst.WithTracing())
	}

	assistant, err := analyst.NewAssistant(client, store, profile, opts...)
	if err != nil {
		return fmt.Errorf("init assistant: %w", err)
	}

	session := assistant.Session(cfg.String("session_id", analyst.DefaultSessionID))
	reportLog := cfg.String("report_log", "reports.log")

	fmt.Println("=== shopsight: e-commerce analytics assistant ===")
	fmt.Printf("Ask questions about %s.\n", warehouse.Dataset)
	fmt.Println("Type 'exit' or 'quit' to leave.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("Query: ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if q := strings.ToLower(question); q == "exit" || q == "quit" {
			fmt.Println("Goodbye.")
			break
		}

		report := session.Ask(ctx, question)

		fmt.Println("\n--- Report ---")
		fmt.Println(report)
		fmt.Println("--------------")
		fmt.Println()

		if reportLog != "" {
			if err := appendReport(reportLog, question, report); err != nil {
				logger.Warn("report log append failed", "path", reportLog, "error", err)
			}
		}
	}

	return scanner.Err()
}

// newLogger builds the process logger from config.
func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.String("log_level", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// appendReport appends one timestamped question/report pair to the
// report log file.
func appendReport(path, question, report string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "[%s] Q: %s\n%s\n\n",
		time.Now().Format(time.RFC3339), question, report)
	return err
}
