// Command secretary extracts structured JSON from documents with an LLM.
//
//	secretary extract --schema invoice.yaml --input invoice.txt
//	secretary extract --schema invoice.yaml --url https://example.com/page --mode fields
//	secretary prompt  --schema invoice.yaml --mode force
//	secretary explain --schema invoice.yaml --input invoice.txt --format dot
//
// Settings are read from secretary.yaml, then overridden by flags. API keys
// come from the environment; a .env file is loaded automatically.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vivaneiona/secretary"
)

// Version is injected at build time.
var Version = "dev"

type globalFlags struct {
	configPath   string
	schemaPath   string
	root         string
	provider     string
	model        string
	mode         string
	instructions []string
	cacheURL     string
	verbose      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "secretary",
		Short:         "Extract structured JSON from text with an LLM",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "secretary.yaml", "config file")
	pf.StringVarP(&g.schemaPath, "schema", "s", "", "schema YAML file (required)")
	pf.StringVar(&g.root, "root", "", "schema to extract when the file defines several")
	pf.StringVarP(&g.provider, "provider", "p", "", "openai, azure or gemini")
	pf.StringVarP(&g.model, "model", "m", "", "model or deployment name")
	pf.StringVar(&g.mode, "mode", "", "single, fields or force")
	pf.StringArrayVarP(&g.instructions, "instruction", "i", nil, "additional instruction (repeatable)")
	pf.StringVar(&g.cacheURL, "cache", "", "redis:// URL of a response cache")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newExtractCmd(&g), newPromptCmd(&g), newExplainCmd(&g))
	return root
}

// session is everything a subcommand needs after flags and config merged.
type session struct {
	cfg  Config
	mode secretary.Mode
	task *secretary.Task
	log  *slog.Logger
}

func (g *globalFlags) session(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(g.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.Provider = g.provider
	}
	if flags.Changed("model") {
		cfg.Model = g.model
	}
	if flags.Changed("mode") {
		cfg.Mode = g.mode
	}
	if flags.Changed("cache") {
		cfg.Cache.URL = g.cacheURL
	}
	cfg.Instructions = append(cfg.Instructions, g.instructions...)
	if g.verbose {
		cfg.LogLevel = "debug"
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	mode, err := secretary.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if g.schemaPath == "" {
		return nil, fmt.Errorf("--schema is required")
	}
	data, err := os.ReadFile(g.schemaPath)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	doc, err := secretary.ParseSchemaDocument(data)
	if err != nil {
		return nil, err
	}
	rootName := g.root
	if rootName == "" {
		rootName = doc.Root
	}
	schema, err := doc.Resolve(rootName)
	if err != nil {
		return nil, err
	}
	task := secretary.NewDynamicTask(schema, cfg.Instructions...)
	log.Debug("Loaded schema", "schema", schema.Name(), "fields", schema.Paths(), "mode", mode)
	return &session{cfg: cfg, mode: mode, task: task, log: log}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
	}))
}

// readInput concatenates the --input files, --url pages and stdin ("-").
func readInput(ctx context.Context, log *slog.Logger, files, urls []string) (string, error) {
	var assets []secretary.Asset
	for _, f := range files {
		if f == "-" {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				return "", fmt.Errorf("read stdin: %w", err)
			}
			assets = append(assets, secretary.NewTextAsset(string(b)))
			continue
		}
		assets = append(assets, secretary.NewFileAsset(f))
	}
	for _, u := range urls {
		assets = append(assets, secretary.NewURLAsset(u))
	}
	if len(assets) == 0 {
		return "", fmt.Errorf("no input: use --input or --url")
	}
	return secretary.InputFrom(ctx, log, assets...)
}
