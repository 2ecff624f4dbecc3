package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vega-agent/backend/pkg/config"
	"vega-agent/backend/pkg/logger"
)

var (
	// Global flags
	verbose           bool
	provider          string
	model             string
	sessionID         string
	yolo              bool
	contextDB         string
	memoryBackend     string
	embeddingProvider string
	embeddingModel    string
	port              string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vega",
	Short: "Vega - a terminal agent with tools and long-term memory",
	Long: `Vega is a conversational agent that remembers previous sessions,
calls tools (shell, files, code and web search) and asks before it
runs anything that changes your machine.

Run without arguments to start the interactive chat.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	RunE: runChat,
}

// chatCmd is the explicit form of the default command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVarP(&provider, "provider", "p", "", "Model provider: openai, openrouter, anthropic, ollama (or set VEGA_PROVIDER)")
	flags.StringVarP(&model, "model", "m", "", "Model name (or set VEGA_MODEL)")
	flags.StringVar(&sessionID, "session", "", "Session ID to resume (default: a new session)")
	flags.BoolVar(&yolo, "yolo", false, "Run tools without asking for confirmation")
	flags.StringVar(&contextDB, "context-db", "", "SQLite memory database path (or set VEGA_CONTEXT_DB)")
	flags.StringVar(&memoryBackend, "memory", "", "Memory backend: sqlite or neo4j (or set VEGA_MEMORY_BACKEND)")
	flags.StringVar(&embeddingProvider, "embedding-provider", "", "Embedding provider: simple, openai, ollama")
	flags.StringVar(&embeddingModel, "embedding-model", "", "Embedding model name")
	serveCmd.Flags().StringVar(&port, "port", "", "HTTP port (or set VEGA_PORT)")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Show only the newest N entries")
	historyCmd.Flags().BoolVar(&historyCommands, "commands", false, "Show the session's REPL command history instead")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error")+": "+err.Error())
		os.Exit(1)
	}
}

// loadConfig reads the environment, applies explicitly set flags and initialises logging.
// Interactive commands log warnings only unless --verbose or VEGA_LOG_LEVEL say otherwise,
// so log lines do not interleave with the conversation.
func loadConfig(cmd *cobra.Command, interactive bool) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	level := cfg.LogLevel
	switch {
	case verbose:
		level = "debug"
	case level == "" && interactive && cfg.LogFile == "":
		level = "warn"
	}
	if err := logger.Init(logger.Options{Env: cfg.Env, Level: level, File: cfg.LogFile}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// applyFlags overrides config fields with the flags the user actually set
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("provider") {
		cfg.Provider = provider
		// the base URL follows the provider unless set explicitly
		if os.Getenv("VEGA_BASE_URL") == "" {
			cfg.BaseURL = ""
		}
	}
	if changed("model") {
		cfg.Model = model
	}
	if changed("session") {
		cfg.SessionID = sessionID
	}
	if changed("yolo") {
		cfg.Yolo = yolo
	}
	if changed("context-db") {
		cfg.ContextDB = contextDB
	}
	if changed("memory") {
		cfg.MemoryBackend = memoryBackend
	}
	if changed("embedding-provider") {
		cfg.EmbeddingProvider = embeddingProvider
	}
	if changed("embedding-model") {
		cfg.EmbeddingModel = embeddingModel
	}
	if changed("port") {
		cfg.Port = port
	}
}
