package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sapience/langsmith-mcp/internal/httpapi"
	"github.com/sapience/langsmith-mcp/internal/langsmith"
	"github.com/sapience/langsmith-mcp/internal/mcp"
)

// Set via ldflags at build time.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "langsmith-mcp",
	Short:        "MCP server bridging AI assistants to LangSmith tracing",
	Long:         "langsmith-mcp exposes SAPience tracing, evaluation, and reporting tools over the MCP stdio protocol, backed by the LangSmith API.",
	SilenceUsage: true,
	RunE:         runStdio,
}

var httpCmd = &cobra.Command{
	Use:   "http",
	Short: "Serve the tool catalog over HTTP instead of stdio",
	RunE:  runHTTP,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to YAML configuration file (environment variables take precedence)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	httpCmd.Flags().String("addr", ":8080", "Listen address for the HTTP transport")
	httpCmd.Flags().String("token", os.Getenv("MCP_HTTP_TOKEN"), "Bearer token required on /mcp routes (empty disables auth)")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("langsmith-mcp version %s\n", version))
	rootCmd.AddCommand(httpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runStdio(cmd *cobra.Command, _ []string) error {
	server, err := buildServer(cmd)
	if err != nil {
		return err
	}
	return server.Run()
}

func runHTTP(cmd *cobra.Command, _ []string) error {
	server, err := buildServer(cmd)
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("addr")
	token, _ := cmd.Flags().GetString("token")

	api := httpapi.New(httpapi.Config{Addr: addr, Token: token}, server)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("Serving HTTP transport")
	return srv.ListenAndServe()
}

// buildServer loads configuration and wires the dispatcher. Missing
// credentials leave the server in degraded mode rather than failing startup.
func buildServer(cmd *cobra.Command) (*mcp.Server, error) {
	setupLogging(cmd)

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := langsmith.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	var client mcp.Client
	if cfg.Configured() {
		client = langsmith.NewClient(cfg)
		log.Info().
			Str("project", cfg.Project).
			Str("endpoint", cfg.Endpoint).
			Msg("LangSmith client configured")
	} else {
		log.Warn().Msg("LANGSMITH_API_KEY not set; tool calls will report service unavailable")
	}

	return mcp.NewServer(cfg, client), nil
}

// setupLogging routes logs to stderr; stdout carries the protocol stream.
func setupLogging(cmd *cobra.Command) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	level := zerolog.InfoLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}
