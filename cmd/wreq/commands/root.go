package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/wreq/go/pkg/cli"
)

const appName = "wreq"

var (
	// Global flags
	cfgFile     string
	contextName string
	verbose     bool

	// Global configuration
	globalConfig *cli.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wreq",
	Short: "Streaming HTTP client",
	Long: `wreq - a streaming HTTP client.

Request and response bodies flow through bounded chunk channels, so large
transfers between local files, stdin/stdout and S3 run in constant memory.
Ctrl-C interrupts a transfer cleanly: the upload is aborted and nothing
partial is left behind in S3.

Configuration is stored in ~/.wreq/wreq/ and supports multiple contexts,
similar to kubectl's context management.

Examples:
  # Set up a context with a base URL and a token
  wreq config add-context api --base-url https://api.example.com --bearer-token TOKEN

  # Fetch JSON and filter it
  wreq -c api get /v1/items --jq '.items[].name'

  # Stream a file from S3 to an endpoint, rate limited
  wreq -c api post /v1/upload -d @s3://bucket/big.bin --limit-rate 1M
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "", "", "config file (default is ~/.wreq/wreq/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context name to use")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cookiesCmd)
	rootCmd.AddCommand(requestCmd)
	for _, cmd := range newMethodCmds() {
		rootCmd.AddCommand(cmd)
	}
}

func initConfig() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var err error
	globalConfig, err = cli.LoadConfigWithPath(appName, cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing config: %v\n", err)
		os.Exit(1)
	}
}

// getConfig returns the global configuration
func getConfig() *cli.Config {
	return globalConfig
}

// getContext returns the context configuration to use. Without any
// configured context it returns an empty one.
func getContext() (*cli.Context, error) {
	cfg := getConfig()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return cfg.ResolveContext(contextName)
}
