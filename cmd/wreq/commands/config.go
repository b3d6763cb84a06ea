package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haivivi/wreq/go/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Manage CLI configuration and contexts.

A context is a named set of request defaults: base URL, headers, auth,
timeouts, cookie store and S3 endpoint.

Configuration is stored in ~/.wreq/wreq/config.yaml`,
}

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Add or replace a context",
	Long: `Add a context with the specified name.

Example:
  wreq config add-context api --base-url https://api.example.com --bearer-token TOKEN
  wreq config add-context minio --s3-endpoint http://localhost:9000 --s3-region us-east-1 --s3-path-style`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		ctx := &cli.Context{}
		var err error
		if ctx.BaseURL, err = f.GetString("base-url"); err != nil {
			return fmt.Errorf("failed to read 'base-url' flag: %w", err)
		}
		if ctx.Timeout, err = f.GetInt("timeout"); err != nil {
			return fmt.Errorf("failed to read 'timeout' flag: %w", err)
		}
		if ctx.BearerToken, err = f.GetString("bearer-token"); err != nil {
			return fmt.Errorf("failed to read 'bearer-token' flag: %w", err)
		}
		if ctx.UserAgent, err = f.GetString("user-agent"); err != nil {
			return fmt.Errorf("failed to read 'user-agent' flag: %w", err)
		}
		if ctx.Proxy, err = f.GetString("proxy"); err != nil {
			return fmt.Errorf("failed to read 'proxy' flag: %w", err)
		}
		if ctx.MaxRedirects, err = f.GetInt("max-redirects"); err != nil {
			return fmt.Errorf("failed to read 'max-redirects' flag: %w", err)
		}
		if ctx.CookieDir, err = f.GetString("cookie-dir"); err != nil {
			return fmt.Errorf("failed to read 'cookie-dir' flag: %w", err)
		}
		if ctx.CookieRedis, err = f.GetString("cookie-redis"); err != nil {
			return fmt.Errorf("failed to read 'cookie-redis' flag: %w", err)
		}
		if ctx.BodyCapacity, err = f.GetInt("body-capacity"); err != nil {
			return fmt.Errorf("failed to read 'body-capacity' flag: %w", err)
		}
		headers, err := f.GetStringArray("header")
		if err != nil {
			return fmt.Errorf("failed to read 'header' flag: %w", err)
		}
		if len(headers) > 0 {
			ctx.Headers = make(map[string]string, len(headers))
			for _, h := range headers {
				k, v, err := parseHeader(h)
				if err != nil {
					return err
				}
				ctx.Headers[k] = v
			}
		}

		s3 := &cli.S3Context{}
		s3.Region, _ = f.GetString("s3-region")
		s3.Endpoint, _ = f.GetString("s3-endpoint")
		s3.AccessKey, _ = f.GetString("s3-access-key")
		s3.SecretKey, _ = f.GetString("s3-secret-key")
		s3.PathStyle, _ = f.GetBool("s3-path-style")
		if s3.Region != "" || s3.Endpoint != "" {
			if s3.Region == "" {
				return fmt.Errorf("--s3-region is required with --s3-endpoint")
			}
			ctx.S3 = s3
		}

		name := args[0]
		if err := getConfig().AddContext(name, ctx); err != nil {
			return err
		}
		fmt.Printf("Context %q added\n", name)
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getConfig().DeleteContext(args[0]); err != nil {
			return err
		}
		fmt.Printf("Context %q deleted\n", args[0])
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getConfig().UseContext(args[0]); err != nil {
			return err
		}
		fmt.Printf("Switched to context %q\n", args[0])
		return nil
	},
}

var configListContextsCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"list-contexts", "get-contexts"},
	Short:   "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		if len(cfg.Contexts) == 0 {
			fmt.Println("No contexts configured")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tBASE_URL\tAUTH\tS3")
		for _, name := range cfg.ListContexts() {
			ctx := cfg.Contexts[name]
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			baseURL := ctx.BaseURL
			if baseURL == "" {
				baseURL = "(none)"
			}
			s3 := ""
			if ctx.S3 != nil {
				s3 = ctx.S3.Region
				if ctx.S3.Endpoint != "" {
					s3 = ctx.S3.Endpoint
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", current, name, baseURL, cli.MaskSecret(ctx.BearerToken), s3)
		}
		return w.Flush()
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		fmt.Printf("Config file: %s\n", cfg.Path())
		fmt.Printf("Current context: %s\n", cfg.CurrentContext)

		view := make(map[string]cli.Context, len(cfg.Contexts))
		for name, ctx := range cfg.Contexts {
			c := *ctx
			c.BearerToken = cli.MaskSecret(c.BearerToken)
			if c.S3 != nil {
				s3 := *c.S3
				s3.SecretKey = cli.MaskSecret(s3.SecretKey)
				c.S3 = &s3
			}
			view[name] = c
		}
		if len(view) == 0 {
			return nil
		}
		fmt.Println()
		return cli.Output(view, cli.OutputOptions{Format: cli.FormatYAML})
	},
}

func init() {
	f := configAddContextCmd.Flags()
	f.String("base-url", "", "base URL for relative request URLs")
	f.Int("timeout", 0, "request timeout in seconds")
	f.String("bearer-token", "", "bearer token sent with every request")
	f.String("user-agent", "", "User-Agent header")
	f.String("proxy", "", "proxy URL")
	f.Int("max-redirects", 0, "maximum redirects to follow, -1 to disable")
	f.String("cookie-dir", "", "directory of the persistent cookie store")
	f.String("cookie-redis", "", "redis:// URL of a shared cookie store")
	f.Int("body-capacity", 0, "chunk capacity of body channels")
	f.StringArrayP("header", "H", nil, "header sent with every request (\"Key: Value\")")
	f.String("s3-region", "", "S3 region")
	f.String("s3-endpoint", "", "S3-compatible endpoint URL")
	f.String("s3-access-key", "", "S3 access key")
	f.String("s3-secret-key", "", "S3 secret key")
	f.Bool("s3-path-style", false, "use path-style S3 addressing")

	configCmd.AddCommand(configAddContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configListContextsCmd)
	configCmd.AddCommand(configViewCmd)
}
