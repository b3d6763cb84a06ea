package commands

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/wreq/go/pkg/cli"
)

var cookiesCmd = &cobra.Command{
	Use:   "cookies",
	Short: "Manage the persistent cookie jar",
	Long: `Manage the persistent cookie jar of the current context.

Cookies with an expiry are stored in a BadgerDB directory (the context's
cookie_dir, or ~/.wreq/wreq/cookies) and sent with later requests.
Session cookies live for a single command.`,
}

var cookiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored cookies",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(false)
		if err != nil {
			return err
		}
		defer sess.Close()

		cookies := sess.jar.All()
		if len(cookies) == 0 {
			fmt.Println("No cookies stored")
			return nil
		}
		showValues, _ := cmd.Flags().GetBool("show-values")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DOMAIN\tPATH\tNAME\tVALUE\tEXPIRES\tSECURE")
		for _, c := range cookies {
			value := c.Value
			if !showValues {
				value = cli.MaskSecret(value)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\n",
				c.Domain, c.Path, c.Name, value, c.Expires.Format(time.RFC3339), c.Secure)
		}
		return w.Flush()
	},
}

var cookiesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all stored cookies",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(false)
		if err != nil {
			return err
		}
		defer sess.Close()

		if err := sess.jar.Clear(); err != nil {
			return err
		}
		fmt.Println("Cookies cleared")
		return nil
	},
}

var cookiesRemoveCmd = &cobra.Command{
	Use:   "remove <url> <name>",
	Short: "Delete the cookies named name that would be sent to url",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := url.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
		sess, err := newSession(false)
		if err != nil {
			return err
		}
		defer sess.Close()
		return sess.jar.Remove(u, args[1])
	},
}

func init() {
	cookiesListCmd.Flags().Bool("show-values", false, "print cookie values unmasked")

	cookiesCmd.AddCommand(cookiesListCmd)
	cookiesCmd.AddCommand(cookiesClearCmd)
	cookiesCmd.AddCommand(cookiesRemoveCmd)
}
