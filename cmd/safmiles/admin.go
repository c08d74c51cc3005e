package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/safmiles/internal/client"
	"github.com/wondertwin-ai/safmiles/internal/server"
)

var adminURL string

// adminCmd drives the /admin control plane of a running server.
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Control a running safmiles or scoring server",
	Long: `Talk to the /admin control plane of a running server.

Available subcommands:
  health   - Check the server is up
  reset    - Clear all state, faults and clock offset
  state    - Print the state snapshot
  seed     - Load a state snapshot from a JSON file
  fault    - Inject or remove a fault on a request path
  flush    - Deliver queued claim webhooks
  advance  - Move the simulated clock forward`,
}

var adminHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the server is up",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ok, msg := client.New(adminURL).Health()
		if !ok {
			return fmt.Errorf("unhealthy: %s", msg)
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	},
}

var adminResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printResult(cmd, func(c *client.AdminClient) (string, error) { return c.Reset() })
	},
}

var adminStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the state snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printResult(cmd, func(c *client.AdminClient) (string, error) { return c.State() })
	},
}

var adminSeedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Load a state snapshot from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResult(cmd, func(c *client.AdminClient) (string, error) { return c.Seed(args[0]) })
	},
}

var faultOpts struct {
	status int
	body   string
	delay  time.Duration
	rate   float64
	remove bool
}

var adminFaultCmd = &cobra.Command{
	Use:   "fault <path>",
	Short: "Inject or remove a fault on a request path",
	Example: `  safmiles admin fault /predict --status 503
  safmiles admin fault /v1/sessions --delay 2s --rate 0.5
  safmiles admin fault /predict --remove`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if faultOpts.remove {
			return printResult(cmd, func(c *client.AdminClient) (string, error) { return c.RemoveFault(args[0]) })
		}
		fault := server.FaultConfig{
			StatusCode: faultOpts.status,
			Body:       faultOpts.body,
			Delay:      faultOpts.delay,
			Rate:       faultOpts.rate,
		}
		return printResult(cmd, func(c *client.AdminClient) (string, error) { return c.InjectFault(args[0], fault) })
	},
}

var adminFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Deliver queued claim webhooks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printResult(cmd, func(c *client.AdminClient) (string, error) { return c.FlushWebhooks() })
	},
}

var adminAdvanceCmd = &cobra.Command{
	Use:   "advance <duration>",
	Short: "Move the simulated clock forward",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		return printResult(cmd, func(c *client.AdminClient) (string, error) { return c.AdvanceTime(d) })
	},
}

func printResult(cmd *cobra.Command, call func(*client.AdminClient) (string, error)) error {
	out, err := call(client.New(adminURL))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func init() {
	adminCmd.PersistentFlags().StringVar(&adminURL, "url", "http://localhost:8080", "Base URL of the server")

	f := adminFaultCmd.Flags()
	f.IntVar(&faultOpts.status, "status", 500, "Status code to return (0 passes the request through after the delay)")
	f.StringVar(&faultOpts.body, "body", "", "Response body (default: JSON error body)")
	f.DurationVar(&faultOpts.delay, "delay", 0, "Delay before responding")
	f.Float64Var(&faultOpts.rate, "rate", 1.0, "Probability the fault fires, 0.0-1.0")
	f.BoolVar(&faultOpts.remove, "remove", false, "Remove the fault instead")

	adminCmd.AddCommand(adminHealthCmd, adminResetCmd, adminStateCmd, adminSeedCmd,
		adminFaultCmd, adminFlushCmd, adminAdvanceCmd)
	rootCmd.AddCommand(adminCmd)
}
