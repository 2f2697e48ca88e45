package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wtsi-hgi/irobot/internal/cliutil"
	"github.com/wtsi-hgi/irobot/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect irobotd configuration",
}

var configShowOutput string

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display irobotd's effective configuration: the configuration file merged
with environment overrides and defaults.

Examples:
  # Show the effective config as YAML
  irobotd config show

  # Show as JSON
  irobotd config show --output json`,
	RunE: runConfigShow,
}

func init() {
	configShowCmd.Flags().StringVarP(&configShowOutput, "output", "o", "yaml", "Output format (yaml|json)")
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	switch configShowOutput {
	case "json":
		return cliutil.PrintJSON(os.Stdout, cfg)
	case "yaml":
		return cliutil.PrintYAML(os.Stdout, cfg)
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", configShowOutput)
	}
}
