package cmd

import (
	"fmt"

	"github.com/primait/lambda-deploy/pkg/deployer"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	clioutput "github.com/primait/lambda-deploy/tools/cli/output"
	"github.com/spf13/cobra"
)

const flagOutputFormat = "output-format"

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the deployed function, its schedule, budget and spend",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusFormat != "table" && statusFormat != "json" {
			return fmt.Errorf("unknown output format %q (want table or json)", statusFormat)
		}
		cloud, err := newCloudConnector(cmd.Context())
		if err != nil {
			return err
		}
		status, err := deployer.New(spec, deployer.Options{DryRun: dryRun}, cloud, logger).Status(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if statusFormat == "json" {
			fmt.Fprintln(out, string(logging.PrettyJSON(status)))
			return nil
		}
		costs := ""
		if len(status.Costs) > 0 {
			costs = clioutput.CostsTable(status.Costs)
		}
		clioutput.Fprintln(out, clioutput.StatusTable(status), costs)
		for _, w := range status.Warnings {
			logger.Warn("Lookup failed", "detail", w)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusFormat, flagOutputFormat, "o", "table", "Output format: table or json")
	rootCmd.AddCommand(statusCmd)
}
