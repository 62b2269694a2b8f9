package cmd

import (
	"github.com/primait/lambda-deploy/pkg/deployer"
	clioutput "github.com/primait/lambda-deploy/tools/cli/output"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build and verify the deployment package only",
	RunE: func(cmd *cobra.Command, args []string) error {
		d := deployer.New(spec, deployer.Options{
			DryRun:         dryRun,
			SkipValidation: true,
			SkipTest:       true,
			BuildOnly:      true,
		}, nil, logger)
		summary, err := d.Deploy(cmd.Context())
		if err != nil {
			return err
		}
		clioutput.Fprintln(cmd.OutOrStdout(), clioutput.SummaryBox(summary))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
}
