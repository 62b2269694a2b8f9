package cmd

import (
	"github.com/primait/lambda-deploy/pkg/deployer"
	"github.com/spf13/cobra"
)

var cleanEnvCmd = &cobra.Command{
	Use:   "clean-env",
	Short: "Replace the function environment with the configured variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cloud, err := newCloudConnector(cmd.Context())
		if err != nil {
			return err
		}
		d := deployer.New(spec, deployer.Options{DryRun: dryRun}, cloud, logger)
		changed, err := d.CleanEnv(cmd.Context())
		printPlan(cmd, d.Recorder())
		if err != nil {
			return err
		}
		if changed {
			logger.PrintGreen("Environment of " + spec.FunctionName + " replaced")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanEnvCmd)
}
