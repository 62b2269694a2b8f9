package cmd

import (
	"github.com/primait/lambda-deploy/pkg/deployer"
	"github.com/spf13/cobra"
)

const flagReason = "reason"

var reason string

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Stop the function: throttle it to zero and pause its schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		cloud, err := newCloudConnector(cmd.Context())
		if err != nil {
			return err
		}
		d := deployer.New(spec, deployer.Options{DryRun: dryRun, SkipValidation: true}, cloud, logger)
		err = d.Disable(cmd.Context(), reason)
		printPlan(cmd, d.Recorder())
		if err != nil {
			return err
		}
		logger.PrintYellow("Function " + spec.FunctionName + " disabled")
		return nil
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Resume the function after a manual or budget triggered stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cloud, err := newCloudConnector(cmd.Context())
		if err != nil {
			return err
		}
		d := deployer.New(spec, deployer.Options{DryRun: dryRun, SkipValidation: true}, cloud, logger)
		err = d.Enable(cmd.Context())
		printPlan(cmd, d.Recorder())
		if err != nil {
			return err
		}
		logger.PrintGreen("Function " + spec.FunctionName + " enabled")
		return nil
	},
}

func init() {
	disableCmd.Flags().StringVar(&reason, flagReason, "", "Reason sent to the budget subscribers")
	rootCmd.AddCommand(disableCmd, enableCmd)
}
