package cmd

import (
	"time"

	"github.com/primait/lambda-deploy/pkg/config"
	"github.com/primait/lambda-deploy/pkg/connector"
	"github.com/primait/lambda-deploy/pkg/deployer"
	clioutput "github.com/primait/lambda-deploy/tools/cli/output"
	"github.com/spf13/cobra"
)

const (
	flagBuildOnly      = "build-only"
	flagLocalLambda    = "local-lambda"
	flagSkipValidation = "skip-validation"
	flagNoBudget       = "no-budget"
	flagBudgetLimit    = "budget-limit"
	flagBudgetEmail    = "budget-email"
	flagBudgetName     = "budget-name"
	flagInvoke         = "invoke"
)

var (
	buildOnly      bool
	localLambda    bool
	skipValidation bool
	noBudget       bool
	invoke         bool
)

func init() {
	f := rootCmd.Flags()
	f.BoolVar(&buildOnly, flagBuildOnly, false, "Build and verify the package, then stop")
	f.BoolVar(&localLambda, flagLocalLambda, false, "Build and run the handler locally, without touching AWS")
	f.BoolVar(&skipValidation, flagSkipValidation, false, "Skip configuration, region and IAM policy validation")
	f.BoolVar(&noBudget, flagNoBudget, false, "Do not create the budget and its kill switch")
	f.Float64(flagBudgetLimit, 0, "Monthly budget limit in USD (default: 1.00)")
	f.String(flagBudgetEmail, "", "E-mail address receiving budget alerts")
	f.String(flagBudgetName, "", "Budget name (default: \"<function>-budget\")")
	f.BoolVar(&invoke, flagInvoke, false, "Invoke the deployed function once as a smoke test")

	for flag, key := range map[string]string{
		flagBudgetLimit: config.KeyBudgetLimit,
		flagBudgetEmail: config.KeyBudgetEmail,
		flagBudgetName:  config.KeyBudgetName,
	} {
		if err := v.BindPFlag(key, f.Lookup(flag)); err != nil {
			logger.Fatal("Cannot bind flag", "flag", flag, "err", err)
		}
	}
}

func deployOptions() deployer.Options {
	return deployer.Options{
		DryRun:         dryRun,
		SkipValidation: skipValidation,
		SkipBudget:     noBudget,
		SkipTest:       !localLambda,
		SkipSmokeTest:  !invoke,
		LocalTest:      localLambda,
		BuildOnly:      buildOnly,
	}
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	startTime := time.Now()
	out := cmd.OutOrStdout()
	clioutput.Fprintln(out, clioutput.Banner("lambda-deploy"))

	opts := deployOptions()
	var cloud *connector.CloudConnector
	if !opts.BuildOnly && !opts.LocalTest {
		var err error
		if cloud, err = newCloudConnector(cmd.Context()); err != nil {
			return err
		}
	}

	d := deployer.New(spec, opts, cloud, logger)
	summary, err := d.Deploy(cmd.Context())
	if summary != nil {
		clioutput.Fprintln(out, clioutput.StepsTable(summary.Steps))
	}
	printPlan(cmd, d.Recorder())
	if err != nil {
		return err
	}

	clioutput.Fprintln(out, clioutput.SummaryBox(summary))
	if summary.DryRun {
		logger.PrintYellow("Dry run: no changes were made")
	} else {
		logger.PrintGreen("Deployment completed")
	}
	logger.Info("Execution Time", "seconds", time.Since(startTime))
	return nil
}
