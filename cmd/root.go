package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/primait/lambda-deploy/pkg/config"
	"github.com/primait/lambda-deploy/pkg/connector"
	awsconfig "github.com/primait/lambda-deploy/pkg/connector/services/aws"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagVerbose      = "verbose"
	flagDebug        = "debug"
	flagEnvFile      = "env-file"
	flagConfig       = "config"
	flagProfile      = "profile"
	flagRegion       = "region"
	flagEndpointURL  = "endpoint-url"
	flagDryRun       = "dry-run"
	flagPlanFormat   = "plan-format"
	flagSourceDir    = "source-dir"
	flagOutputDir    = "output-dir"
	flagFunctionName = "function-name"
)

var (
	logger     = logging.GetLogManager()
	v          = viper.New()
	spec       *config.DeploymentSpec
	envFile    string
	configFile string
	dryRun     bool
	planFormat string
	rootCmd    = &cobra.Command{
		Use:               "lambda-deploy",
		Short:             "Build and deploy a scheduled AWS Lambda function guarded by a cost budget",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		RunE:              runDeploy,
	}
)

// flagKeys maps command line flags to the configuration keys they override.
var flagKeys = map[string]string{
	flagProfile:      config.KeyProfile,
	flagRegion:       config.KeyRegion,
	flagEndpointURL:  config.KeyEndpointURL,
	flagSourceDir:    config.KeySourceDir,
	flagOutputDir:    config.KeyOutputDir,
	flagFunctionName: config.KeyFunctionName,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolP(flagVerbose, "v", false, "Verbose output")
	pf.BoolP(flagDebug, "d", false, "Debug output")
	pf.StringVar(&envFile, flagEnvFile, ".env", "Dotenv file loaded into the environment, overriding it")
	pf.StringVar(&configFile, flagConfig, "", "YAML config file (default: \"./lambda-deploy.yaml\" when present)")
	pf.StringP(flagProfile, "p", "", "AWS profile to use")
	pf.StringP(flagRegion, "r", "", "AWS region (default: \"us-east-1\")")
	pf.String(flagEndpointURL, "", "Custom AWS endpoint, e.g. LocalStack")
	pf.BoolVar(&dryRun, flagDryRun, false, "Print the planned AWS calls without changing anything")
	pf.StringVar(&planFormat, flagPlanFormat, plan.FormatTable, "Plan format: "+strings.Join(plan.Formats, ", "))
	pf.String(flagSourceDir, "", "Directory holding the function sources (default: \".\")")
	pf.String(flagOutputDir, "", "Directory the package is written to (default: \"dist\")")
	pf.String(flagFunctionName, "", "Lambda function name")

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			logger.Fatal("Cannot bind flag", "flag", flag, "err", err)
		}
	}
}

// Execute runs the command line under a context cancelled by SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	c, err := rootCmd.ExecuteContextC(ctx)
	stop()
	if err == nil {
		return
	}
	message := "Deployment failed"
	if c != nil && c != rootCmd {
		message = fmt.Sprintf("Command %s failed", c.Name())
	}
	if errors.Is(err, context.Canceled) {
		message += ": interrupted"
	}
	logging.HandleError(err, message)
}

func setup(cmd *cobra.Command, _ []string) error {
	if cmd.Flags().Changed(flagVerbose) {
		logger.SetVerboseLevel()
	}
	if cmd.Flags().Changed(flagDebug) {
		logger.SetDebugLevel()
	}
	if !slices.Contains(plan.Formats, strings.ToLower(planFormat)) {
		return fmt.Errorf("unknown plan format %q (want one of %s)", planFormat, strings.Join(plan.Formats, ", "))
	}

	loaded, err := config.LoadDotEnv(envFile)
	if err != nil {
		return err
	}
	if loaded {
		logger.Debug("Loaded dotenv file", "path", envFile)
	}

	if err := readConfigFile(); err != nil {
		return err
	}
	if err := config.Bind(v); err != nil {
		return err
	}
	if cmd.Flags().Changed(flagNoBudget) {
		v.Set(config.KeyBudgetEnabled, false)
	}
	spec, err = config.Load(v)
	return err
}

func readConfigFile() error {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("lambda-deploy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	logger.Debug("Loaded config file", "path", v.ConfigFileUsed())
	return nil
}

func newCloudConnector(ctx context.Context) (*connector.CloudConnector, error) {
	return connector.NewCloudConnector(ctx, awsconfig.Options{
		Profile:     spec.Profile,
		Region:      spec.Region,
		EndpointURL: spec.EndpointURL,
		MaxAttempts: spec.MaxAttempts,
	}, plan.NewRecorder(dryRun, logger))
}

func printPlan(cmd *cobra.Command, recorder *plan.Recorder) {
	if !recorder.DryRun() {
		return
	}
	if err := plan.Render(cmd.OutOrStdout(), recorder.Calls(), planFormat); err != nil {
		logger.Error("Cannot render the plan", "err", err)
	}
}
