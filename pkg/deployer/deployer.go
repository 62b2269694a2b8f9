// Package deployer runs the deployment pipeline: it validates the configuration,
// builds and tests the package, then converges every AWS resource of the function.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/primait/lambda-deploy/pkg/config"
	"github.com/primait/lambda-deploy/pkg/connector"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/packager"
	"github.com/primait/lambda-deploy/pkg/plan"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	stepValidation = "validation"
	stepBudget     = "budget setup"
	stepBuild      = "build package"
	stepLocalTest  = "local test"
	stepIAM        = "IAM setup"
	stepKillSwitch = "kill switch setup"
	stepParameters = "parameter storage"
	stepLambda     = "lambda deployment"
	stepLogGroup   = "log group setup"
	stepSchedule   = "schedule setup"
	stepSmokeTest  = "smoke test"
)

var ErrNoCloud = errors.New("an AWS connection is required")

// Options select which steps of the pipeline run.
type Options struct {
	DryRun         bool
	SkipValidation bool
	SkipBuild      bool
	SkipTest       bool
	SkipBudget     bool
	SkipSchedule   bool
	SkipSmokeTest  bool
	// LocalTest stops after the local test, without touching AWS.
	LocalTest bool
	// BuildOnly stops after the package is built.
	BuildOnly bool
}

func (o Options) remote() bool {
	return !o.LocalTest && !o.BuildOnly
}

type step struct {
	name    string
	enabled bool
	run     func(ctx context.Context) error
}

type Deployer struct {
	spec     *config.DeploymentSpec
	opts     Options
	cloud    *connector.CloudConnector
	recorder *plan.Recorder
	logger   logging.LogManager
	title    cases.Caser

	environ   map[string]string
	now       func() time.Time
	resources config.Resources
	env       map[string]string
	envErr    error

	pkg           *packager.Package
	budgetCreated bool
	roleARN       string
	summary       *Summary
}

// New returns a Deployer. cloud may be nil when only offline steps run.
func New(spec *config.DeploymentSpec, opts Options, cloud *connector.CloudConnector, logger logging.LogManager) *Deployer {
	d := &Deployer{
		spec:    spec,
		opts:    opts,
		cloud:   cloud,
		logger:  logger,
		title:   cases.Title(language.Und, cases.NoLower),
		environ: config.Environ(os.Environ()),
		now:     time.Now,
	}
	if cloud != nil {
		d.recorder = cloud.Recorder
		cloud.IAM.Validate = !opts.SkipValidation
	} else {
		d.recorder = plan.NewRecorder(opts.DryRun, logger)
	}
	return d
}

// SetEnviron replaces the process environment the function variables and secure
// parameters are read from.
func (d *Deployer) SetEnviron(environ map[string]string) {
	d.environ = environ
}

// Recorder returns the plan of the run.
func (d *Deployer) Recorder() *plan.Recorder {
	return d.recorder
}

func (d *Deployer) steps() []step {
	remote := d.opts.remote() && d.cloud != nil
	return []step{
		{stepValidation, !d.opts.SkipValidation, d.validate},
		{stepBudget, remote && d.budgetEnabled(), d.setupBudget},
		{stepBuild, !d.opts.SkipBuild, d.build},
		{stepLocalTest, !d.opts.SkipTest && !d.opts.BuildOnly, d.localTest},
		{stepIAM, remote, d.setupIAM},
		{stepKillSwitch, remote && d.budgetEnabled(), d.setupKillSwitch},
		{stepParameters, remote && len(d.spec.SecureParameters) > 0, d.storeParameters},
		{stepLambda, remote, d.deployFunction},
		{stepLogGroup, remote, d.setupLogGroup},
		{stepSchedule, remote && d.scheduleEnabled(), d.setupSchedule},
		{stepSmokeTest, remote && !d.opts.SkipSmokeTest, d.smokeTest},
	}
}

func (d *Deployer) budgetEnabled() bool {
	return d.spec.BudgetEnabled && !d.opts.SkipBudget
}

func (d *Deployer) scheduleEnabled() bool {
	return d.spec.ScheduleEnabled() && !d.opts.SkipSchedule
}

// Deploy runs every enabled step in order and stops at the first failure. The
// summary describes the steps that ran, also on failure.
func (d *Deployer) Deploy(ctx context.Context) (*Summary, error) {
	start := d.now()
	d.summary = &Summary{FunctionName: d.spec.FunctionName, DryRun: d.recorder.DryRun()}
	defer func() {
		d.summary.Duration = d.now().Sub(start)
		d.summary.Calls = d.recorder.Calls()
	}()

	if d.opts.remote() && d.cloud == nil {
		return d.summary, ErrNoCloud
	}
	if err := d.prepare(ctx); err != nil {
		return d.summary, err
	}

	for _, s := range d.steps() {
		name := d.title.String(s.name)
		if !s.enabled {
			d.summary.add(name, StatusSkipped, 0, nil)
			continue
		}
		if err := ctx.Err(); err != nil {
			d.summary.add(name, StatusFailed, 0, err)
			return d.summary, fmt.Errorf("step %q: %w", name, err)
		}

		d.logger.PrintDarkGreen("==> " + name)
		d.recorder.SetStep(name)
		began := d.now()
		err := s.run(ctx)
		elapsed := d.now().Sub(began)
		if err != nil {
			d.summary.add(name, StatusFailed, elapsed, err)
			return d.summary, fmt.Errorf("step %q: %w", name, err)
		}
		d.summary.add(name, StatusDone, elapsed, nil)
	}
	return d.summary, nil
}

// prepare resolves the account, derives the resource names and computes the
// function environment. Environment errors surface in the steps that need it.
func (d *Deployer) prepare(ctx context.Context) error {
	var err error
	if d.opts.remote() {
		d.resources, err = d.cloud.Resources(ctx, d.spec)
	} else {
		d.resources, err = d.spec.Resources(config.PlaceholderAccount, "")
	}
	if err != nil {
		return err
	}
	d.summary.Resources = d.resources
	d.roleARN = d.resources.RoleARN

	var skipped []string
	d.env, skipped, d.envErr = d.spec.LambdaEnvironment(d.environ)
	for _, name := range skipped {
		d.logger.Warn("Skipping variable reserved by Lambda", "variable", name)
	}
	return nil
}
