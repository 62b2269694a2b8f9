package deployer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/primait/lambda-deploy/pkg/config"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/iam"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/lambda"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/scheduler"
	"github.com/primait/lambda-deploy/pkg/localtest"
	"github.com/primait/lambda-deploy/pkg/packager"
	"github.com/primait/lambda-deploy/pkg/payload"
)

const functionDescription = "Deployed by lambda-deploy"

func (d *Deployer) validate(ctx context.Context) error {
	var errs []error
	if d.envErr != nil {
		errs = append(errs, d.envErr)
	}
	size := config.EnvironmentSize(d.env)
	if err := size.Validate(); err != nil {
		errs = append(errs, err)
	} else if size.NearLimit() {
		d.logger.Warn("Lambda environment is close to the 4 KB limit", "bytes", size.Raw, "variables", size.Variables)
	}
	if !lambda.SupportedRuntime(d.spec.Runtime) {
		errs = append(errs, fmt.Errorf("%w: %q is not a Lambda runtime", config.ErrInvalidConfig, d.spec.Runtime))
	}
	for _, p := range d.spec.SecureParameters {
		if strings.TrimSpace(d.environ[p.EnvName]) == "" {
			errs = append(errs, fmt.Errorf("%w: %s (value of %s)", config.ErrMissingEnv, p.EnvName, p.Path))
		}
	}
	if d.scheduleEnabled() && d.spec.ScheduleTimezone != "" && !d.spec.TimezoneApplies() {
		d.logger.Warn("Schedule timezone only applies to cron expressions, ignoring it", "timezone", d.spec.ScheduleTimezone)
	}
	if d.opts.remote() && d.cloud != nil {
		if err := d.cloud.EC2.ValidateRegion(ctx, d.spec.Region); err != nil {
			if !d.recorder.DryRun() {
				errs = append(errs, err)
			} else {
				d.logger.Warn("Cannot validate region", "region", d.spec.Region, "err", err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	d.logger.Info("Configuration is valid", "function", d.spec.FunctionName, "runtime", d.spec.Runtime, "variables", size.Variables)
	return nil
}

func (d *Deployer) build(context.Context) error {
	stop := d.logger.Spin("Packaging " + d.spec.SourceDir)
	pkg, err := packager.New(d.spec, d.logger).Build()
	stop()
	if err != nil {
		return err
	}
	if err := packager.Verify(pkg.Path, d.spec.Runtime, d.spec.Handler, nil); err != nil {
		return err
	}
	d.pkg = pkg
	d.summary.Package = pkg
	return nil
}

// currentPackage returns the package built in this run, or the one already on disk
// when the build was skipped.
func (d *Deployer) currentPackage() (*packager.Package, error) {
	if d.pkg != nil {
		return d.pkg, nil
	}
	path := d.spec.PackagePath()
	sum, size, err := packager.Digest(path)
	if err != nil {
		return nil, fmt.Errorf("%w: build skipped and %v", packager.ErrInvalidPackage, err)
	}
	d.pkg = &packager.Package{Path: path, Size: size, SHA256: sum}
	d.summary.Package = d.pkg
	return d.pkg, nil
}

func (d *Deployer) requestID() string {
	return fmt.Sprintf("lambda-deploy-%d", d.now().UnixNano())
}

func (d *Deployer) scheduledEvent(id string) ([]byte, error) {
	r := d.resources
	return payload.Marshal(payload.ScheduledEvent(r.AccountID, r.Region, r.ScheduleARN, id, d.now()))
}

func (d *Deployer) localTest(ctx context.Context) error {
	pkg, err := d.currentPackage()
	if err != nil {
		return err
	}
	id := d.requestID()
	event, err := d.scheduledEvent(id)
	if err != nil {
		return err
	}
	result, err := localtest.New(d.spec, d.logger).Run(ctx, pkg.Path, localtest.Invocation{
		RequestID:   id,
		FunctionARN: d.resources.FunctionARN,
		Event:       event,
	})
	if errors.Is(err, localtest.ErrUnsupportedRuntime) {
		d.logger.Warn("Skipping local test", "runtime", d.spec.Runtime)
		return nil
	}
	d.summary.LocalTest = result
	if result != nil && result.Logs != "" {
		d.logger.Debug("Handler output", "logs", result.Logs)
	}
	return err
}

func (d *Deployer) setupIAM(ctx context.Context) error {
	r := d.resources
	inline := map[string]iam.PolicyDocument{}
	if len(d.spec.SecureParameters) > 0 {
		arns := make([]string, 0, len(d.spec.SecureParameters))
		for _, p := range d.spec.SecureParameters {
			arns = append(arns, r.ParameterARN(p.Path))
		}
		inline[d.spec.FunctionName+"-ssm-read"] = iam.SSMReadPolicy(r.Region, arns)
	}
	role, err := d.cloud.IAM.EnsureRole(ctx, iam.RoleSpec{
		Name:            r.RoleName,
		Description:     "Execution role of the " + d.spec.FunctionName + " Lambda function",
		Trust:           iam.LambdaTrustPolicy(),
		ManagedPolicies: []string{iam.AWSManagedPolicyARN(r.Partition, iam.LambdaBasicExecutionPolicy)},
		InlinePolicies:  inline,
		Tags:            d.spec.Tags,
	})
	if err != nil {
		return err
	}
	if role.ARN != "" {
		d.roleARN = role.ARN
	}
	d.summary.addRole(r.RoleName, d.roleARN, role)

	if !d.scheduleEnabled() {
		return nil
	}
	schedulerRole, err := d.cloud.IAM.EnsureRole(ctx, iam.RoleSpec{
		Name:        r.SchedulerRoleName,
		Description: "Lets EventBridge Scheduler invoke " + d.spec.FunctionName,
		Trust:       iam.SchedulerTrustPolicy(r.AccountID),
		InlinePolicies: map[string]iam.PolicyDocument{
			d.spec.FunctionName + "-invoke": iam.InvokePolicy(r.FunctionARN),
		},
		Tags: d.spec.Tags,
	})
	if err != nil {
		return err
	}
	d.summary.addRole(r.SchedulerRoleName, r.SchedulerRoleARN, schedulerRole)
	return nil
}

func (d *Deployer) storeParameters(ctx context.Context) error {
	for _, p := range d.spec.SecureParameters {
		value := strings.TrimSpace(d.environ[p.EnvName])
		if value == "" {
			return fmt.Errorf("%w: %s", config.ErrMissingEnv, p.EnvName)
		}
		changed, err := d.cloud.SSM.PutSecureParameter(ctx, p.Path, value, p.EnvName+" of "+d.spec.FunctionName)
		if err != nil {
			return err
		}
		if changed {
			d.logger.Info("Stored secure parameter", "path", p.Path)
		}
	}
	return nil
}

func (d *Deployer) deployFunction(ctx context.Context) error {
	if d.envErr != nil {
		return d.envErr
	}
	if err := config.EnvironmentSize(d.env).Validate(); err != nil {
		return err
	}
	pkg, err := d.currentPackage()
	if err != nil {
		return err
	}

	code := lambda.Code{SHA256: pkg.SHA256, Size: pkg.Size}
	if pkg.RequiresS3() {
		if d.spec.CodeBucket == "" {
			return fmt.Errorf("%w: %s is %s, set %s to upload it through S3", packager.ErrPackageTooLarge, pkg.Path, packager.HumanSize(pkg.Size), config.EnvName(config.KeyCodeBucket))
		}
		key := d.spec.FunctionName + "/" + d.spec.PackageName
		if _, err := d.cloud.S3.UploadPackage(ctx, d.spec.CodeBucket, key, pkg.Path, pkg.SHA256); err != nil {
			return err
		}
		code.S3Bucket, code.S3Key = d.spec.CodeBucket, key
	} else if code.ZipFile, err = pkg.Bytes(); err != nil {
		return fmt.Errorf("read package: %w", err)
	}

	result, err := d.cloud.Lambda.EnsureFunction(ctx, lambda.FunctionSpec{
		Name:         d.spec.FunctionName,
		Description:  functionDescription,
		RoleARN:      d.roleARN,
		Handler:      d.spec.Handler,
		Runtime:      d.spec.Runtime,
		Architecture: d.spec.Architecture,
		Timeout:      d.spec.Timeout,
		MemorySize:   d.spec.MemorySize,
		Environment:  d.env,
		Tags:         d.spec.Tags,
		Code:         code,
	})
	if err != nil {
		return err
	}
	if result.ARN == "" {
		result.ARN = d.resources.FunctionARN
	}
	d.summary.Function = &result
	if !result.Changed() {
		d.logger.Info("Function is up to date", "function", d.spec.FunctionName)
	}
	return nil
}

func (d *Deployer) setupLogGroup(ctx context.Context) error {
	_, err := d.cloud.Logs.EnsureLogGroup(ctx, d.resources.LogGroupName, d.spec.LogRetentionDays, d.spec.Tags)
	return err
}

func (d *Deployer) setupSchedule(ctx context.Context) error {
	r := d.resources
	input, err := payload.ScheduleInput(r.AccountID, r.Region, r.ScheduleARN)
	if err != nil {
		return err
	}
	timezone := ""
	if d.spec.TimezoneApplies() {
		timezone = d.spec.ScheduleTimezone
	}
	result, err := d.cloud.Scheduler.EnsureSchedule(ctx, scheduler.ScheduleSpec{
		Name:        d.spec.ScheduleName,
		Group:       r.ScheduleGroup,
		Description: "Invokes " + d.spec.FunctionName + " " + d.spec.ScheduleExpression,
		Expression:  d.spec.ScheduleExpression,
		Timezone:    timezone,
		TargetARN:   r.FunctionARN,
		RoleARN:     r.SchedulerRoleARN,
		Input:       input,
	})
	if err != nil {
		return err
	}
	if result.ARN == "" {
		result.ARN = r.ScheduleARN
	}
	d.summary.Schedule = &result
	return nil
}

// smokeTest invokes the deployed function with a scheduled event. A dry run has
// nothing deployed to invoke.
func (d *Deployer) smokeTest(ctx context.Context) error {
	if d.recorder.DryRun() {
		d.logger.Info("Dry run, skipping the smoke test invocation")
		return nil
	}
	event, err := d.scheduledEvent(d.requestID())
	if err != nil {
		return err
	}
	start := d.now()
	result, err := d.cloud.Lambda.Invoke(ctx, d.spec.FunctionName, event)
	if err != nil {
		return err
	}
	d.summary.SmokeTest = &SmokeTest{StatusCode: result.StatusCode, Output: string(result.Payload), Duration: d.now().Sub(start)}
	d.logger.Debug("Invocation log", "log", result.Log)
	if result.FunctionError != "" {
		d.summary.SmokeTest.Error = result.FunctionError
		return fmt.Errorf("%w: function returned %s: %s", localtest.ErrAssertion, result.FunctionError, string(result.Payload))
	}
	passed, err := localtest.Assert(d.spec.LocalAssert, result.Payload)
	if err != nil {
		return err
	}
	d.summary.SmokeTest.Passed = passed
	if !passed {
		return fmt.Errorf("%w: %s is not true for %s", localtest.ErrAssertion, d.spec.LocalAssert, string(result.Payload))
	}
	d.logger.Info("Smoke test passed", "status", result.StatusCode, "duration", d.summary.SmokeTest.Duration.Round(time.Millisecond))
	return nil
}
