package deployer

import (
	"context"
	"fmt"

	schedulertypes "github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/primait/lambda-deploy/pkg/config"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/awserr"
)

func (d *Deployer) connect(ctx context.Context, step string) error {
	if d.cloud == nil {
		return ErrNoCloud
	}
	d.summary = &Summary{FunctionName: d.spec.FunctionName, DryRun: d.recorder.DryRun()}
	d.recorder.SetStep(d.title.String(step))
	return d.prepare(ctx)
}

// Disable stops the function the way the kill switch would: invocations are
// throttled, the schedule is paused and subscribers are told.
func (d *Deployer) Disable(ctx context.Context, reason string) error {
	if err := d.connect(ctx, "disable"); err != nil {
		return err
	}
	if err := d.cloud.Lambda.Throttle(ctx, d.spec.FunctionName); err != nil {
		return err
	}
	d.logger.Info("Function throttled", "function", d.spec.FunctionName)

	if d.spec.ScheduleEnabled() {
		if _, err := d.cloud.Scheduler.SetState(ctx, d.spec.ScheduleName, d.resources.ScheduleGroup, schedulertypes.ScheduleStateDisabled); err != nil {
			return err
		}
	}

	if d.spec.BudgetEnabled {
		if reason == "" {
			reason = "manual request"
		}
		subject := fmt.Sprintf("%s disabled", d.spec.FunctionName)
		message := fmt.Sprintf("Lambda function %s in %s was disabled: %s.\nRun lambda-deploy enable to resume it.", d.resources.FunctionARN, d.resources.Region, reason)
		if err := d.cloud.SNS.Publish(ctx, d.resources.TopicARN, subject, message); err != nil {
			d.logger.Warn("Cannot notify budget subscribers", "topic", d.resources.TopicARN, "err", err)
		}
	}
	return nil
}

// Enable undoes Disable and a fired kill switch: the budget action is reversed, the
// deny policy detached, the concurrency limit removed and the schedule resumed.
func (d *Deployer) Enable(ctx context.Context) error {
	if err := d.connect(ctx, "enable"); err != nil {
		return err
	}
	r := d.resources

	if d.spec.BudgetEnabled {
		reversed, err := d.cloud.Budgets.ReverseAction(ctx, r.AccountID, d.spec.BudgetName, r.KillSwitchPolicyARN)
		if err != nil && !awserr.IsNotFound(err) {
			return err
		}
		if reversed {
			d.logger.Info("Budget action reversed", "budget", d.spec.BudgetName)
		}
		for _, role := range []string{r.RoleName, r.SchedulerRoleName} {
			detached, err := d.cloud.IAM.DetachRolePolicy(ctx, role, r.KillSwitchPolicyARN)
			if err != nil && !awserr.IsNotFound(err) {
				return err
			}
			if detached {
				d.logger.Info("Kill switch policy detached", "role", role)
			}
		}
	}

	if err := d.cloud.Lambda.Unthrottle(ctx, d.spec.FunctionName); err != nil {
		return err
	}
	if d.spec.ScheduleEnabled() {
		if _, err := d.cloud.Scheduler.SetState(ctx, d.spec.ScheduleName, r.ScheduleGroup, schedulertypes.ScheduleStateEnabled); err != nil {
			return err
		}
	}
	d.logger.Info("Function enabled", "function", d.spec.FunctionName)
	return nil
}

// CleanEnv replaces the function environment with the one computed from the
// current configuration, dropping every variable set by hand.
func (d *Deployer) CleanEnv(ctx context.Context) (bool, error) {
	if err := d.connect(ctx, "clean environment"); err != nil {
		return false, err
	}
	if d.envErr != nil {
		return false, d.envErr
	}
	if err := config.EnvironmentSize(d.env).Validate(); err != nil {
		return false, err
	}
	changed, err := d.cloud.Lambda.UpdateEnvironment(ctx, d.spec.FunctionName, d.env)
	if err != nil {
		return false, err
	}
	if !changed {
		d.logger.Info("Environment already clean", "function", d.spec.FunctionName, "variables", len(d.env))
	}
	return changed, nil
}
