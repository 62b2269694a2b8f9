package iam

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/accessanalyzer"
	aat "github.com/aws/aws-sdk-go-v2/service/accessanalyzer/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/awserr"
)

// maxPolicyVersions is the IAM limit of stored versions per managed policy.
const maxPolicyVersions = 5

var ErrPolicyFindings = errors.New("policy has validation errors")

// ValidatePolicy runs Access Analyzer on an identity policy. Findings of type ERROR
// fail the validation; the others are logged.
func (ic *IAMClient) ValidatePolicy(ctx context.Context, name string, doc PolicyDocument) error {
	if !ic.Validate || ic.analyzer == nil {
		return nil
	}
	output, err := ic.analyzer.ValidatePolicy(ctx, &accessanalyzer.ValidatePolicyInput{
		PolicyDocument: aws.String(doc.String()),
		PolicyType:     aat.PolicyTypeIdentityPolicy,
	})
	if err != nil {
		if awserr.IsAccessDenied(err) {
			ic.logger.Warn("Skipping policy validation, access denied", "policy", name)
			return nil
		}
		if ic.recorder.DryRun() && awserr.IsUnreachable(err) {
			ic.logger.Warn("Skipping policy validation, AWS is unreachable", "policy", name)
			return nil
		}
		return fmt.Errorf("validate policy %s: %w", name, err)
	}

	var problems []string
	for _, f := range output.Findings {
		if f.FindingType == aat.ValidatePolicyFindingTypeError {
			problems = append(problems, aws.ToString(f.IssueCode)+": "+aws.ToString(f.FindingDetails))
			continue
		}
		ic.logger.Warn("Policy finding", "policy", name, "type", f.FindingType, "issue", aws.ToString(f.IssueCode), "details", aws.ToString(f.FindingDetails))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrPolicyFindings, name, strings.Join(problems, "; "))
	}
	return nil
}

// ManagedPolicySpec is the desired state of a customer managed policy.
type ManagedPolicySpec struct {
	Name        string
	ARN         string
	Description string
	Document    PolicyDocument
	Tags        map[string]string
}

// EnsureManagedPolicy creates the policy or publishes a new default version when the
// document changed. The oldest non default version is pruned at the version limit.
func (ic *IAMClient) EnsureManagedPolicy(ctx context.Context, spec ManagedPolicySpec) (bool, error) {
	if err := ic.ValidatePolicy(ctx, spec.Name, spec.Document); err != nil {
		return false, err
	}

	output, err := ic.api.GetPolicy(ctx, &iam.GetPolicyInput{PolicyArn: aws.String(spec.ARN)})
	if err != nil && !ic.recorder.Absent(err) {
		return false, fmt.Errorf("get policy %s: %w", spec.Name, err)
	}
	if err != nil || output.Policy == nil {
		input := &iam.CreatePolicyInput{
			PolicyName:     aws.String(spec.Name),
			PolicyDocument: aws.String(spec.Document.String()),
			Description:    aws.String(spec.Description),
			Tags:           toTags(spec.Tags),
		}
		err := ic.recorder.Do("iam", "CreatePolicy", spec.Name, input, func() error {
			_, err := ic.api.CreatePolicy(ctx, input)
			if awserr.IsAlreadyExists(err) {
				return nil
			}
			return err
		})
		if err != nil {
			return false, fmt.Errorf("create policy %s: %w", spec.Name, err)
		}
		return true, nil
	}

	version, err := ic.api.GetPolicyVersion(ctx, &iam.GetPolicyVersionInput{
		PolicyArn: aws.String(spec.ARN),
		VersionId: output.Policy.DefaultVersionId,
	})
	if err != nil {
		return false, fmt.Errorf("get policy version of %s: %w", spec.Name, err)
	}
	if SameDocument(aws.ToString(version.PolicyVersion.Document), spec.Document) {
		return false, nil
	}

	if err := ic.pruneVersions(ctx, spec); err != nil {
		return false, err
	}
	input := &iam.CreatePolicyVersionInput{
		PolicyArn:      aws.String(spec.ARN),
		PolicyDocument: aws.String(spec.Document.String()),
		SetAsDefault:   true,
	}
	err = ic.recorder.Do("iam", "CreatePolicyVersion", spec.Name, input, func() error {
		_, err := ic.api.CreatePolicyVersion(ctx, input)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("create policy version of %s: %w", spec.Name, err)
	}
	return true, nil
}

// aws iam list-policy-versions
func (ic *IAMClient) pruneVersions(ctx context.Context, spec ManagedPolicySpec) error {
	output, err := ic.api.ListPolicyVersions(ctx, &iam.ListPolicyVersionsInput{PolicyArn: aws.String(spec.ARN)})
	if err != nil {
		return fmt.Errorf("list policy versions of %s: %w", spec.Name, err)
	}
	if len(output.Versions) < maxPolicyVersions {
		return nil
	}

	versions := make([]types.PolicyVersion, 0, len(output.Versions))
	for _, v := range output.Versions {
		if !v.IsDefaultVersion {
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return nil
	}
	sort.Slice(versions, func(i, j int) bool {
		return aws.ToTime(versions[i].CreateDate).Before(aws.ToTime(versions[j].CreateDate))
	})

	input := &iam.DeletePolicyVersionInput{PolicyArn: aws.String(spec.ARN), VersionId: versions[0].VersionId}
	err = ic.recorder.Do("iam", "DeletePolicyVersion", spec.Name, input, func() error {
		_, err := ic.api.DeletePolicyVersion(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete policy version of %s: %w", spec.Name, err)
	}
	return nil
}
