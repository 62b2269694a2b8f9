package iam

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/awserr"
)

// RoleSpec is the desired state of a role.
type RoleSpec struct {
	Name            string
	Description     string
	Trust           PolicyDocument
	ManagedPolicies []string
	InlinePolicies  map[string]PolicyDocument
	Tags            map[string]string
}

type RoleResult struct {
	ARN     string
	Created bool
	Changed bool
}

// GetRole returns nil when the role does not exist.
func (ic *IAMClient) GetRole(ctx context.Context, name string) (*types.Role, error) {
	output, err := ic.api.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		if ic.recorder.Absent(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get role %s: %w", name, err)
	}
	return output.Role, nil
}

// EnsureRole creates the role or brings an existing one in line with spec: trust
// policy, tags, managed and inline policies. Managed policies attached outside of
// spec are left alone.
func (ic *IAMClient) EnsureRole(ctx context.Context, spec RoleSpec) (RoleResult, error) {
	for name, doc := range spec.InlinePolicies {
		if err := ic.ValidatePolicy(ctx, name, doc); err != nil {
			return RoleResult{}, err
		}
	}

	role, err := ic.GetRole(ctx, spec.Name)
	if err != nil {
		return RoleResult{}, err
	}

	var result RoleResult
	if role == nil {
		result.Created = true
		result.Changed = true
		input := &iam.CreateRoleInput{
			RoleName:                 aws.String(spec.Name),
			AssumeRolePolicyDocument: aws.String(spec.Trust.String()),
			Description:              aws.String(spec.Description),
			Tags:                     toTags(spec.Tags),
		}
		err := ic.recorder.Do("iam", "CreateRole", spec.Name, input, func() error {
			output, err := ic.api.CreateRole(ctx, input)
			if err != nil {
				if awserr.IsAlreadyExists(err) {
					ic.logger.Warn("Role created concurrently, reusing it", "role", spec.Name)
					result.Created = false
					return nil
				}
				return err
			}
			result.ARN = aws.ToString(output.Role.Arn)
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("create role %s: %w", spec.Name, err)
		}
		ic.logger.Info("Created IAM role", "role", spec.Name)
	} else {
		result.ARN = aws.ToString(role.Arn)
		changed, err := ic.updateRole(ctx, role, spec)
		if err != nil {
			return result, err
		}
		result.Changed = changed
	}

	// A role created in dry-run does not exist, there is nothing to list.
	attached := map[string]struct{}{}
	if !(result.Created && ic.recorder.DryRun()) {
		if attached, err = ic.attachedPolicies(ctx, spec.Name); err != nil {
			return result, err
		}
	}
	for _, policyARN := range spec.ManagedPolicies {
		if _, ok := attached[policyARN]; ok {
			continue
		}
		if err := ic.attach(ctx, spec.Name, policyARN); err != nil {
			return result, err
		}
		result.Changed = true
	}

	for _, name := range sortedDocs(spec.InlinePolicies) {
		doc := spec.InlinePolicies[name]
		if !(result.Created && ic.recorder.DryRun()) {
			current, err := ic.inlinePolicy(ctx, spec.Name, name)
			if err != nil {
				return result, err
			}
			if current != "" && SameDocument(current, doc) {
				continue
			}
		}
		input := &iam.PutRolePolicyInput{
			RoleName:       aws.String(spec.Name),
			PolicyName:     aws.String(name),
			PolicyDocument: aws.String(doc.String()),
		}
		err := ic.recorder.Do("iam", "PutRolePolicy", spec.Name+"/"+name, input, func() error {
			_, err := ic.api.PutRolePolicy(ctx, input)
			return err
		})
		if err != nil {
			return result, fmt.Errorf("put role policy %s on %s: %w", name, spec.Name, err)
		}
		result.Changed = true
	}

	if result.Created && !ic.recorder.DryRun() && ic.Propagation > 0 {
		ic.logger.Info("Waiting for IAM role propagation", "role", spec.Name, "delay", ic.Propagation)
		if err := ic.sleep(ctx, ic.Propagation); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (ic *IAMClient) updateRole(ctx context.Context, role *types.Role, spec RoleSpec) (bool, error) {
	changed := false
	if !SameDocument(aws.ToString(role.AssumeRolePolicyDocument), spec.Trust) {
		input := &iam.UpdateAssumeRolePolicyInput{
			RoleName:       aws.String(spec.Name),
			PolicyDocument: aws.String(spec.Trust.String()),
		}
		err := ic.recorder.Do("iam", "UpdateAssumeRolePolicy", spec.Name, input, func() error {
			_, err := ic.api.UpdateAssumeRolePolicy(ctx, input)
			return err
		})
		if err != nil {
			return changed, fmt.Errorf("update trust policy of %s: %w", spec.Name, err)
		}
		changed = true
	}

	current := make(map[string]string, len(role.Tags))
	for _, t := range role.Tags {
		current[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	missing := make(map[string]string)
	for k, v := range spec.Tags {
		if cv, ok := current[k]; !ok || cv != v {
			missing[k] = v
		}
	}
	if len(missing) > 0 {
		input := &iam.TagRoleInput{RoleName: aws.String(spec.Name), Tags: toTags(missing)}
		err := ic.recorder.Do("iam", "TagRole", spec.Name, input, func() error {
			_, err := ic.api.TagRole(ctx, input)
			return err
		})
		if err != nil {
			return changed, fmt.Errorf("tag role %s: %w", spec.Name, err)
		}
		changed = true
	}
	return changed, nil
}

// aws iam list-attached-role-policies
func (ic *IAMClient) attachedPolicies(ctx context.Context, role string) (map[string]struct{}, error) {
	attached := make(map[string]struct{})
	var marker *string
	for {
		output, err := ic.api.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
			RoleName: aws.String(role),
			Marker:   marker,
		})
		if err != nil {
			if ic.recorder.Absent(err) {
				return attached, nil
			}
			return nil, fmt.Errorf("list attached policies of %s: %w", role, err)
		}
		for _, p := range output.AttachedPolicies {
			attached[aws.ToString(p.PolicyArn)] = struct{}{}
		}
		if !output.IsTruncated {
			return attached, nil
		}
		marker = output.Marker
	}
}

func (ic *IAMClient) inlinePolicy(ctx context.Context, role, name string) (string, error) {
	output, err := ic.api.GetRolePolicy(ctx, &iam.GetRolePolicyInput{
		RoleName:   aws.String(role),
		PolicyName: aws.String(name),
	})
	if err != nil {
		if ic.recorder.Absent(err) {
			return "", nil
		}
		return "", fmt.Errorf("get role policy %s on %s: %w", name, role, err)
	}
	return aws.ToString(output.PolicyDocument), nil
}

// IsPolicyAttached reports whether policyARN is attached to role.
func (ic *IAMClient) IsPolicyAttached(ctx context.Context, role, policyARN string) (bool, error) {
	attached, err := ic.attachedPolicies(ctx, role)
	if err != nil {
		return false, err
	}
	_, ok := attached[policyARN]
	return ok, nil
}

// AttachRolePolicy attaches policyARN to role unless it already is.
func (ic *IAMClient) AttachRolePolicy(ctx context.Context, role, policyARN string) (bool, error) {
	ok, err := ic.IsPolicyAttached(ctx, role, policyARN)
	if err != nil || ok {
		return false, err
	}
	return true, ic.attach(ctx, role, policyARN)
}

func (ic *IAMClient) attach(ctx context.Context, role, policyARN string) error {
	input := &iam.AttachRolePolicyInput{RoleName: aws.String(role), PolicyArn: aws.String(policyARN)}
	err := ic.recorder.Do("iam", "AttachRolePolicy", role, input, func() error {
		_, err := ic.api.AttachRolePolicy(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("attach %s to %s: %w", policyARN, role, err)
	}
	return nil
}

// DetachRolePolicy detaches policyARN from role when attached.
func (ic *IAMClient) DetachRolePolicy(ctx context.Context, role, policyARN string) (bool, error) {
	ok, err := ic.IsPolicyAttached(ctx, role, policyARN)
	if err != nil || !ok {
		return false, err
	}
	input := &iam.DetachRolePolicyInput{RoleName: aws.String(role), PolicyArn: aws.String(policyARN)}
	err = ic.recorder.Do("iam", "DetachRolePolicy", role, input, func() error {
		_, err := ic.api.DetachRolePolicy(ctx, input)
		if awserr.IsNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("detach %s from %s: %w", policyARN, role, err)
	}
	return true, nil
}

func sortedDocs(m map[string]PolicyDocument) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
