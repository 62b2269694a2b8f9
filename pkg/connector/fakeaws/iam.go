package fakeaws

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/accessanalyzer"
	aat "github.com/aws/aws-sdk-go-v2/service/accessanalyzer/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
)

type role struct {
	role     types.Role
	attached map[string]struct{}
	inline   map[string]string
}

type policy struct {
	policy   types.Policy
	versions []types.PolicyVersion
}

type IAM struct {
	log     *Log
	account string

	mu       sync.Mutex
	roles    map[string]*role
	policies map[string]*policy
	clock    int
}

func newIAM(log *Log, account string) *IAM {
	return &IAM{log: log, account: account, roles: map[string]*role{}, policies: map[string]*policy{}}
}

// Attached returns the ARNs of the managed policies attached to a role.
func (f *IAM) Attached(roleName string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[roleName]
	if !ok {
		return nil
	}
	return sortedKeys(r.attached)
}

// InlinePolicy returns an inline policy document, "" when missing.
func (f *IAM) InlinePolicy(roleName, policyName string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.roles[roleName]; ok {
		return r.inline[policyName]
	}
	return ""
}

func (f *IAM) HasRole(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.roles[name]
	return ok
}

func (f *IAM) tick() *time.Time {
	f.clock++
	t := time.Date(2024, 1, 1, 0, 0, f.clock, 0, time.UTC)
	return &t
}

func (f *IAM) GetRole(_ context.Context, in *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	if err := f.log.read("GetRole"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, APIError("NoSuchEntity", "role %s not found", aws.ToString(in.RoleName))
	}
	out := r.role
	// IAM returns documents URL encoded.
	out.AssumeRolePolicyDocument = aws.String(url.QueryEscape(aws.ToString(r.role.AssumeRolePolicyDocument)))
	return &iam.GetRoleOutput{Role: &out}, nil
}

func (f *IAM) CreateRole(_ context.Context, in *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	if err := f.log.mutate("CreateRole"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.RoleName)
	if _, ok := f.roles[name]; ok {
		return nil, APIError("EntityAlreadyExists", "role %s exists", name)
	}
	r := &role{
		role: types.Role{
			RoleName:                 in.RoleName,
			Arn:                      aws.String(fmt.Sprintf("arn:aws:iam::%s:role/%s", f.account, name)),
			AssumeRolePolicyDocument: in.AssumeRolePolicyDocument,
			Description:              in.Description,
			Tags:                     in.Tags,
			CreateDate:               f.tick(),
		},
		attached: map[string]struct{}{},
		inline:   map[string]string{},
	}
	f.roles[name] = r
	out := r.role
	return &iam.CreateRoleOutput{Role: &out}, nil
}

func (f *IAM) UpdateAssumeRolePolicy(_ context.Context, in *iam.UpdateAssumeRolePolicyInput, _ ...func(*iam.Options)) (*iam.UpdateAssumeRolePolicyOutput, error) {
	if err := f.log.mutate("UpdateAssumeRolePolicy"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, APIError("NoSuchEntity", "role not found")
	}
	r.role.AssumeRolePolicyDocument = in.PolicyDocument
	return &iam.UpdateAssumeRolePolicyOutput{}, nil
}

func (f *IAM) TagRole(_ context.Context, in *iam.TagRoleInput, _ ...func(*iam.Options)) (*iam.TagRoleOutput, error) {
	if err := f.log.mutate("TagRole"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, APIError("NoSuchEntity", "role not found")
	}
	for _, t := range in.Tags {
		replaced := false
		for i := range r.role.Tags {
			if aws.ToString(r.role.Tags[i].Key) == aws.ToString(t.Key) {
				r.role.Tags[i].Value = t.Value
				replaced = true
			}
		}
		if !replaced {
			r.role.Tags = append(r.role.Tags, t)
		}
	}
	return &iam.TagRoleOutput{}, nil
}

func (f *IAM) ListAttachedRolePolicies(_ context.Context, in *iam.ListAttachedRolePoliciesInput, _ ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
	if err := f.log.read("ListAttachedRolePolicies"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, APIError("NoSuchEntity", "role not found")
	}
	out := &iam.ListAttachedRolePoliciesOutput{}
	for _, arn := range sortedKeys(r.attached) {
		out.AttachedPolicies = append(out.AttachedPolicies, types.AttachedPolicy{PolicyArn: aws.String(arn), PolicyName: aws.String(lastSegment(arn))})
	}
	return out, nil
}

func (f *IAM) AttachRolePolicy(_ context.Context, in *iam.AttachRolePolicyInput, _ ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	if err := f.log.mutate("AttachRolePolicy"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, APIError("NoSuchEntity", "role not found")
	}
	r.attached[aws.ToString(in.PolicyArn)] = struct{}{}
	return &iam.AttachRolePolicyOutput{}, nil
}

func (f *IAM) DetachRolePolicy(_ context.Context, in *iam.DetachRolePolicyInput, _ ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	if err := f.log.mutate("DetachRolePolicy"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, APIError("NoSuchEntity", "role not found")
	}
	if _, ok := r.attached[aws.ToString(in.PolicyArn)]; !ok {
		return nil, APIError("NoSuchEntity", "policy not attached")
	}
	delete(r.attached, aws.ToString(in.PolicyArn))
	return &iam.DetachRolePolicyOutput{}, nil
}

func (f *IAM) GetRolePolicy(_ context.Context, in *iam.GetRolePolicyInput, _ ...func(*iam.Options)) (*iam.GetRolePolicyOutput, error) {
	if err := f.log.read("GetRolePolicy"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, APIError("NoSuchEntity", "role not found")
	}
	doc, ok := r.inline[aws.ToString(in.PolicyName)]
	if !ok {
		return nil, APIError("NoSuchEntity", "policy not found")
	}
	return &iam.GetRolePolicyOutput{
		RoleName:       in.RoleName,
		PolicyName:     in.PolicyName,
		PolicyDocument: aws.String(url.QueryEscape(doc)),
	}, nil
}

func (f *IAM) PutRolePolicy(_ context.Context, in *iam.PutRolePolicyInput, _ ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error) {
	if err := f.log.mutate("PutRolePolicy"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, APIError("NoSuchEntity", "role not found")
	}
	r.inline[aws.ToString(in.PolicyName)] = aws.ToString(in.PolicyDocument)
	return &iam.PutRolePolicyOutput{}, nil
}

func (f *IAM) GetPolicy(_ context.Context, in *iam.GetPolicyInput, _ ...func(*iam.Options)) (*iam.GetPolicyOutput, error) {
	if err := f.log.read("GetPolicy"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.policies[aws.ToString(in.PolicyArn)]
	if !ok {
		return nil, APIError("NoSuchEntity", "policy %s not found", aws.ToString(in.PolicyArn))
	}
	out := p.policy
	return &iam.GetPolicyOutput{Policy: &out}, nil
}

func (f *IAM) GetPolicyVersion(_ context.Context, in *iam.GetPolicyVersionInput, _ ...func(*iam.Options)) (*iam.GetPolicyVersionOutput, error) {
	if err := f.log.read("GetPolicyVersion"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.policies[aws.ToString(in.PolicyArn)]
	if !ok {
		return nil, APIError("NoSuchEntity", "policy not found")
	}
	for _, v := range p.versions {
		if aws.ToString(v.VersionId) == aws.ToString(in.VersionId) {
			out := v
			out.Document = aws.String(url.QueryEscape(aws.ToString(v.Document)))
			return &iam.GetPolicyVersionOutput{PolicyVersion: &out}, nil
		}
	}
	return nil, APIError("NoSuchEntity", "version not found")
}

func (f *IAM) CreatePolicy(_ context.Context, in *iam.CreatePolicyInput, _ ...func(*iam.Options)) (*iam.CreatePolicyOutput, error) {
	if err := f.log.mutate("CreatePolicy"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	arn := fmt.Sprintf("arn:aws:iam::%s:policy/%s", f.account, aws.ToString(in.PolicyName))
	if _, ok := f.policies[arn]; ok {
		return nil, APIError("EntityAlreadyExists", "policy exists")
	}
	p := &policy{
		policy: types.Policy{Arn: aws.String(arn), PolicyName: in.PolicyName, DefaultVersionId: aws.String("v1")},
		versions: []types.PolicyVersion{{
			VersionId: aws.String("v1"), IsDefaultVersion: true, Document: in.PolicyDocument, CreateDate: f.tick(),
		}},
	}
	f.policies[arn] = p
	out := p.policy
	return &iam.CreatePolicyOutput{Policy: &out}, nil
}

func (f *IAM) CreatePolicyVersion(_ context.Context, in *iam.CreatePolicyVersionInput, _ ...func(*iam.Options)) (*iam.CreatePolicyVersionOutput, error) {
	if err := f.log.mutate("CreatePolicyVersion"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.policies[aws.ToString(in.PolicyArn)]
	if !ok {
		return nil, APIError("NoSuchEntity", "policy not found")
	}
	if len(p.versions) >= 5 {
		return nil, APIError("LimitExceeded", "too many versions")
	}
	id := fmt.Sprintf("v%d", f.clock+2)
	v := types.PolicyVersion{VersionId: aws.String(id), Document: in.PolicyDocument, CreateDate: f.tick()}
	if in.SetAsDefault {
		for i := range p.versions {
			p.versions[i].IsDefaultVersion = false
		}
		v.IsDefaultVersion = true
		p.policy.DefaultVersionId = aws.String(id)
	}
	p.versions = append(p.versions, v)
	return &iam.CreatePolicyVersionOutput{PolicyVersion: &v}, nil
}

func (f *IAM) ListPolicyVersions(_ context.Context, in *iam.ListPolicyVersionsInput, _ ...func(*iam.Options)) (*iam.ListPolicyVersionsOutput, error) {
	if err := f.log.read("ListPolicyVersions"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.policies[aws.ToString(in.PolicyArn)]
	if !ok {
		return nil, APIError("NoSuchEntity", "policy not found")
	}
	return &iam.ListPolicyVersionsOutput{Versions: append([]types.PolicyVersion(nil), p.versions...)}, nil
}

func (f *IAM) DeletePolicyVersion(_ context.Context, in *iam.DeletePolicyVersionInput, _ ...func(*iam.Options)) (*iam.DeletePolicyVersionOutput, error) {
	if err := f.log.mutate("DeletePolicyVersion"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.policies[aws.ToString(in.PolicyArn)]
	if !ok {
		return nil, APIError("NoSuchEntity", "policy not found")
	}
	for i, v := range p.versions {
		if aws.ToString(v.VersionId) == aws.ToString(in.VersionId) {
			if v.IsDefaultVersion {
				return nil, APIError("DeleteConflict", "cannot delete the default version")
			}
			p.versions = append(p.versions[:i], p.versions[i+1:]...)
			return &iam.DeletePolicyVersionOutput{}, nil
		}
	}
	return nil, APIError("NoSuchEntity", "version not found")
}

// Analyzer reports Findings for every validated policy.
type Analyzer struct {
	log      *Log
	Findings []aat.ValidatePolicyFinding
}

func (f *Analyzer) ValidatePolicy(context.Context, *accessanalyzer.ValidatePolicyInput, ...func(*accessanalyzer.Options)) (*accessanalyzer.ValidatePolicyOutput, error) {
	if err := f.log.read("ValidatePolicy"); err != nil {
		return nil, err
	}
	return &accessanalyzer.ValidatePolicyOutput{Findings: f.Findings}, nil
}
