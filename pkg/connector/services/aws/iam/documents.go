package iam

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"
)

const (
	policyLanguageVersion = "2012-10-17"

	LambdaBasicExecutionPolicy = "service-role/AWSLambdaBasicExecutionRole"
)

type PolicyDocument struct {
	Version   string      `json:"Version,omitempty"`
	ID        string      `json:"Id,omitempty"`
	Statement []Statement `json:"Statement,omitempty"`
}

type Principal struct {
	Service   interface{} `json:"Service,omitempty"`
	AWS       interface{} `json:"AWS,omitempty"`
	Federated interface{} `json:"Federated,omitempty"`
}

type Statement struct {
	Sid       string      `json:"Sid,omitempty"`
	Effect    string      `json:"Effect"`
	Principal *Principal  `json:"Principal,omitempty"`
	Action    interface{} `json:"Action"`
	Resource  interface{} `json:"Resource,omitempty"`
	Condition interface{} `json:"Condition,omitempty"`
}

func (d PolicyDocument) String() string {
	b, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(b)
}

// AWSManagedPolicyARN returns the ARN of an AWS managed policy such as
// "service-role/AWSLambdaBasicExecutionRole".
func AWSManagedPolicyARN(partition, name string) string {
	return fmt.Sprintf("arn:%s:iam::aws:policy/%s", partition, name)
}

func trustPolicy(service string, condition interface{}) PolicyDocument {
	return PolicyDocument{
		Version: policyLanguageVersion,
		Statement: []Statement{{
			Effect:    "Allow",
			Principal: &Principal{Service: service},
			Action:    "sts:AssumeRole",
			Condition: condition,
		}},
	}
}

// LambdaTrustPolicy lets the Lambda service assume the execution role.
func LambdaTrustPolicy() PolicyDocument {
	return trustPolicy("lambda.amazonaws.com", nil)
}

// SchedulerTrustPolicy lets EventBridge Scheduler assume the role, only on behalf of account.
func SchedulerTrustPolicy(account string) PolicyDocument {
	return trustPolicy("scheduler.amazonaws.com", map[string]interface{}{
		"StringEquals": map[string]string{"aws:SourceAccount": account},
	})
}

// BudgetsTrustPolicy lets AWS Budgets assume the role running budget actions.
func BudgetsTrustPolicy() PolicyDocument {
	return trustPolicy("budgets.amazonaws.com", nil)
}

// InvokePolicy allows invoking the function and any of its versions or aliases.
func InvokePolicy(functionARN string) PolicyDocument {
	return PolicyDocument{
		Version: policyLanguageVersion,
		Statement: []Statement{{
			Effect:   "Allow",
			Action:   "lambda:InvokeFunction",
			Resource: []string{functionARN, functionARN + ":*"},
		}},
	}
}

// SSMReadPolicy allows reading and decrypting the given SecureString parameters.
func SSMReadPolicy(region string, parameterARNs []string) PolicyDocument {
	resources := append([]string(nil), parameterARNs...)
	sort.Strings(resources)
	return PolicyDocument{
		Version: policyLanguageVersion,
		Statement: []Statement{
			{
				Sid:      "ReadParameters",
				Effect:   "Allow",
				Action:   []string{"ssm:GetParameter", "ssm:GetParameters"},
				Resource: resources,
			},
			{
				Sid:      "DecryptParameters",
				Effect:   "Allow",
				Action:   "kms:Decrypt",
				Resource: "*",
				Condition: map[string]interface{}{
					"StringEquals": map[string]string{"kms:ViaService": "ssm." + region + ".amazonaws.com"},
				},
			},
		},
	}
}

// KillSwitchPolicy denies invoking the function; attaching it to a role stops that role
// from triggering the function.
func KillSwitchPolicy(functionARN string) PolicyDocument {
	return PolicyDocument{
		Version: policyLanguageVersion,
		Statement: []Statement{{
			Sid:      "BudgetExceeded",
			Effect:   "Deny",
			Action:   "lambda:InvokeFunction",
			Resource: []string{functionARN, functionARN + ":*"},
		}},
	}
}

// BudgetActionPolicy lets the budget action role attach and detach policyARN on roleARNs only.
func BudgetActionPolicy(policyARN string, roleARNs []string) PolicyDocument {
	roles := append([]string(nil), roleARNs...)
	sort.Strings(roles)
	return PolicyDocument{
		Version: policyLanguageVersion,
		Statement: []Statement{{
			Effect:   "Allow",
			Action:   []string{"iam:AttachRolePolicy", "iam:DetachRolePolicy"},
			Resource: roles,
			Condition: map[string]interface{}{
				"ArnEquals": map[string]string{"iam:PolicyARN": policyARN},
			},
		}},
	}
}

// DecodeDocument parses a policy document as returned by IAM (URL encoded).
func DecodeDocument(raw string) (PolicyDocument, error) {
	var doc PolicyDocument
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}
	if err := json.Unmarshal([]byte(decoded), &doc); err != nil {
		return doc, fmt.Errorf("unmarshal policy document: %w", err)
	}
	return doc, nil
}

// SameDocument compares a document returned by IAM with a local one, ignoring key
// order, single value vs one element lists and list ordering.
func SameDocument(raw string, doc PolicyDocument) bool {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}
	var remote, local interface{}
	if err := json.Unmarshal([]byte(decoded), &remote); err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(doc.String()), &local); err != nil {
		return false
	}
	return reflect.DeepEqual(normalize(remote), normalize(local))
}

func normalize(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, item := range value {
			out[k] = normalize(item)
		}
		return out
	case []interface{}:
		if len(value) == 1 {
			return normalize(value[0])
		}
		out := make([]interface{}, len(value))
		for i, item := range value {
			out[i] = normalize(item)
		}
		sort.SliceStable(out, func(i, j int) bool {
			return sortKey(out[i]) < sortKey(out[j])
		})
		return out
	default:
		return v
	}
}

func sortKey(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return strings.TrimSpace(string(b))
}
