// Package fakeaws holds in-memory AWS service fakes implementing the narrow API
// interfaces of the service clients. They keep state so that a second run sees
// what the first one created, and log every call to tell reads from mutations.
package fakeaws

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/smithy-go"
)

// Log records the operations served by the fakes.
type Log struct {
	mu        sync.Mutex
	calls     []string
	mutations []string
	// Fail makes the named operation return the error.
	Fail map[string]error
}

func (l *Log) read(op string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, op)
	return l.Fail[op]
}

func (l *Log) mutate(op string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, op)
	if err, ok := l.Fail[op]; ok {
		return err
	}
	l.mutations = append(l.mutations, op)
	return nil
}

// Calls returns every operation served, in order.
func (l *Log) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Mutations returns the successful mutating operations, in order.
func (l *Log) Mutations() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.mutations...)
}

// Count returns how many times op was served.
func (l *Log) Count(op string) int {
	n := 0
	for _, c := range l.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

// Reset forgets the recorded calls, keeping the state of the fakes.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
	l.mutations = nil
}

// APIError builds an error shaped like the ones returned by the SDK.
func APIError(code, format string, args ...interface{}) error {
	return &smithy.GenericAPIError{Code: code, Message: fmt.Sprintf(format, args...), Fault: smithy.FaultClient}
}

// Cloud wires one fake per service around a shared Log.
type Cloud struct {
	*Log
	Account string
	Region  string

	STS          *STS
	EC2          *EC2
	IAM          *IAM
	Analyzer     *Analyzer
	Lambda       *Lambda
	Scheduler    *Scheduler
	Budgets      *Budgets
	SNS          *SNS
	SSM          *SSM
	Logs         *Logs
	S3           *S3
	CostExplorer *CostExplorer
}

func New(account, region string) *Cloud {
	log := &Log{Fail: map[string]error{}}
	c := &Cloud{Log: log, Account: account, Region: region}
	c.STS = &STS{log: log, Account: account}
	c.EC2 = &EC2{log: log, Regions: []string{"eu-west-1", "us-east-1", "us-west-2", region}}
	c.IAM = newIAM(log, account)
	c.Analyzer = &Analyzer{log: log}
	c.S3 = &S3{log: log, objects: map[string]object{}}
	c.Lambda = newLambda(log, account, region, c.S3)
	c.Scheduler = &Scheduler{log: log, account: account, region: region, schedules: map[string]*schedule{}}
	c.Budgets = &Budgets{log: log, budgets: map[string]*budget{}}
	c.SNS = &SNS{log: log, account: account, region: region, topics: map[string]*topic{}}
	c.SSM = &SSM{log: log, parameters: map[string]parameter{}}
	c.Logs = &Logs{log: log, groups: map[string]*logGroup{}}
	c.CostExplorer = &CostExplorer{log: log, Costs: map[string]string{}}
	return c
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func lastSegment(arn string) string {
	return arn[strings.LastIndex(arn, "/")+1:]
}
