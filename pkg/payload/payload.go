// Package payload builds the events delivered to the deployed function.
package payload

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

const (
	Source     = "aws.scheduler"
	DetailType = "Scheduled Event"

	// Context attributes EventBridge Scheduler substitutes at delivery time.
	ScheduledTimePlaceholder = "<aws.scheduler.scheduled-time>"
	ExecutionIDPlaceholder   = "<aws.scheduler.execution-id>"
)

// scheduleInput mirrors events.CloudWatchEvent with string fields, so that the
// scheduler placeholders survive marshalling.
type scheduleInput struct {
	Version    string          `json:"version"`
	ID         string          `json:"id"`
	DetailType string          `json:"detail-type"`
	Source     string          `json:"source"`
	AccountID  string          `json:"account"`
	Time       string          `json:"time"`
	Region     string          `json:"region"`
	Resources  []string        `json:"resources"`
	Detail     json.RawMessage `json:"detail"`
}

// ScheduleInput is the target input of the schedule. It does not depend on the
// time of the deployment, so an unchanged schedule is never updated.
func ScheduleInput(account, region, scheduleARN string) (string, error) {
	b, err := json.Marshal(scheduleInput{
		Version:    "0",
		ID:         ExecutionIDPlaceholder,
		DetailType: DetailType,
		Source:     Source,
		AccountID:  account,
		Time:       ScheduledTimePlaceholder,
		Region:     region,
		Resources:  []string{scheduleARN},
		Detail:     json.RawMessage("{}"),
	})
	if err != nil {
		return "", fmt.Errorf("marshal schedule input: %w", err)
	}
	return string(b), nil
}

// ScheduledEvent is the event a schedule delivers at now, used by the local and
// the smoke tests.
func ScheduledEvent(account, region, scheduleARN, id string, now time.Time) events.CloudWatchEvent {
	return events.CloudWatchEvent{
		Version:    "0",
		ID:         id,
		DetailType: DetailType,
		Source:     Source,
		AccountID:  account,
		Time:       now.UTC().Truncate(time.Second),
		Region:     region,
		Resources:  []string{scheduleARN},
		Detail:     json.RawMessage("{}"),
	}
}

// Marshal encodes an event for Invoke.
func Marshal(event events.CloudWatchEvent) ([]byte, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return b, nil
}
