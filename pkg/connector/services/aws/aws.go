package awsconnector

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
)

const defaultRetries = 10

// Options selects the credentials and endpoint used for every service client.
type Options struct {
	Profile     string
	Region      string
	EndpointURL string
	MaxAttempts int
}

type AWSConfig struct {
	Profile     string
	EndpointURL string
	aws.Config
}

func InitAWSConfiguration(ctx context.Context, opts Options) (AWSConfig, error) {
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = defaultRetries
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), attempts)
		}),
	}
	if opts.Profile != "" {
		loadOptions = append(loadOptions, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Region != "" {
		loadOptions = append(loadOptions, config.WithRegion(opts.Region))
	}
	// LocalStack and other emulators
	if opts.EndpointURL != "" {
		loadOptions = append(loadOptions, config.WithBaseEndpoint(opts.EndpointURL))
	}

	// Load the Shared AWS Configuration (~/.aws/config)
	cfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return AWSConfig{}, fmt.Errorf("load AWS configuration: %w", err)
	}
	cfg.RetryMode = aws.RetryModeStandard
	return AWSConfig{Profile: opts.Profile, EndpointURL: opts.EndpointURL, Config: cfg}, nil
}

// TestConnection resolves credentials without calling any service.
func (ac *AWSConfig) TestConnection(ctx context.Context) error {
	if ac.Credentials == nil {
		return fmt.Errorf("no credentials provider configured")
	}
	if _, err := ac.Credentials.Retrieve(ctx); err != nil {
		return fmt.Errorf("invalid credentials or expired session: %w", err)
	}
	return nil
}

// Global returns a copy of the configuration pinned to us-east-1, where global
// billing APIs live.
func (ac *AWSConfig) Global() aws.Config {
	cfg := ac.Config.Copy()
	if ac.EndpointURL == "" {
		cfg.Region = "us-east-1"
	}
	return cfg
}
