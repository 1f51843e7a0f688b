package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// endpointEnvVars are checked in order; the first non-empty value wins.
var endpointEnvVars = []string{"AWS_SQS_ENDPOINT", "AWS_SNS_ENDPOINT", "AWS_S3_ENDPOINT", "AWS_ENDPOINT"}

// LoadAWSConfig loads the default AWS config. When one of the endpoint override
// variables is set (LocalStack), every SDK client is pointed at that URL and,
// absent AWS_ACCESS_KEY_ID, static dummy credentials are used.
func LoadAWSConfig(ctx context.Context) (sdkaws.Config, error) {
	endpoint := EndpointOverride()

	var opts []func(*config.LoadOptions) error
	if endpoint != "" && os.Getenv("AWS_ACCESS_KEY_ID") == "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load aws config: %w", err)
	}
	if endpoint == "" {
		return cfg, nil
	}

	signingRegion := cfg.Region
	if signingRegion == "" {
		signingRegion = os.Getenv("AWS_REGION")
	}

	cfg.EndpointResolverWithOptions = sdkaws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (sdkaws.Endpoint, error) {
		sr := signingRegion
		if sr == "" {
			sr = region
		}
		return sdkaws.Endpoint{
			URL:               endpoint,
			SigningRegion:     sr,
			HostnameImmutable: true,
		}, nil
	})

	return cfg, nil
}

// EndpointOverride returns the custom endpoint configured through the environment, if any.
func EndpointOverride() string {
	for _, key := range endpointEnvVars {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}
