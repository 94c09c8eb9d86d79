// Package aws provides an AWS SNS sink. Topics are created on first publish
// unless they already exist.
package aws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/otlpflow/sink"
)

// SinkName is the name used to register this sink.
const SinkName = "aws"

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// TopicResolverFactory allows overriding the topic resolver creation for testing.
var TopicResolverFactory = sns.NewGenerateArnTopicResolver

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

func init() {
	Register()
}

// Register adds the SNS sink to the default registry.
func Register() {
	sink.RegisterWithCapabilities(SinkName, Build, sink.AWSCapabilities)
}

// Build creates a new SNS sink.
func Build(ctx context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (sink.Sink, error) {
	awsCfg, err := createAWSConfig(ctx, cfg, logger)
	if err != nil {
		return sink.Sink{}, err
	}
	if awsCfg.Region == "" {
		return sink.Sink{}, errors.New("aws: region is required")
	}
	logger.Info("Created AWS config", watermill.LogFields{
		"region":          awsCfg.Region,
		"custom_endpoint": cfg.GetAWSEndpoint() != "",
	})

	publisher, err := createPublisher(cfg, logger, awsCfg)
	if err != nil {
		return sink.Sink{}, err
	}
	return sink.Sink{Publisher: publisher}, nil
}

// Capabilities returns the capabilities of this sink.
func Capabilities() sink.Capabilities {
	return sink.AWSCapabilities
}

// TopicName maps a topic to a valid SNS topic name: characters outside
// [A-Za-z0-9_-] become "-", so "otlp.traces" is published as "otlp-traces".
func TopicName(topic string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, topic)
}

type topicNameResolver struct {
	inner sns.TopicResolver
}

func (r topicNameResolver) ResolveTopic(ctx context.Context, topic string) (sns.TopicArn, error) {
	return r.inner.ResolveTopic(ctx, TopicName(topic))
}

func createAWSConfig(ctx context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (*aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	region := cfg.GetAWSRegion()
	accessKey := cfg.GetAWSAccessKeyID()
	secretKey := cfg.GetAWSSecretAccessKey()

	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if accessKey != "" && secretKey != "" {
		logger.Info("Using static AWS credentials from config", nil)
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentialsProvider(accessKey, secretKey)))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS default config", err, watermill.LogFields{"requested_region": region})
		return nil, err
	}

	// the loader may ignore options, so the configured region always wins
	if region != "" {
		awsCfg.Region = region
	}
	return &awsCfg, nil
}

func createPublisher(cfg sink.Config, logger watermill.LoggerAdapter, awsCfg *aws.Config) (message.Publisher, error) {
	accountID, region := resolveAccountAndRegion(cfg, logger, awsCfg.Region)
	logger.Info("Create SNS publisher", watermill.LogFields{
		"accountID": accountID,
		"region":    region,
	})

	resolver, err := TopicResolverFactory(accountID, region)
	if err != nil {
		logger.Error("Failed to create SNS topic resolver", err, watermill.LogFields{
			"accountID": accountID,
			"region":    region,
		})
		return nil, err
	}

	optFns, err := endpointOptions(cfg)
	if err != nil {
		logger.Error("Failed to parse AWS endpoint", err, watermill.LogFields{"endpoint": cfg.GetAWSEndpoint()})
		return nil, err
	}

	return PublisherFactory(sns.PublisherConfig{
		TopicResolver: topicNameResolver{inner: resolver},
		AWSConfig:     *awsCfg,
		OptFns:        optFns,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
}

func endpointOptions(cfg sink.Config) ([]func(*amazonsns.Options), error) {
	endpoint, err := awsEndpointURL(cfg)
	if err != nil || endpoint == nil {
		return nil, err
	}
	return []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *endpoint},
		}),
	}, nil
}

func resolveAccountAndRegion(cfg sink.Config, logger watermill.LoggerAdapter, fallbackRegion string) (string, string) {
	accountID := strings.Trim(cfg.GetAWSAccountID(), "\"' ")
	region := cfg.GetAWSRegion()
	if region == "" {
		region = fallbackRegion
	}

	if cfg.GetAWSEndpoint() == "" {
		return accountID, region
	}
	if accountID == "" {
		logger.Info("AWS account ID empty; using LocalStack default", watermill.LogFields{"accountID": localstackAccountID})
		return localstackAccountID, region
	}
	if len(accountID) != awsAccountIDLength {
		logger.Info("Invalid AWS account ID; falling back to LocalStack default", watermill.LogFields{"accountID": accountID})
		return localstackAccountID, region
	}
	return accountID, region
}

func awsEndpointURL(cfg sink.Config) (*url.URL, error) {
	raw := cfg.GetAWSEndpoint()
	if raw == "" {
		return nil, nil
	}
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse AWS endpoint: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("failed to parse AWS endpoint: %q is not an absolute URL", raw)
	}
	return parsedURL, nil
}

func staticCredentialsProvider(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}
