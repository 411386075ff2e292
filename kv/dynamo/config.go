package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Config holds settings for a DynamoDB backend.
type Config struct {
	// Table is the single table holding every key.
	// Default: "kvmodel"
	Table string `yaml:"table"`

	// ScoreIndex is the local secondary index on (pk, score).
	// Default: "score-index"
	ScoreIndex string `yaml:"score_index"`

	// Region overrides the region from the shared AWS config.
	Region string `yaml:"region"`

	// Profile selects a shared config profile.
	Profile string `yaml:"profile"`

	// Endpoint points the client at DynamoDB Local or another endpoint.
	Endpoint string `yaml:"endpoint"`
}

// DefaultConfig returns the default table layout.
func DefaultConfig() Config {
	return Config{
		Table:      "kvmodel",
		ScoreIndex: "score-index",
	}
}

func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "kvmodel"
	}
	if c.ScoreIndex == "" {
		c.ScoreIndex = "score-index"
	}
}

// Open loads the AWS configuration and returns a Store together with the
// underlying client.
func Open(ctx context.Context, cfg Config) (*Store, *dynamodb.Client, error) {
	cfg.validate()

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return New(client, cfg), client, nil
}

// EnsureTable creates the table described by cfg if it does not exist and
// waits for it to become active. Streams are enabled with old images so
// that removals can be processed by the stream package.
func EnsureTable(ctx context.Context, client *dynamodb.Client, cfg Config) error {
	cfg.validate()

	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(cfg.Table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrPK), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrSK), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrPK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrSK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrScore), AttributeType: types.ScalarAttributeTypeN},
		},
		LocalSecondaryIndexes: []types.LocalSecondaryIndex{
			{
				IndexName: aws.String(cfg.ScoreIndex),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String(attrPK), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String(attrScore), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
		StreamSpecification: &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return fmt.Errorf("create table %s: %w", cfg.Table, err)
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(cfg.Table),
	}, 2*time.Minute); err != nil {
		return fmt.Errorf("wait for table %s: %w", cfg.Table, err)
	}
	return nil
}
