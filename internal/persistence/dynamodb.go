package persistence

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/pondem87/thuso-monorepo-sub000/internal/config"
)

// NewDynamoDB builds a DynamoDB client from the default AWS credential chain.
// A custom endpoint is honoured for local emulators.
func NewDynamoDB(ctx context.Context, cfg config.SessionConfig, logger *zap.Logger) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
		}
	})
	logger.Info("dynamodb client configured",
		zap.String("table", cfg.DynamoTable),
		zap.String("region", cfg.DynamoRegion),
	)
	return client, nil
}
