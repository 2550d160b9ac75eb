// Command expirer is the Lambda function attached to the DynamoDB table's
// stream. It purges the index state of entities removed by TTL.
//
// Configuration comes from TENDRIL_* environment variables; the store
// backend is forced to dynamodb.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/tendril/di"
	"github.com/jacentio/tendril/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := di.LoadConfig("")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg.Store.Backend = di.BackendDynamoDB
	cfg.Create.Enabled = false

	c, err := di.New(context.Background(), cfg, di.WithLogger(logger))
	if err != nil {
		logger.Error("failed to build container", "error", err)
		os.Exit(1)
	}

	h := stream.NewHandler(c.Store, logger)
	lambda.Start(h.HandleExpirations)
}
