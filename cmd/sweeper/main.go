package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"golf-coach/handler"
	"golf-coach/internal/app"
)

func main() {
	ctx := context.Background()

	a, err := app.New(ctx)
	if err != nil {
		slog.Error("failed to build application", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewSweep(a.Analysis)
	if err != nil {
		slog.Error("failed to create sweep handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
