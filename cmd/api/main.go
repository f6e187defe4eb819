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

	h, err := handler.NewAPI(a.Analysis, a.Repo, a.Invoker, a.Chat, a.Rate)
	if err != nil {
		slog.Error("failed to create API handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
