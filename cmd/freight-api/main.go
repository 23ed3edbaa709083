package main

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

func main() {
	app := mustBootstrapFreightAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("freight-api stopped", "error", err.Error())
		panic(err)
	}
}
