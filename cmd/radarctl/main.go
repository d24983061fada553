// Command radarctl runs operator tasks against the radar backend: health sweeps,
// the sweep schedule, and analysis re-triggers.
package main

import (
	"context"
	"fmt"
	"os"

	"radar-backend/internal/bootstrap"
	"radar-backend/internal/shared/config"
)

var Version = "dev"

func main() {
	root := newRootCmd(buildFromEnv)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildFromEnv(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return bootstrap.Build(ctx, cfg)
}
