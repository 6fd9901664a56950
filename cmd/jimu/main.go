package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bdobrica/Jimu/common/version"
	"github.com/bdobrica/Jimu/internal/jimu/app"
	"github.com/bdobrica/Jimu/internal/jimu/observability"
)

func main() {
	fmt.Println(version.Info("jimu"))

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	observability.Setup(cfg.LogLevel, cfg.LogFormat)
	observability.RegisterSecrets(cfg.MatrixAccessToken, cfg.RedisPassword)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	jimu, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialise Jimu", "err", err)
		os.Exit(1)
	}
	defer jimu.Stop()

	if err := jimu.Run(); err != nil {
		slog.Error("Jimu stopped with an error", "err", err)
		jimu.Stop()
		os.Exit(1)
	}
}
