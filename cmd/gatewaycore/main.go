package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/GifariKemal/iiot-gateway-core/internal/config"
	"github.com/GifariKemal/iiot-gateway-core/internal/orchestrator"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to ./configs, cwd, then ~/.gatewaycore)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("gatewaycore " + version)
		return
	}
	orchestrator.Version = version

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("gatewaycore: load config: %v", err)
	}

	orch, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("gatewaycore: wire subsystems: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("gatewaycore: run exited: %v", err)
	}

	// SPEC_FULL.md §4.10: the Memory Guard requests a restart after N
	// sustained EMERGENCY checks rather than killing the process itself.
	// Exit code 75 (EX_TEMPFAIL) tells a process supervisor (systemd,
	// docker --restart) to bring the gateway back up with a fresh heap.
	if orch.RestartRequested() {
		os.Exit(75)
	}
}
