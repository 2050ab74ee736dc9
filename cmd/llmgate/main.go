package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roelfdiedericks/llmgate/httpdemo"
	"github.com/roelfdiedericks/llmgate/internal/config"
	"github.com/roelfdiedericks/llmgate/internal/gateway"
	. "github.com/roelfdiedericks/llmgate/internal/logging"
)

const version = "0.1.0"

func main() {
	configPath := ""
	verbose := false
	for _, arg := range os.Args[1:] {
		switch arg {
		case "version":
			fmt.Printf("llmgate %s\n", version)
			return
		case "-v", "--verbose":
			verbose = true
		default:
			configPath = arg
		}
	}

	level := LevelInfo
	if verbose {
		level = LevelDebug
	}
	Init(&Config{
		Level:      level,
		ShowCaller: false,
	})

	L_info("llmgate %s starting", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		L_fatal("failed to load config: %v", err)
	}
	if len(cfg.Nodes) == 0 {
		L_fatal("no nodes configured; provide a config file with a nodes list")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		L_fatal("failed to build gateway: %v", err)
	}

	srv := httpserver.New(cfg.Listen, gw)
	if err := srv.Start(); err != nil {
		L_fatal("failed to start server: %v", err)
	}

	L_info("llmgate ready", "listen", cfg.Listen, "nodes", len(cfg.Nodes))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	L_info("llmgate shutting down")
	srv.Stop()
}
