package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mitchellh/colorstring"

	"github.com/deb2000-sudo/connrelay/internal/config"
	"github.com/deb2000-sudo/connrelay/internal/logging"
	"github.com/deb2000-sudo/connrelay/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, defaults applied otherwise)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}

	logger, closer := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	defer closer.Close()

	srv, err := server.New(cfg, logger)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("start server: %v", err)
	}

	colorstring.Println("[green]connection server core is up[reset]")
	colorstring.Printf("[light_blue]  tcp=%d tls=%d udp=%d http=%d https=%d[reset]\n",
		cfg.TCPPort, cfg.TLSPort, cfg.UDPPort, cfg.HTTPPort, cfg.HTTPSPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	colorstring.Println("[yellow]shutting down...[reset]")
	srv.Stop()
}
