package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"novadb/internal"
	"novadb/server/novasqlwire"
)

func main() {
	workDir := flag.String("data-dir", "./data", "working directory for database files")
	addr := flag.String("addr", ":7337", "tcp listen address")
	wsAddr := flag.String("ws-addr", "", "optional websocket listen address (disabled if empty)")
	cfgPath := flag.String("config", "", "optional YAML config path (internal.NovaSqlConfig)")
	flag.Parse()

	cfg := internal.DefaultConfig()
	if *cfgPath != "" {
		loaded, err := internal.LoadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	if err := os.MkdirAll(*workDir, 0o755); err != nil {
		log.Fatalf("create data directory: %v", err)
	}
	if cfg.Server.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
	slog.Info("starting novadb server", "app", cfg.AppName, "error_on_dirty_select", cfg.Txn.ErrorOnDirtySelect)

	sc := novasqlwire.ServerConfig{
		Addr:    *addr,
		Workdir: *workDir,
		CfgPath: *cfgPath,
	}

	if *wsAddr != "" {
		go func() {
			if err := novasqlwire.RunWS(context.Background(), *wsAddr, *workDir); err != nil {
				slog.Error("ws server stopped", "err", err)
			}
		}()
	}

	if err := novasqlwire.Run(sc); err != nil {
		log.Fatalf("server: %v", err)
	}
}
