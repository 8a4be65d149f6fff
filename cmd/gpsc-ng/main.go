package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gpsc-ng/internal/config"
	"gpsc-ng/internal/rawview"
	"gpsc-ng/internal/web"
)

func main() {
	var (
		configPath  string
		summaryPath string
		quiet       bool
	)
	flag.StringVar(&configPath, "config", "./gpsc-ng.yaml", "Path to YAML config (created by the settings API when missing)")
	flag.StringVar(&summaryPath, "summary", "", "Print a summary of a capture file and exit")
	flag.BoolVar(&quiet, "quiet", false, "Do not print fixes to stdout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [gpsd://host[:port][/device]]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if summaryPath != "" {
		if err := printLogSummary(summaryPath); err != nil {
			log.Fatalf("summary failed: %v", err)
		}
		return
	}

	cfg, err := loadConfig(configPath, flag.Args())
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logs := rawview.NewLog(cfg.Raw.MaxLines)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var console io.Writer = os.Stdout
	if quiet {
		console = nil
	}
	rt, err := newRuntime(ctx, cfg, runtimeOptions{console: console})
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}
	defer rt.Close()

	log.Printf("gpsc-ng starting")
	if cfg.Web.Enable {
		go func() {
			h := web.Handler(rt.webDeps(configPath, logs))
			log.Printf("web listening addr=%s", cfg.Web.Listen)
			if err := web.Serve(ctx, cfg.Web.Listen, h); err != nil && ctx.Err() == nil {
				log.Printf("web server stopped: %v", err)
				cancel()
			}
		}()
	}

	if err := rt.connect(); err != nil && cfg.GPSD.ReconnectDelay <= 0 {
		// Without retries there is nothing left to do.
		log.Printf("gpsd unavailable: %v", err)
		if !cfg.Web.Enable {
			cancel()
		}
	}

	<-ctx.Done()
	log.Printf("gpsc-ng stopping")
}

// loadConfig reads path (defaults when missing) and applies a target URL
// argument on top.
func loadConfig(path string, args []string) (config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return config.Config{}, err
	}
	switch len(args) {
	case 0:
	case 1:
		t, err := parseTarget(args[0])
		if err != nil {
			return config.Config{}, err
		}
		cfg.GPSD.Host, cfg.GPSD.Port, cfg.GPSD.Device = t.Host, t.Port, t.Device
	default:
		return config.Config{}, fmt.Errorf("expected at most one target, got %d", len(args))
	}
	if err := config.DefaultAndValidate(&cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
