package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"gpsc-ng/internal/gpsd"
)

type target struct {
	Host   string
	Port   string
	Device string
}

// parseTarget accepts gpsd://host[:port][/device], or the same without the
// scheme. Missing parts fall back to the gpsd defaults.
func parseTarget(arg string) (target, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return target{}, fmt.Errorf("target is empty")
	}
	if !strings.Contains(arg, "://") {
		arg = "gpsd://" + arg
	}
	u, err := url.Parse(arg)
	if err != nil {
		return target{}, fmt.Errorf("parse target: %w", err)
	}
	if u.Scheme != "gpsd" {
		return target{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return target{}, fmt.Errorf("target %q: only host, port and device are allowed", arg)
	}

	t := target{Host: u.Hostname(), Port: u.Port()}
	if t.Host == "" {
		t.Host = gpsd.DefaultHost
	}
	if t.Port == "" {
		t.Port = gpsd.DefaultPort
	}
	if p, err := strconv.Atoi(t.Port); err != nil || p <= 0 || p > 65535 {
		return target{}, fmt.Errorf("port %q must be in [1,65535]", t.Port)
	}
	if u.Path != "/" {
		t.Device = u.Path
	}
	return t, nil
}
