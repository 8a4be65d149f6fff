package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"gpsc-ng/internal/config"
	"gpsc-ng/internal/export"
	"gpsc-ng/internal/gpsd"
	"gpsc-ng/internal/mqttpub"
	"gpsc-ng/internal/rawview"
	"gpsc-ng/internal/replay"
	"gpsc-ng/internal/udp"
	"gpsc-ng/internal/units"
	"gpsc-ng/internal/web"
)

type liveRuntime struct {
	ctx context.Context

	mu  sync.Mutex
	cfg config.Config
	// target is where the main client dials; it differs from cfg.GPSD when
	// replaying.
	target target

	client *gpsd.Client
	status *web.Status
	events *web.Broadcaster
	raw    *rawview.Viewer

	recorder   *replay.Writer
	replayDone chan struct{}
	mqttClient mqtt.Client
	udp        *udp.Broadcaster

	reconnectMu    sync.Mutex
	reconnectTimer *time.Timer

	detach []func()
}

type runtimeOptions struct {
	console io.Writer
	// dial replaces the TCP dialer of both clients, for tests.
	dial gpsd.DialFunc
}

func newRuntime(ctx context.Context, cfg config.Config, opts runtimeOptions) (*liveRuntime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}

	r := &liveRuntime{
		ctx:    ctx,
		cfg:    c,
		target: target{Host: c.GPSD.Host, Port: c.GPSD.Port, Device: c.GPSD.Device},
	}

	dial := opts.dial
	if dial == nil {
		dial = gpsd.TCPDialer{Timeout: c.GPSD.DialTimeout}.Dial
	}

	if c.Replay.Enable {
		addr, err := r.startReplay(ctx)
		if err != nil {
			return nil, err
		}
		host, port, _ := net.SplitHostPort(addr)
		r.target.Host, r.target.Port = host, port
	}

	mainDial := dial
	if c.Record.Enable {
		w, err := replay.CreateWriter(c.Record.Path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("record: %w", err)
		}
		r.recorder = w
		mainDial = replay.RecordingDialer(dial, w)
		log.Printf("record enabled path=%s", c.Record.Path)
	}

	r.client = gpsd.New(gpsd.WithDialer(mainDial))
	r.client.SetDevice(r.target.Device)

	r.status = web.NewStatus(r.client)
	r.status.SetTarget(export.Name(r.target.Host, r.target.Port, r.target.Device))
	r.status.SetUnits(unitsFromConfig(c.Units))
	r.events = web.NewBroadcaster()
	r.detach = append(r.detach, r.status.Attach(), r.events.Attach(r.status))

	// The raw viewer only gets a target while the main session is up, so
	// SetMode before that just remembers the mode.
	r.raw = rawview.NewViewer(gpsd.New(gpsd.WithDialer(dial)), rawview.NewLog(c.Raw.MaxLines))
	rawMode, _ := gpsd.ParseStreamMode(c.Raw.Mode)
	if err := r.raw.SetMode(ctx, rawMode); err != nil {
		log.Printf("raw viewer mode=%s failed: %v", rawMode, err)
	}

	if opts.console != nil {
		r.detach = append(r.detach, newConsoleReporter(opts.console, r.status).attach(r.client))
	}

	r.detach = append(r.detach,
		r.client.OnConnectionStatus(func(connected bool) {
			if connected {
				t := r.currentTarget()
				r.raw.SetTarget(t.Host, t.Port)
			} else {
				r.raw.SetTarget("", "")
			}
			r.raw.Follow(ctx, connected)
		}),
		r.client.OnConnectionError(func(code int) { r.scheduleReconnect() }),
	)

	if c.MQTT.Enable {
		pub, mc, err := mqttpub.Dial(mqttpub.Config{
			Broker:      c.MQTT.Broker,
			ClientID:    c.MQTT.ClientID,
			Username:    c.MQTT.Username,
			Password:    c.MQTT.Password,
			TopicPrefix: c.MQTT.TopicPrefix,
			QoS:         byte(c.MQTT.QoS),
		})
		if err != nil {
			// Keep running without MQTT.
			log.Printf("mqtt init failed: %v", err)
		} else {
			r.mqttClient = mc
			r.detach = append(r.detach, pub.Attach(r.client))
		}
	}

	if c.UDP.Enable {
		b, err := udp.NewBroadcaster(c.UDP.Dest)
		if err != nil {
			log.Printf("udp init failed: %v", err)
		} else {
			r.udp = b
			r.detach = append(r.detach, b.Attach(r.client))
			log.Printf("udp enabled dest=%s", c.UDP.Dest)
		}
	}

	return r, nil
}

func (r *liveRuntime) startReplay(ctx context.Context) (string, error) {
	c := r.cfg.Replay
	recs, err := replay.ReadFile(c.Path)
	if err != nil {
		return "", fmt.Errorf("replay: %w", err)
	}
	ln, err := net.Listen("tcp", c.Listen)
	if err != nil {
		return "", fmt.Errorf("replay listen: %w", err)
	}
	srv := &replay.Server{Records: recs, Speed: c.Speed, Loop: c.Loop}
	r.replayDone = make(chan struct{})
	go func() {
		defer close(r.replayDone)
		if err := srv.Serve(ctx, ln); err != nil {
			log.Printf("replay stopped: %v", err)
		}
	}()
	return ln.Addr().String(), nil
}

// connect dials the configured target. Failures are reported through the
// client's signals and retried when a reconnect delay is configured.
func (r *liveRuntime) connect() error {
	r.mu.Lock()
	t := r.target
	mode, _ := gpsd.ParseStreamMode(r.cfg.GPSD.Mode)
	r.mu.Unlock()
	return r.client.Connect(r.ctx, t.Host, t.Port, mode)
}

func (r *liveRuntime) scheduleReconnect() {
	r.mu.Lock()
	delay := r.cfg.GPSD.ReconnectDelay
	r.mu.Unlock()
	if delay <= 0 || r.ctx.Err() != nil {
		return
	}

	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()
	if r.reconnectTimer != nil {
		return
	}
	log.Printf("gpsd reconnect scheduled delay=%s", delay)
	r.reconnectTimer = time.AfterFunc(delay, func() {
		r.reconnectMu.Lock()
		r.reconnectTimer = nil
		r.reconnectMu.Unlock()
		if r.ctx.Err() != nil || r.client.IsConnected() {
			return
		}
		_ = r.connect()
	})
}

func (r *liveRuntime) currentTarget() target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// Apply makes next effective. Settings outside the gpsd target, units and
// raw mode require a restart.
func (r *liveRuntime) Apply(next config.Config) error {
	c := next
	if err := config.DefaultAndValidate(&c); err != nil {
		return err
	}

	r.mu.Lock()
	cur := r.cfg
	r.mu.Unlock()

	if c.Record != cur.Record {
		return fmt.Errorf("record settings require restart")
	}
	if c.Replay != cur.Replay {
		return fmt.Errorf("replay settings require restart")
	}
	if c.Web != cur.Web {
		return fmt.Errorf("web settings require restart")
	}
	if c.MQTT != cur.MQTT {
		return fmt.Errorf("mqtt settings require restart")
	}
	if c.UDP != cur.UDP {
		return fmt.Errorf("udp settings require restart")
	}

	reconnect := c.GPSD.Mode != cur.GPSD.Mode
	r.mu.Lock()
	r.cfg = c
	if !c.Replay.Enable && (c.GPSD.Host != r.target.Host || c.GPSD.Port != r.target.Port) {
		r.target.Host, r.target.Port = c.GPSD.Host, c.GPSD.Port
		reconnect = true
	}
	r.target.Device = c.GPSD.Device
	t := r.target
	r.mu.Unlock()

	r.client.SetDevice(t.Device)
	r.status.SetTarget(export.Name(t.Host, t.Port, t.Device))
	r.status.SetUnits(unitsFromConfig(c.Units))

	if reconnect {
		log.Printf("gpsd target changed addr=%s mode=%s", net.JoinHostPort(t.Host, t.Port), c.GPSD.Mode)
		// Errors surface as connection-error; the settings still apply.
		_ = r.connect()
	}
	if rawMode, _ := gpsd.ParseStreamMode(c.Raw.Mode); rawMode != r.raw.Mode() {
		if err := r.raw.SetMode(r.ctx, rawMode); err != nil {
			log.Printf("raw viewer mode=%s failed: %v", rawMode, err)
		}
	}
	return nil
}

func (r *liveRuntime) Config() config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

func (r *liveRuntime) webDeps(configPath string, logs *rawview.Log) web.Deps {
	return web.Deps{
		Status: r.status,
		Events: r.events,
		Settings: web.SettingsStore{
			ConfigPath: configPath,
			Apply:      r.Apply,
		},
		Raw:         r.raw,
		RawSavePath: r.Config().Raw.SavePath,
		Logs:        logs,
	}
}

func (r *liveRuntime) Close() {
	r.reconnectMu.Lock()
	if r.reconnectTimer != nil {
		r.reconnectTimer.Stop()
		r.reconnectTimer = nil
	}
	r.reconnectMu.Unlock()

	for _, d := range r.detach {
		d()
	}
	r.detach = nil
	if r.client != nil {
		r.client.Close()
	}
	if r.raw != nil {
		r.raw.Close()
	}
	if r.recorder != nil {
		if err := r.recorder.Close(); err != nil {
			log.Printf("record close failed: %v", err)
		}
		r.recorder = nil
	}
	if r.mqttClient != nil {
		r.mqttClient.Disconnect(250)
		r.mqttClient = nil
	}
	if r.udp != nil {
		_ = r.udp.Close()
		r.udp = nil
	}
	if r.replayDone != nil && r.ctx.Err() != nil {
		<-r.replayDone
	}
}

func unitsFromConfig(u config.UnitsConfig) export.Units {
	return export.Units{
		Position: units.Angle(u.Position),
		Track:    units.Angle(u.Track),
		Altitude: units.Altitude(u.Altitude),
		Distance: units.Distance(u.Distance),
		Speed:    units.Speed(u.Speed),
	}
}
