package web

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gpsc-ng/internal/gpsd"
	"gpsc-ng/internal/rawview"
)

type chanConn struct {
	frames chan string
	closed chan struct{}
	once   sync.Once
}

func newChanConn() *chanConn {
	return &chanConn{frames: make(chan string, 8), closed: make(chan struct{})}
}

func (c *chanConn) Watch(gpsd.StreamMode) error { return nil }

func (c *chanConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.frames:
		return []byte(f + "\n"), nil
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *chanConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// connectedClient returns a client on a fake session that has published
// every frame.
func connectedClient(t *testing.T, frames ...string) (*gpsd.Client, *chanConn) {
	t.Helper()
	conn := newChanConn()
	c := gpsd.New(gpsd.WithDialer(func(ctx context.Context, host, port string) (gpsd.Conn, error) {
		return conn, nil
	}))
	read := make(chan struct{}, len(frames)+1)
	off := c.On(gpsd.DataReceived, func() { read <- struct{}{} })
	defer off()

	if err := c.Connect(context.Background(), "localhost", "2947", gpsd.ModeJSON); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(c.Close)
	for _, f := range frames {
		conn.frames <- f
		select {
		case <-read:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for read of %s", f)
		}
	}
	return c, conn
}

const (
	versionFrame = `{"class":"VERSION","release":"3.25","proto_major":3,"proto_minor":15}`
	devicesFrame = `{"class":"DEVICES","devices":[{"path":"/dev/ttyACM0","driver":"u-blox"}]}`
	tpvFrame     = `{"class":"TPV","device":"/dev/ttyACM0","mode":3,"time":"2024-03-23T12:00:00.000Z","lat":48.1173,"lon":-11.5,"altMSL":545.4,"speed":10,"track":270.5}`
	skyFrame     = `{"class":"SKY","device":"/dev/ttyACM0","hdop":0.9,"satellites":[{"PRN":12,"el":40,"az":100,"ss":30,"used":true},{"PRN":5,"el":10,"az":200,"ss":20,"used":false}]}`
)

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s status=%d body=%s", url, resp.StatusCode, body)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode json: %v", err)
		}
	}
	return resp
}

func TestAPIStatus(t *testing.T) {
	c, _ := connectedClient(t, versionFrame, tpvFrame)
	st := NewStatus(c)
	st.SetTarget("localhost:2947")

	ts := httptest.NewServer(Handler(Deps{Status: st}))
	defer ts.Close()

	var snap StatusSnapshot
	resp := getJSON(t, ts.URL+"/api/status", &snap)
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}
	if snap.Service != "gpsc-ng" || !snap.Connected || snap.Addr != "localhost:2947" {
		t.Fatalf("snap=%+v", snap)
	}
	if snap.Daemon.Release != "3.25" {
		t.Fatalf("daemon=%+v", snap.Daemon)
	}
	if snap.View.Name != "localhost:2947" || snap.View.Mode != "3D fix" {
		t.Fatalf("view=%+v", snap.View)
	}
	if snap.View.Latitude != "48°07'2.280\" N" {
		t.Fatalf("latitude=%q", snap.View.Latitude)
	}
}

func TestAPIStatus_CountsReadsAndErrors(t *testing.T) {
	conn := newChanConn()
	c := gpsd.New(gpsd.WithDialer(func(ctx context.Context, host, port string) (gpsd.Conn, error) {
		return conn, nil
	}))
	st := NewStatus(c)
	defer st.Attach()()

	failed := make(chan struct{}, 1)
	c.OnConnectionError(func(int) { failed <- struct{}{} })
	if err := c.Connect(context.Background(), "", "", gpsd.ModeJSON); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	conn.frames <- versionFrame
	conn.frames <- "not json"
	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for connection error")
	}

	snap := st.Snapshot(time.Time{})
	if snap.ReadsTotal != 1 || snap.LastReadUTC == "" {
		t.Fatalf("reads=%d last=%q", snap.ReadsTotal, snap.LastReadUTC)
	}
	if snap.Connected || snap.ErrorCode == 0 || snap.Error == "" {
		t.Fatalf("snap=%+v", snap)
	}
}

func TestAPISatellitesAndDevices(t *testing.T) {
	c, _ := connectedClient(t, devicesFrame, skyFrame)
	ts := httptest.NewServer(Handler(Deps{Status: NewStatus(c)}))
	defer ts.Close()

	var sats SatellitesEvent
	getJSON(t, ts.URL+"/api/satellites", &sats)
	if sats.Visible != 2 || sats.Used != 1 {
		t.Fatalf("sats=%+v", sats)
	}
	if sats.Satellites[0].PRN != 5 || sats.Satellites[1].PRN != 12 || !sats.Satellites[1].Used {
		t.Fatalf("satellites=%+v", sats.Satellites)
	}

	var devs DevicesEvent
	getJSON(t, ts.URL+"/api/devices", &devs)
	if len(devs.Devices) != 1 || devs.Devices[0] != "/dev/ttyACM0" {
		t.Fatalf("devices=%+v", devs)
	}
}

func TestAPIPositionExports(t *testing.T) {
	c, _ := connectedClient(t, tpvFrame)
	st := NewStatus(c)
	st.SetTarget("localhost:2947")
	ts := httptest.NewServer(Handler(Deps{Status: st}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/position.csv")
	if err != nil {
		t.Fatalf("get csv: %v", err)
	}
	fields, err := csv.NewReader(resp.Body).Read()
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(fields) != 8 || fields[0] != "48°07'2.280\" N" || fields[2] != "545.40 m" {
		t.Fatalf("csv=%q", fields)
	}

	resp, err = http.Get(ts.URL + "/api/position.kml")
	if err != nil {
		t.Fatalf("get kml: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/vnd.google-earth.kml+xml" {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(string(body), "<coordinates>-11.5,48.1173,545.4</coordinates>") {
		t.Fatalf("kml=%s", body)
	}
}

func TestRootPage(t *testing.T) {
	c := gpsd.New()
	ts := httptest.NewServer(Handler(Deps{Status: NewStatus(c)}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "No data") {
		t.Fatalf("body=%s", body)
	}

	resp2, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get unknown: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("status code=%d", resp2.StatusCode)
	}
}

func TestAPIAbout_IncludesDaemonVersion(t *testing.T) {
	c, _ := connectedClient(t, versionFrame)
	ts := httptest.NewServer(Handler(Deps{Status: NewStatus(c)}))
	defer ts.Close()

	var about AboutResponse
	getJSON(t, ts.URL+"/api/about", &about)
	if about.Service != "gpsc-ng" || about.Daemon != "gpsd 3.25" || about.Protocol != "3.15" {
		t.Fatalf("about=%+v", about)
	}
}

type fakeRawViewer struct {
	log  *rawview.Log
	mode gpsd.StreamMode
}

func (f *fakeRawViewer) Log() *rawview.Log     { return f.log }
func (f *fakeRawViewer) Mode() gpsd.StreamMode { return f.mode }

func (f *fakeRawViewer) SetMode(ctx context.Context, m gpsd.StreamMode) error {
	f.mode = m
	return nil
}

func TestAPIRaw(t *testing.T) {
	raw := &fakeRawViewer{log: rawview.NewLog(100)}
	_, _ = raw.log.Write([]byte("$GPGGA,1*00\n"))
	savePath := filepath.Join(t.TempDir(), "raw.txt")

	ts := httptest.NewServer(Handler(Deps{Status: NewStatus(gpsd.New()), Raw: raw, RawSavePath: savePath}))
	defer ts.Close()

	var lines rawview.LogResponse
	getJSON(t, ts.URL+"/api/raw", &lines)
	if len(lines.Lines) != 1 || lines.Lines[0] != "$GPGGA,1*00" {
		t.Fatalf("lines=%v", lines.Lines)
	}

	resp, err := http.Post(ts.URL+"/api/raw/mode", "application/json", bytes.NewReader([]byte(`{"mode":"hex"}`)))
	if err != nil {
		t.Fatalf("post mode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || raw.mode != gpsd.ModeHex {
		t.Fatalf("status=%d mode=%s", resp.StatusCode, raw.mode)
	}

	resp, err = http.Post(ts.URL+"/api/raw/mode", "application/json", bytes.NewReader([]byte(`{"mode":"sirf"}`)))
	if err != nil {
		t.Fatalf("post mode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/raw/save", "application/json", nil)
	if err != nil {
		t.Fatalf("post save: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestAPIRaw_SaveUnwritableTarget(t *testing.T) {
	raw := &fakeRawViewer{log: rawview.NewLog(100)}
	path := filepath.Join(t.TempDir(), "missing", "raw.txt")
	ts := httptest.NewServer(Handler(Deps{Status: NewStatus(gpsd.New()), Raw: raw, RawSavePath: path}))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/raw/save", "application/json", nil)
	if err != nil {
		t.Fatalf("post save: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestAPI_MethodNotAllowed(t *testing.T) {
	ts := httptest.NewServer(Handler(Deps{Status: NewStatus(gpsd.New())}))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/status", "application/json", nil)
	if err != nil {
		t.Fatalf("post status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodGet {
		t.Fatalf("status=%d allow=%q", resp.StatusCode, resp.Header.Get("Allow"))
	}
}
