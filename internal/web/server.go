package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"gpsc-ng/internal/export"
	"gpsc-ng/internal/gpsd"
	"gpsc-ng/internal/rawview"
)

// RawViewer is the raw stream session behind /api/raw.
type RawViewer interface {
	Log() *rawview.Log
	Mode() gpsd.StreamMode
	SetMode(ctx context.Context, mode gpsd.StreamMode) error
}

type Deps struct {
	Status   *Status
	Events   *Broadcaster
	Settings SettingsStore
	// Raw is optional. RawSavePath is where POST /api/raw/save writes.
	Raw         RawViewer
	RawSavePath string
	// Logs holds this process's log output.
	Logs *rawview.Log
}

func Handler(d Deps) http.Handler {
	mux := http.NewServeMux()
	st := d.Status

	mux.HandleFunc("/api/status", getOnly(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, st.Snapshot(time.Now().UTC()))
	}))

	mux.HandleFunc("/api/position", getOnly(func(w http.ResponseWriter, r *http.Request) {
		v, _ := st.View()
		writeJSON(w, v)
	}))

	mux.HandleFunc("/api/position.kml", getOnly(func(w http.ResponseWriter, r *http.Request) {
		v, rec := st.View()
		b, err := export.KML(v, rec)
		if err != nil {
			http.Error(w, "render failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
		_, _ = w.Write(b)
	}))

	mux.HandleFunc("/api/position.csv", getOnly(func(w http.ResponseWriter, r *http.Request) {
		v, _ := st.View()
		b, err := export.CSV(v)
		if err != nil {
			http.Error(w, "render failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = w.Write(b)
	}))

	mux.HandleFunc("/api/satellites", getOnly(func(w http.ResponseWriter, r *http.Request) {
		rec := st.client.Data()
		writeJSON(w, SatellitesEvent{
			Visible:    rec.SatellitesVisible,
			Used:       rec.SatellitesUsed,
			Satellites: rec.Satellites(),
		})
	}))

	mux.HandleFunc("/api/devices", getOnly(func(w http.ResponseWriter, r *http.Request) {
		rec := st.client.Data()
		writeJSON(w, DevicesEvent{Devices: rec.Devices, Device: rec.Dev})
	}))

	if d.Events != nil {
		mux.Handle("/api/events", EventsHandler(d.Events))
	}

	if d.Raw != nil {
		mux.Handle("/api/raw", d.Raw.Log().Handler())
		mux.HandleFunc("/api/raw/mode", rawModeHandler(d.Raw))
		mux.HandleFunc("/api/raw/save", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.Header().Set("Allow", http.MethodPost)
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			if strings.TrimSpace(d.RawSavePath) == "" {
				http.Error(w, "raw.save_path is not configured", http.StatusNotImplemented)
				return
			}
			if err := d.Raw.Log().Save(d.RawSavePath); err != nil {
				http.Error(w, fmt.Sprintf("save failed: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, map[string]string{"path": d.RawSavePath})
		})
	}

	mux.Handle("/api/settings", d.Settings.Handler())

	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}

	mux.Handle("/api/about", AboutHandler(st))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = indexPage.Execute(w, st.Snapshot(time.Now().UTC()))
	})

	return mux
}

var indexPage = template.Must(template.New("index").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>gpsc-ng</title></head><body>
<h1>{{if .View.Name}}{{.View.Name}}{{else}}gpsc-ng{{end}}</h1>
<p>{{.View.Status}}</p>
<table>
<tr><th>Latitude</th><td>{{.View.Latitude}}</td></tr>
<tr><th>Longitude</th><td>{{.View.Longitude}}</td></tr>
<tr><th>Altitude</th><td>{{.View.Elevation}}</td></tr>
<tr><th>Time</th><td>{{.View.Time}}</td></tr>
<tr><th>Speed</th><td>{{.View.Speed}}</td></tr>
<tr><th>Track</th><td>{{.View.Track}}</td></tr>
<tr><th>DOP</th><td>{{.View.DOP}}</td></tr>
<tr><th>RMS</th><td>{{.View.RMS}}</td></tr>
<tr><th>Horizontal error</th><td>{{.View.HError}}</td></tr>
</table>
{{if .Error}}<p>Connection error: {{.Error}}</p>{{end}}
<p>API: <a href="/api/status">/api/status</a>, <a href="/api/satellites">/api/satellites</a>,
<a href="/api/position.kml">/api/position.kml</a>, <a href="/api/raw?format=text">/api/raw</a></p>
</body></html>
`))

type rawModeRequest struct {
	Mode string `json:"mode"`
}

func rawModeHandler(v RawViewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, rawModeRequest{Mode: v.Mode().String()})
		case http.MethodPost:
			r.Body = http.MaxBytesReader(w, r.Body, 4<<10)
			dec := json.NewDecoder(r.Body)
			dec.DisallowUnknownFields()
			var req rawModeRequest
			if err := dec.Decode(&req); err != nil {
				http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
				return
			}
			if err := dec.Decode(&struct{}{}); err != io.EOF {
				http.Error(w, "invalid json: trailing data", http.StatusBadRequest)
				return
			}
			mode, err := gpsd.ParseStreamMode(req.Mode)
			if err != nil || strings.TrimSpace(req.Mode) == "" {
				http.Error(w, fmt.Sprintf("unknown stream mode %q", req.Mode), http.StatusBadRequest)
				return
			}
			if err := v.SetMode(r.Context(), mode); err != nil {
				http.Error(w, fmt.Sprintf("connect failed: %v", err), http.StatusBadGateway)
				return
			}
			writeJSON(w, rawModeRequest{Mode: mode.String()})
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
