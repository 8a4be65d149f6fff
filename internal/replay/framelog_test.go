package replay

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(d time.Duration) {
	fs.slept = append(fs.slept, d)
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0, 7b7d0a
10, 24 47 50 0a
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].Frame != nil {
		t.Fatalf("expected START marker (nil frame), got %v", recs[0].Frame)
	}
	if recs[1].At != 0 || string(recs[1].Frame) != "{}\n" {
		t.Fatalf("record 1 = %+v", recs[1])
	}
	if recs[2].At != 10*time.Nanosecond || string(recs[2].Frame) != "$GP\n" {
		t.Fatalf("record 2 = %+v", recs[2])
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	cases := map[string]string{
		"MissingComma": "START\nnot-a-valid-line\n",
		"EmptyField":   "START\n10,\n",
		"BadTimestamp": "START\nx,00\n",
		"Negative":     "START\n-1,00\n",
		"BadHex":       "START\n1,zz\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewReader(strings.NewReader(body)).ReadAll(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestReaderReadAll_ErrorNamesLine(t *testing.T) {
	_, err := NewReader(strings.NewReader("START\n0,00\nbogus\n")).ReadAll()
	if err == nil || !strings.HasPrefix(err.Error(), "line 3:") {
		t.Fatalf("err=%v", err)
	}
}

func TestPlay_RespectsTimingAndStart(t *testing.T) {
	frames := make([][]byte, 0, 3)
	fs := &fakeSleeper{}

	recs := []Record{
		{At: 1 * time.Second, Frame: nil},
		{At: 1 * time.Second, Frame: []byte{0xAA}},
		{At: 1*time.Second + 100*time.Nanosecond, Frame: []byte{0xBB}},
		{At: 2 * time.Second, Frame: nil},
		{At: 2*time.Second + 50*time.Nanosecond, Frame: []byte{0xCC}},
	}

	err := Play(recs, 1.0, false, fs, func(frame []byte) error {
		frames = append(frames, append([]byte(nil), frame...))
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	wantFrames := [][]byte{{0xAA}, {0xBB}, {0xCC}}
	if !reflect.DeepEqual(frames, wantFrames) {
		t.Fatalf("frames = %x, want %x", frames, wantFrames)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{100 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [100ns]", fs.slept)
	}
}

func TestPlay_SpeedMultiplier(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: 0, Frame: []byte{0x01}},
		{At: 100 * time.Nanosecond, Frame: []byte{0x02}},
	}

	if err := Play(recs, 2.0, false, fs, func([]byte) error { return nil }); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{50 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [50ns]", fs.slept)
	}
}

func TestPlay_LoopStopsOnCallbackError(t *testing.T) {
	recs := []Record{{At: 0, Frame: []byte{0x01}}}
	n := 0
	stop := os.ErrClosed
	err := Play(recs, 1, true, &fakeSleeper{}, func([]byte) error {
		n++
		if n == 3 {
			return stop
		}
		return nil
	})
	if err != stop || n != 3 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}

func TestPlay_InvalidArgs(t *testing.T) {
	recs := []Record{{At: 0, Frame: []byte{0x01}}}
	if err := Play(recs, 0, false, nil, func([]byte) error { return nil }); err == nil {
		t.Fatalf("expected error for zero speed")
	}
	if err := Play(recs, 1, false, nil, nil); err == nil {
		t.Fatalf("expected error for nil callback")
	}
	if err := Play(nil, 1, false, nil, func([]byte) error { return nil }); err == nil {
		t.Fatalf("expected error for no records")
	}
}

func TestWriter_WritesExpectedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	w.start = time.Unix(0, 0)

	if err := w.WriteFrame(time.Unix(0, 20), []byte("{}\n")); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.WriteFrame(time.Unix(0, 30), []byte("x")); err == nil {
		t.Fatalf("expected error writing to closed writer")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(b) != "START\n20,7b7d0a\n" {
		t.Fatalf("unexpected file contents: %q", string(b))
	}
}

func TestRecordReplay_RoundTripFramesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpsd-record.log")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}

	// Same timestamp for every frame so replay has zero waits.
	now := time.Now()
	framesIn := [][]byte{
		[]byte(`{"class":"VERSION","release":"3.25","proto_major":3,"proto_minor":15}` + "\n"),
		[]byte("$GPGGA,092750.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,*76\r\n"),
		{0xb5, 0x62, 0x01, 0x07, '\n'},
	}
	for _, f := range framesIn {
		if err := w.WriteFrame(now, f); err != nil {
			_ = w.Close()
			t.Fatalf("WriteFrame() error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}

	var framesOut [][]byte
	fs := &fakeSleeper{}
	err = Play(recs, 1.0, false, fs, func(frame []byte) error {
		framesOut = append(framesOut, append([]byte(nil), frame...))
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if len(fs.slept) != 0 {
		t.Fatalf("expected no sleeps, got %v", fs.slept)
	}
	if !reflect.DeepEqual(framesOut, framesIn) {
		t.Fatalf("frames mismatch\n got: %q\nwant: %q", framesOut, framesIn)
	}
}
