package replay

import (
	"context"
	"log"
	"time"

	"gpsc-ng/internal/gpsd"
)

// RecordingDialer wraps dial so that every frame read from the daemon is
// also appended to w, including frames the client later filters out.
func RecordingDialer(dial gpsd.DialFunc, w *Writer) gpsd.DialFunc {
	return func(ctx context.Context, host, port string) (gpsd.Conn, error) {
		c, err := dial(ctx, host, port)
		if err != nil {
			return nil, err
		}
		return &recordingConn{Conn: c, w: w}, nil
	}
}

type recordingConn struct {
	gpsd.Conn
	w      *Writer
	failed bool
}

func (c *recordingConn) ReadFrame() ([]byte, error) {
	frame, err := c.Conn.ReadFrame()
	if err != nil || len(frame) == 0 {
		return frame, err
	}
	if werr := c.w.WriteFrame(time.Now(), frame); werr != nil && !c.failed {
		// Keep the session alive; only the capture is lost.
		c.failed = true
		log.Printf("replay record failed: %v", werr)
	}
	return frame, nil
}
