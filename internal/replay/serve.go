package replay

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"
)

// Server is a mock daemon: every client that sends a watch command gets the
// recorded frames played back with their original timing.
type Server struct {
	Records []Record
	Speed   float64
	Loop    bool

	// Sleeper defaults to a context-aware real-time sleeper.
	Sleeper Sleeper
}

// Serve accepts clients on ln until ctx is done. Each client is served on
// its own goroutine; Serve waits for them before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if len(s.Records) == 0 {
		return errors.New("no records")
	}
	speed := s.Speed
	if speed <= 0 {
		speed = 1
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	conns := make(map[net.Conn]struct{})

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		mu.Lock()
		for c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
	})
	defer stop()

	log.Printf("replay serving addr=%s records=%d speed=%.2f loop=%t", ln.Addr(), len(s.Records), speed, s.Loop)
	for {
		c, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		mu.Lock()
		conns[c] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				mu.Lock()
				delete(conns, c)
				mu.Unlock()
				_ = c.Close()
			}()
			if err := s.serveConn(ctx, c, speed); err != nil && ctx.Err() == nil {
				log.Printf("replay client done remote=%s err=%v", c.RemoteAddr(), err)
			}
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, c net.Conn, speed float64) error {
	r := bufio.NewReader(c)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		if strings.HasPrefix(strings.TrimSpace(line), "?WATCH") {
			break
		}
	}
	// Drain later commands so the client never blocks writing.
	go func() { _, _ = io.Copy(io.Discard, r) }()

	sleeper := s.Sleeper
	if sleeper == nil {
		sleeper = ctxSleeper{ctx: ctx}
	}
	return Play(s.Records, speed, s.Loop, sleeper, func(frame []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if frame[len(frame)-1] != '\n' {
			frame = append(append([]byte(nil), frame...), '\n')
		}
		_, err := c.Write(frame)
		return err
	})
}

type ctxSleeper struct {
	ctx context.Context
}

func (s ctxSleeper) Sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.ctx.Done():
	}
}
