// Package app provides application-level orchestration for voltscope.
package app

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/voltscope/voltscope/filter"
	"github.com/voltscope/voltscope/link"
	"github.com/voltscope/voltscope/pkg/model"
	"github.com/voltscope/voltscope/recorder"
	"github.com/voltscope/voltscope/ringbuf"
	"github.com/voltscope/voltscope/stats"
)

// MonitorConfig holds unified acquisition configuration.
type MonitorConfig struct {
	Port             string
	Baud             int
	RetentionSeconds float64
	FilterExpr       string  // optional sample filter expression
	Record           bool    // record samples to session files
	ParticipantID    int     // required when Record is set
	DataDir          string  // record file directory
	DisplayPoints    int     // width of the terminal trace
	StatsWindow      float64 // statistics window in seconds
}

// channel pairs one ring buffer with its statistics, updated from the
// buffer's bounded-rate data callback.
type channel struct {
	ring  *ringbuf.Ring
	stats *stats.Manager

	mu      sync.Mutex
	summary stats.Summary
}

func newChannel(retention, window float64) *channel {
	c := &channel{stats: stats.NewManager(window)}
	c.ring = ringbuf.New(ringbuf.Config{
		RetentionSeconds: retention,
		OnData: func(times, values []float64) {
			s := c.stats.Update(times, values)
			c.mu.Lock()
			c.summary = s
			c.mu.Unlock()
		},
	})
	return c
}

func (c *channel) current() stats.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// RunMonitor wires the link monitor to the ring buffers, statistics, the
// optional filter, and the optional recorder, and runs until interrupted.
func RunMonitor(cfg MonitorConfig) error {
	if cfg.RetentionSeconds <= 0 {
		cfg.RetentionSeconds = 10
	}
	if cfg.DisplayPoints <= 0 {
		cfg.DisplayPoints = 60
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = 10
	}

	var match func(model.Sample) bool
	if cfg.FilterExpr != "" {
		var err error
		match, err = filter.Compile(cfg.FilterExpr)
		if err != nil {
			return fmt.Errorf("error compiling filter: %w", err)
		}
	}

	vertical := newChannel(cfg.RetentionSeconds, cfg.StatsWindow)
	horizontal := newChannel(cfg.RetentionSeconds, cfg.StatsWindow)

	var rec *recorder.Recorder
	if cfg.Record {
		if cfg.ParticipantID <= 0 {
			return fmt.Errorf("recording requires --participant")
		}
		var err error
		rec, err = recorder.New(recorder.Config{DataDir: cfg.DataDir})
		if err != nil {
			return fmt.Errorf("error initializing recorder: %w", err)
		}
		if err := rec.RegisterParticipant(cfg.ParticipantID); err != nil {
			rec.Shutdown(2 * time.Second)
			return err
		}
		id, err := rec.StartSession()
		if err != nil {
			rec.Shutdown(2 * time.Second)
			return err
		}
		fmt.Printf("Recording session %d for participant %d in %s\n",
			id, cfg.ParticipantID, cfg.DataDir)
	}

	mon := link.New(link.Config{BaudRate: cfg.Baud})
	if err := mon.Connect(cfg.Port); err != nil {
		if rec != nil {
			rec.Shutdown(5 * time.Second)
		}
		mon.Close()
		return err
	}

	fmt.Printf("Monitoring %s at %d baud. Press Ctrl+C to stop.\n", cfg.Port, cfg.Baud)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	// A nil channel blocks forever, so the recorder case is inert when
	// recording is off.
	var recEvents <-chan model.RecorderStatus
	if rec != nil {
		recEvents = rec.Status()
	}

	display := time.NewTicker(time.Second)
	defer display.Stop()

	for {
		select {
		case <-sig:
			fmt.Println("\nStopping...")
			mon.Close()
			if rec != nil {
				rec.Shutdown(5 * time.Second)
			}
			return nil

		case s := <-mon.Samples():
			if match != nil && !match(s) {
				continue
			}
			vertical.ring.Push(s.Elapsed, s.Vertical)
			horizontal.ring.Push(s.Elapsed, s.Horizontal)
			if rec != nil {
				if err := rec.Store(s); err != nil {
					fmt.Fprintf(os.Stderr, "Error storing sample: %v\n", err)
				}
			}

		case st := <-mon.Status():
			fmt.Fprintf(os.Stderr, "[link] %s: %s\n", st.State, st.Reason)

		case ev := <-recEvents:
			if !ev.OK {
				fmt.Fprintf(os.Stderr, "[recorder] %s\n", ev.Message)
			}

		case <-display.C:
			printStatusLine(mon.State(), vertical, horizontal, cfg.DisplayPoints)
		}
	}
}

// printStatusLine renders one line of live state: latest readings, window
// statistics, and a decimated trace of the vertical channel.
func printStatusLine(state model.LinkState, vertical, horizontal *channel, width int) {
	_, v, okV := vertical.ring.Latest()
	_, h, okH := horizontal.ring.Latest()
	if !okV || !okH {
		fmt.Printf("[%s] waiting for data\n", state)
		return
	}

	vs := vertical.current()
	hs := horizontal.current()

	times, values := vertical.ring.Snapshot()
	_, trace := ringbuf.DecimateForView(times, values, width)

	fmt.Printf("[%s] V=%.3fV H=%.3fV | V mean %.3f peak %.3f | H mean %.3f peak %.3f | %.0f S/s |%s|\n",
		state, v, h, vs.Mean, vs.Peak, hs.Mean, hs.Peak, vs.Rate, sparkline(trace))
}

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// sparkline maps 0-5V values onto block characters.
func sparkline(values []float64) string {
	var b strings.Builder
	for _, v := range values {
		idx := int(v / 5.0 * float64(len(sparkLevels)))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkLevels) {
			idx = len(sparkLevels) - 1
		}
		b.WriteRune(sparkLevels[idx])
	}
	return b.String()
}
