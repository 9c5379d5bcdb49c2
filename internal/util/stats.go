package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/session counter.
var Stats = &stats{}

type stats struct {
	PeersAdded    atomic.Int64 // cumulative count of peers added to the session
	PeersRemoved  atomic.Int64 // cumulative count of peers torn down
	BytesSent     atomic.Int64 // cumulative bytes written to DataChannels
	BytesRecv     atomic.Int64 // cumulative bytes read  from DataChannels
	FramesDropped atomic.Int64 // frames dropped by queue capacity or size policy
	Envelopes     atomic.Int64 // signaling envelopes relayed (both directions)
}

func (s *stats) AddPeer()       { s.PeersAdded.Add(1) }
func (s *stats) RemovePeer()    { s.PeersRemoved.Add(1) }
func (s *stats) AddSent(n int)  { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)  { s.BytesRecv.Add(int64(n)) }
func (s *stats) DropFrame()     { s.FramesDropped.Add(1) }
func (s *stats) AddEnvelope()   { s.Envelopes.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs mesh statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevDropped int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				dropped := Stats.FramesDropped.Load()
				live := Stats.PeersAdded.Load() - Stats.PeersRemoved.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0
				dC := dropped - prevDropped

				if inS > 10 || outS > 10 || dC > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, live, dC))
				}

				prevSent = sent
				prevRecv = recv
				prevDropped = dropped

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, peers, dropped int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Peers: %2d | Dropped: %d",
		formatBytes(inS),
		formatBytes(outS),
		peers,
		dropped,
	)
}
