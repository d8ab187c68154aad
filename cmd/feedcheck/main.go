// Command feedcheck samples frames from a live beacon feed (or an NDJSON
// capture file) and validates stream integrity: frame classification, ping
// field ranges, questionnaire coverage, and per-device timestamp continuity.
//
// Usage:
//
//	go run ./cmd/feedcheck -url ws://localhost:8765/feed -count 200
//	go run ./cmd/feedcheck -file capture.ndjson
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	wsadapter "github.com/autosat/beacon-map/internal/adapter/ws"
	"github.com/autosat/beacon-map/internal/domain"
)

// maxFutureSkew is how far a device clock may run ahead of the checker's
// clock before the ts is reported as broken.
const maxFutureSkew = 10 * time.Minute

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	feedURL := flag.String("url", "", "websocket feed to sample (e.g. ws://localhost:8765/feed)")
	file := flag.String("file", "", "NDJSON capture file to check instead of a live feed")
	count := flag.Int("count", 100, "number of frames to sample")
	timeout := flag.Duration("timeout", 30*time.Second, "sampling deadline for a live feed")
	flag.Parse()

	if (*feedURL == "") == (*file == "") {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "exactly one of -url or -file is required")
		os.Exit(1)
	}

	if code := run(*feedURL, *file, *count, *timeout); code != 0 {
		os.Exit(code)
	}
}

func run(feedURL, file string, count int, timeout time.Duration) int {
	fmt.Println("=== Beacon Feed Integrity Check ===")
	fmt.Println()

	// ── Collect frames ──
	var frames [][]byte
	var err error
	if file != "" {
		frames, err = collectFile(file, count)
	} else {
		fmt.Printf("Sampling up to %d frames from %s (timeout %s)...\n", count, feedURL, timeout)
		frames, err = collectLive(feedURL, count, timeout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: collect frames: %v\n", err)
		return 1
	}

	s := classifyFrames(frames)

	// ── Run validation phases ──
	phases := []*phase{
		checkClassification(s),
		checkPingFields(s),
		checkQuestionnaires(s),
		checkDeviceContinuity(s),
	}

	// ── Report results ──
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-38s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Frames: %d sampled, %d pings, %d control, %d malformed\n",
		s.frames, len(s.pings), s.controls, len(s.malformed))

	// Print detailed errors.
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nFeed integrity checks passed.")
		return 0
	}
	fmt.Println("\nFeed integrity check FAILED.")
	return 1
}

// ── Frame collection ──

// collectLive samples frames from a running feed gateway. Sampling stops at
// the frame count, the timeout, or a clean server close, whichever is first.
func collectLive(feedURL string, count int, timeout time.Duration) ([][]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	conn, err := wsadapter.Dial(ctx, feedURL, logger)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var frames [][]byte
	for len(frames) < count {
		frame, err := conn.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func collectFile(path string, count int) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var frames [][]byte
	sc := bufio.NewScanner(f)
	for sc.Scan() && len(frames) < count {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		frames = append(frames, frame)
	}
	return frames, sc.Err()
}

// sample is the classified view of the collected frames.
type sample struct {
	frames    int
	pings     []domain.Ping
	controls  int
	malformed []string
}

func classifyFrames(frames [][]byte) sample {
	s := sample{frames: len(frames)}
	for _, frame := range frames {
		p, kind, err := domain.ClassifyMessage(frame)
		switch kind {
		case domain.KindPing:
			s.pings = append(s.pings, p)
		case domain.KindControl:
			s.controls++
		default:
			s.malformed = append(s.malformed, fmt.Sprintf("%v (frame %q)", err, snippet(frame)))
		}
	}
	return s
}

// ── Phase 1: Frame Classification ──
// The map drops malformed frames silently; the checker surfaces them.

func checkClassification(s sample) *phase {
	p := &phase{name: "Phase 1: Frame Classification"}
	if s.frames == 0 {
		p.errorf("no frames sampled")
		return p
	}
	if len(s.pings) == 0 {
		p.errorf("no pings among %d sampled frames", s.frames)
	}
	for _, m := range s.malformed {
		p.errorf("malformed frame: %s", m)
	}
	return p
}

// ── Phase 2: Ping Field Integrity ──

func checkPingFields(s sample) *phase {
	p := &phase{name: "Phase 2: Ping Field Integrity"}
	now := time.Now().UTC()
	for i, ping := range s.pings {
		if ping.DeviceID == "" {
			p.errorf("ping %d: missing deviceId", i)
		}
		if ping.Lat < -90 || ping.Lat > 90 {
			p.errorf("ping %d (%s): lat %.6f out of range", i, ping.DeviceID, ping.Lat)
		}
		if ping.Lon < -180 || ping.Lon > 180 {
			p.errorf("ping %d (%s): lon %.6f out of range", i, ping.DeviceID, ping.Lon)
		}
		if ping.Lat == 0 && ping.Lon == 0 {
			p.errorf("ping %d (%s): coordinates are both zero (no GPS fix?)", i, ping.DeviceID)
		}
		if ping.SignalQuality < 0 {
			p.errorf("ping %d (%s): negative pdop %.1f", i, ping.DeviceID, ping.SignalQuality)
		}
		if skew := ping.Timestamp.Sub(now); skew > maxFutureSkew {
			p.errorf("ping %d (%s): ts %s runs %s ahead of the checker clock",
				i, ping.DeviceID, ping.Timestamp.Format(time.RFC3339), skew.Round(time.Second))
		}
	}
	return p
}

// ── Phase 3: Questionnaire Coverage ──
// Answers are free-form on the wire; this phase flags payloads that carry
// data but normalize to nothing, which usually means questionnaire schema
// drift on the device side.

func checkQuestionnaires(s sample) *phase {
	p := &phase{name: "Phase 3: Questionnaire Coverage"}
	var danger int
	for i, ping := range s.pings {
		view := domain.NormalizeAnswers(ping.Answers)
		if view.Danger {
			danger++
		}
		if len(ping.Answers) == 0 {
			continue
		}
		recognized := false
		for _, row := range view.Rows {
			if row.Value != "unknown" {
				recognized = true
				break
			}
		}
		if !recognized {
			p.errorf("ping %d (%s): answers payload yields no recognized keys: %s",
				i, ping.DeviceID, snippet(ping.Answers))
		}
	}
	if danger > 0 {
		fmt.Printf("  Note: %d ping(s) report active danger\n", danger)
	}
	return p
}

// ── Phase 4: Device Continuity ──
// Resent frames legitimately repeat a deviceId+ts identity; a device ts
// moving backward mid-stream is a gateway ordering bug.

func checkDeviceContinuity(s sample) *phase {
	p := &phase{name: "Phase 4: Device Continuity"}
	lastSeen := map[string]time.Time{}
	identityCount := map[string]int{}

	for i, ping := range s.pings {
		identityCount[ping.Identity()]++
		last, ok := lastSeen[ping.DeviceID]
		if ok && ping.Timestamp.Before(last) {
			p.errorf("ping %d (%s): ts %s went backward from %s", i, ping.DeviceID,
				ping.Timestamp.Format(time.RFC3339), last.Format(time.RFC3339))
		}
		if !ok || ping.Timestamp.After(last) {
			lastSeen[ping.DeviceID] = ping.Timestamp
		}
	}

	var resent int
	for _, n := range identityCount {
		if n > 1 {
			resent += n - 1
		}
	}
	if resent > 0 {
		fmt.Printf("  Note: %d resent frame(s) share a deviceId+ts identity\n", resent)
	}
	fmt.Printf("  Note: %d distinct device(s) in sample\n", len(lastSeen))
	return p
}

// ── Helpers ──

func snippet(b []byte) string {
	const max = 60
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
