package engine

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// withProgressFlags asks ffmpeg for machine-readable progress on stdout.
func withProgressFlags(args []string) []string {
	flags := []string{"-progress", "pipe:1", "-nostats"}
	if len(args) > 0 && args[0] == "-y" {
		out := make([]string, 0, len(args)+len(flags))
		out = append(out, args[0])
		out = append(out, flags...)
		return append(out, args[1:]...)
	}
	return append(flags, args...)
}

// progressTracker converts ffmpeg -progress key=value lines into percentages.
// Reported values never decrease and each value is reported once.
type progressTracker struct {
	total time.Duration
	last  int
	fn    ProgressFunc
}

func newProgressTracker(total time.Duration, fn ProgressFunc) *progressTracker {
	return &progressTracker{total: total, last: -1, fn: fn}
}

func (p *progressTracker) consume(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p.feed(sc.Text())
	}
}

func (p *progressTracker) feed(line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}
	switch key {
	case "out_time_us", "out_time_ms":
		// ffmpeg reports microseconds under both keys.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || p.total <= 0 {
			return
		}
		p.report(int(time.Duration(us) * time.Microsecond * 100 / p.total))
	case "progress":
		if value == "end" {
			p.report(100)
		}
	}
}

func (p *progressTracker) report(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent <= p.last {
		return
	}
	p.last = percent
	if p.fn != nil {
		p.fn(percent)
	}
}

func parseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}
