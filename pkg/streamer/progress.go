package streamer

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Progress is a merged snapshot of the statistics the transcoder prints on
// standard error. Fields keep their last seen value; a fresh snapshot is
// republished on every update.
type Progress struct {
	// Frames is the number of frames processed so far.
	Frames int64

	// FPS is the current processing rate in frames per second.
	FPS float64

	// Bitrate is the current output bitrate in kbit/s.
	Bitrate float64

	// Size is the bytes written to the output so far.
	Size int64

	// OutTime is how much of the output timeline has been produced.
	OutTime time.Duration

	// DupFrames and DropFrames count duplicated and dropped frames.
	DupFrames  int64
	DropFrames int64

	// Speed is the processing speed relative to realtime (1.0 = realtime).
	Speed float64

	// Percent is OutTime over the probed input duration, in [0, 100].
	// Zero when no duration hint was supplied.
	Percent float64
}

// progressToken matches one key=value pair on a stats line. The transcoder
// pads some values with spaces after the equals sign ("fps= 25"), hence the
// \s* between them.
var progressToken = regexp.MustCompile(`(\w+)=\s*([^\s]+)`)

// progressParser accumulates stats tokens from standard-error lines into a
// running [Progress]. It understands both the classic stats line
// ("frame= 123 fps= 25 ... time=00:00:05.12 speed=1.01x") and the
// machine-readable progress-pipe variant (out_time_ms, total_size, ...).
type progressParser struct {
	duration time.Duration
	current  Progress
}

// parseLine merges any recognized tokens from line into the running
// snapshot. ok reports whether at least one field changed, in which case
// the returned snapshot should be republished.
func (p *progressParser) parseLine(line string) (Progress, bool) {
	if !strings.ContainsRune(line, '=') {
		return p.current, false
	}
	updated := false
	for _, m := range progressToken.FindAllStringSubmatch(line, -1) {
		key, value := m[1], m[2]
		if value == "N/A" {
			continue
		}
		if p.apply(key, value) {
			updated = true
		}
	}
	if !updated {
		return p.current, false
	}
	if p.duration > 0 && p.current.OutTime > 0 {
		percent := float64(p.current.OutTime) / float64(p.duration) * 100
		if percent > 100 {
			percent = 100
		}
		p.current.Percent = percent
	}
	return p.current, true
}

// apply folds a single key/value token into the snapshot. Unknown keys are
// ignored so new transcoder versions cannot break the scraper.
func (p *progressParser) apply(key, value string) bool {
	switch key {
	case "frame":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			p.current.Frames = n
			return true
		}
	case "fps":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			p.current.FPS = f
			return true
		}
	case "bitrate":
		v := strings.TrimSuffix(value, "kbits/s")
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.current.Bitrate = f
			return true
		}
	case "size", "total_size":
		if n, ok := parseSize(value); ok {
			p.current.Size = n
			return true
		}
	case "time", "out_time":
		if d, ok := parseTimemark(value); ok {
			p.current.OutTime = d
			return true
		}
	case "out_time_us", "out_time_ms":
		// Both are microseconds; out_time_ms is a historical misnomer in
		// the progress-pipe format.
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			p.current.OutTime = time.Duration(n) * time.Microsecond
			return true
		}
	case "dup", "dup_frames":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			p.current.DupFrames = n
			return true
		}
	case "drop", "drop_frames":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			p.current.DropFrames = n
			return true
		}
	case "speed":
		v := strings.TrimSuffix(value, "x")
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.current.Speed = f
			return true
		}
	}
	return false
}

// parseSize reads a size token: a bare byte count from the progress pipe,
// or a KiB-suffixed value from the classic stats line.
func parseSize(value string) (int64, bool) {
	mult := int64(1)
	switch {
	case strings.HasSuffix(value, "KiB"):
		value, mult = strings.TrimSuffix(value, "KiB"), 1024
	case strings.HasSuffix(value, "kB"):
		value, mult = strings.TrimSuffix(value, "kB"), 1024
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return n * mult, true
}

// parseTimemark reads an HH:MM:SS.fraction timemark into a duration.
func parseTimemark(value string) (time.Duration, bool) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}
	total := float64(hours*3600+minutes*60) + seconds
	return time.Duration(total * float64(time.Second)), true
}
