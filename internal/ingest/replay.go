package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
)

// replayRecord is one line of a JSONL capture file.
type replayRecord struct {
	Type  string      `json:"type"`
	Tick  *TickInput  `json:"tick,omitempty"`
	Point *PointInput `json:"point,omitempty"`
}

// Record type names in capture files.
const (
	recordTypeTick  = "tick"
	recordTypePoint = "point"
)

// FileSource replays ticks and points from a JSONL capture file, one JSON
// record per line. Replaying the same file twice is harmless: every record
// redelivers and dedups at the raw store.
type FileSource struct {
	path   string
	logger *log.Logger
}

// NewFileSource creates a file source for the given path.
func NewFileSource(path string, logger *log.Logger) *FileSource {
	if logger == nil {
		logger = log.Default()
	}
	return &FileSource{path: path, logger: logger}
}

// Subscribe opens the capture file and streams its records. Both channels
// close once the file is exhausted, so a draining runner exits cleanly.
// Malformed lines are logged and skipped.
func (s *FileSource) Subscribe(ctx context.Context) (<-chan *TickInput, <-chan *PointInput, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("open capture file: %w", err)
	}

	ticks := make(chan *TickInput, 256)
	points := make(chan *PointInput, 256)

	go func() {
		defer f.Close()
		defer close(ticks)
		defer close(points)

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var line, skipped int
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}

			var rec replayRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				skipped++
				s.logger.Printf("Skipping malformed line %d: %v", line, err)
				continue
			}

			switch {
			case rec.Type == recordTypeTick && rec.Tick != nil:
				select {
				case ticks <- rec.Tick:
				case <-ctx.Done():
					return
				}
			case rec.Type == recordTypePoint && rec.Point != nil:
				select {
				case points <- rec.Point:
				case <-ctx.Done():
					return
				}
			default:
				skipped++
				s.logger.Printf("Skipping line %d: unknown record type %q", line, rec.Type)
			}
		}

		if err := scanner.Err(); err != nil {
			s.logger.Printf("Capture file read error after line %d: %v", line, err)
		}
		s.logger.Printf("Capture file exhausted: %d lines, %d skipped", line, skipped)
	}()

	return ticks, points, nil
}
