package hub

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// RecordedFrame is one line of a recording.
type RecordedFrame struct {
	At    time.Time       `json:"at"`
	Group string          `json:"group,omitempty"`
	Frame json.RawMessage `json:"frame"`
}

// Recorder appends inbound frames to a JSONL file. Paths ending in ".zst"
// are zstd-compressed.
type Recorder struct {
	mu   sync.Mutex
	file *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
	enc  *json.Encoder
}

// NewRecorder creates (or truncates) path.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}

	r := &Recorder{file: f}
	var w io.Writer = f
	if isCompressed(path) {
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		r.zw = zw
		w = zw
	}
	r.buf = bufio.NewWriter(w)
	r.enc = json.NewEncoder(r.buf)
	return r, nil
}

// Record appends one frame. Frames that are not valid JSON are skipped.
func (r *Recorder) Record(group string, frame []byte) error {
	if !json.Valid(frame) {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return os.ErrClosed
	}
	return r.enc.Encode(RecordedFrame{At: time.Now(), Group: group, Frame: frame})
}

// Close flushes and closes the recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return nil
	}
	r.enc = nil

	err := r.buf.Flush()
	if r.zw != nil {
		if cerr := r.zw.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// LoadRecording reads every frame from a recording written by Recorder.
func LoadRecording(path string) ([]RecordedFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	var rd io.Reader = f
	if isCompressed(path) {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer zr.Close()
		rd = zr
	}

	var frames []RecordedFrame
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize*2)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rf RecordedFrame
		if err := json.Unmarshal([]byte(text), &rf); err != nil {
			return nil, fmt.Errorf("recording line %d: %w", line, err)
		}
		if len(rf.Frame) == 0 {
			continue
		}
		frames = append(frames, rf)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	return frames, nil
}

func isCompressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}
