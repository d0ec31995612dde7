package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// NamespaceOrg tags envelopes carrying a full org snapshot.
const NamespaceOrg = "org"

const maxEnvelopeBytes = 64 << 20

// Envelope is one recorded feed payload.
type Envelope struct {
	Namespace string          `json:"ns"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload"`
}

// Batches decodes the envelope's payload. Satellite TLEs are propagated to
// the envelope time so a replay reproduces the recorded positions.
func (e Envelope) Batches() ([]Batch, error) {
	if e.Namespace == NamespaceOrg {
		return DecodeOrgSnapshot(e.Payload)
	}
	b, err := Decode(e.Namespace, e.Payload, e.At)
	if errors.Is(err, ErrMalformed) {
		return nil, err
	}
	return []Batch{b}, err
}

// Recorder writes envelopes as zstd-compressed NDJSON.
type Recorder struct {
	mu  sync.Mutex
	zw  *zstd.Encoder
	enc *json.Encoder
}

// NewRecorder starts a recording on w. Close must be called to flush.
func NewRecorder(w io.Writer) (*Recorder, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	return &Recorder{zw: zw, enc: json.NewEncoder(zw)}, nil
}

// Record appends one envelope. Safe for concurrent use.
func (r *Recorder) Record(env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(env)
}

// Close flushes the compressed stream.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zw.Close()
}

// Replay reads a recording produced by Recorder.
type Replay struct {
	zr   *zstd.Decoder
	sc   *bufio.Scanner
	line int
}

// NewReplay opens a recording.
func NewReplay(r io.Reader) (*Replay, error) {
	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64<<10), maxEnvelopeBytes)
	return &Replay{zr: zr, sc: sc}, nil
}

// Next returns the next envelope, or io.EOF at the end of the recording.
func (rp *Replay) Next() (Envelope, error) {
	for rp.sc.Scan() {
		rp.line++
		line := rp.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return Envelope{}, fmt.Errorf("%w: recording line %d: %v", ErrMalformed, rp.line, err)
		}
		return env, nil
	}
	if err := rp.sc.Err(); err != nil {
		return Envelope{}, err
	}
	return Envelope{}, io.EOF
}

// Play delivers every envelope to fn, sleeping between envelopes so their
// recorded spacing is reproduced divided by speed. A non-positive speed
// plays as fast as possible.
func (rp *Replay) Play(ctx context.Context, speed float64, fn func(Envelope) error) error {
	var prev time.Time
	for {
		env, err := rp.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if speed > 0 && !prev.IsZero() && env.At.After(prev) {
			wait := time.Duration(float64(env.At.Sub(prev)) / speed)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		prev = env.At
		if err := fn(env); err != nil {
			return err
		}
	}
}

// Close releases the decoder.
func (rp *Replay) Close() {
	rp.zr.Close()
}
