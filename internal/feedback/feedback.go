// Package feedback records user confirmations and corrections of predictions
// in an append-only text log.
package feedback

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// Confirmed is the correction text logged when the user agrees with the
// prediction.
const Confirmed = "correct"

// MaxCorrectionLen bounds a correction in characters so every line stays
// readable and fits the database column.
const MaxCorrectionLen = 255

var (
	ErrEmptyCorrection    = errors.New("please enter a valid correction")
	ErrCorrectionTooLong  = fmt.Errorf("correction is longer than %d characters", MaxCorrectionLen)
	ErrReservedCorrection = fmt.Errorf("%q is reserved for confirmations; enter the flower name", Confirmed)
)

// LinePattern matches one log line: an optional timestamp, the predicted
// class id and the correction text.
var LinePattern = regexp.MustCompile(`^(?:(\S+)\s+)?Predicted:\s*(\d+),\s*Correction:\s*(.*\S)\s*$`)

type Record struct {
	Time         time.Time
	PredictionID string
	Predicted    int
	Correction   string
}

// IsConfirmation reports whether the user accepted the prediction.
func (r Record) IsConfirmation() bool {
	return strings.EqualFold(strings.TrimSpace(r.Correction), Confirmed)
}

func (r Record) Validate() error {
	if r.Predicted < 0 {
		return fmt.Errorf("predicted class %d is negative", r.Predicted)
	}
	correction := strings.TrimSpace(r.Correction)
	if correction == "" {
		return ErrEmptyCorrection
	}
	if utf8.RuneCountInString(correction) > MaxCorrectionLen {
		return ErrCorrectionTooLong
	}
	return nil
}

// ValidateCorrection checks a name typed after answering "no". On top of the
// Record rules it rejects the confirmation marker, which would otherwise read
// back as a "yes".
func ValidateCorrection(text string) error {
	if err := (Record{Correction: text}).Validate(); err != nil {
		return err
	}
	if strings.EqualFold(strings.TrimSpace(text), Confirmed) {
		return ErrReservedCorrection
	}
	return nil
}

// Line renders the record as a single log line, newline included.
func (r Record) Line() string {
	correction := strings.Join(strings.Fields(r.Correction), " ")
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("%s Predicted: %d, Correction: %s\n", ts.UTC().Format(time.RFC3339), r.Predicted, correction)
}

// ParseLine reads a record back from a log line. Lines written before
// timestamps were added parse with a zero Time.
func ParseLine(line string) (Record, bool) {
	m := LinePattern.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return Record{}, false
	}
	predicted, err := strconv.Atoi(m[2])
	if err != nil {
		return Record{}, false
	}
	rec := Record{Predicted: predicted, Correction: m[3]}
	if m[1] != "" {
		ts, err := time.Parse(time.RFC3339, m[1])
		if err != nil {
			return Record{}, false
		}
		rec.Time = ts
	}
	return rec, true
}

// maxLineLen is the longest line ReadAll parses; longer lines are skipped.
// A valid record is far shorter.
const maxLineLen = 64 << 10

// ReadAll returns every well-formed record in r, skipping lines that do not
// match LinePattern or exceed maxLineLen.
func ReadAll(r io.Reader) ([]Record, error) {
	var out []Record
	br := bufio.NewReader(r)
	for {
		line, tooLong, err := readLine(br)
		if !tooLong && line != "" {
			if rec, ok := ParseLine(line); ok {
				out = append(out, rec)
			}
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read feedback log: %w", err)
		}
	}
}

// readLine returns the next line without buffering more than maxLineLen
// bytes of it.
func readLine(br *bufio.Reader) (string, bool, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if !tooLong {
			if len(buf)+len(chunk) > maxLineLen {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if err != nil || !isPrefix {
			return string(buf), tooLong, err
		}
	}
}

func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feedback log: %w", err)
	}
	defer f.Close()
	return ReadAll(f)
}

// Recorder persists feedback records.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Log appends records to a text file. Earlier lines are never rewritten.
type Log struct {
	mu   sync.Mutex
	path string
	f    *os.File
	now  func() time.Time
}

func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open feedback log: %w", err)
	}
	return &Log{path: path, f: f, now: time.Now}, nil
}

func (l *Log) Path() string {
	return l.path
}

func (l *Log) Record(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Time.IsZero() {
		rec.Time = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.f, rec.Line()); err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

type tee struct {
	primary Recorder
	mirrors []Recorder
}

// Tee validates a record, writes it to primary and then copies it to every
// mirror. Only a primary failure fails the call: once the record is in the
// primary store a retry would duplicate it, so mirror errors are logged.
func Tee(primary Recorder, mirrors ...Recorder) Recorder {
	t := tee{primary: primary}
	for _, m := range mirrors {
		if m != nil {
			t.mirrors = append(t.mirrors, m)
		}
	}
	return t
}

func (t tee) Record(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	if err := t.primary.Record(ctx, rec); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.Record(ctx, rec); err != nil {
			log.Error().Err(err).Str("prediction_id", rec.PredictionID).Msg("feedback mirror write failed")
		}
	}
	return nil
}
