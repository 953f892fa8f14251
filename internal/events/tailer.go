package events

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"guideflow/internal/jsonx"
	"guideflow/internal/logging"
)

const defaultPollInterval = 100 * time.Millisecond

// TailerOptions tunes the log tailer.
type TailerOptions struct {
	// AppearTimeout bounds how long Tail waits for the log file to exist.
	AppearTimeout time.Duration
	// PollInterval is the file-size polling cadence once the file exists.
	PollInterval time.Duration
	Logger       logging.Logger
}

// Tail streams a session's NDJSON log. It waits (bounded) for the file to
// appear, replays everything written so far, then follows appended lines by
// byte offset until a terminal event line is observed. Partial trailing lines
// are never emitted. The returned channel closes after the terminal event, on
// context cancellation, or on an unrecoverable read error.
func Tail(ctx context.Context, path string, opts TailerOptions) (<-chan Event, error) {
	logger := logging.OrNop(opts.Logger)
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	if err := waitForFile(ctx, path, opts.AppearTimeout); err != nil {
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		var offset int64
		var partial []byte
		for {
			chunk, newOffset, err := readFrom(path, offset)
			if err != nil {
				logger.Warn("tailer read %s: %v", path, err)
				return
			}
			offset = newOffset

			data := append(partial, chunk...)
			lines := bytes.Split(data, []byte{'\n'})
			partial = lines[len(lines)-1]
			for _, line := range lines[:len(lines)-1] {
				line = bytes.TrimSpace(line)
				if len(line) == 0 {
					continue
				}
				evt, err := decodeLine(line)
				if err != nil {
					logger.Warn("tailer skipping malformed line in %s: %v", path, err)
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
				if evt.IsTerminal() {
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(poll):
			}
		}
	}()
	return out, nil
}

// decodeLine parses one NDJSON line, normalizing the legacy step_completed
// alias to step_executed.
func decodeLine(line []byte) (Event, error) {
	var evt Event
	if err := jsonx.Unmarshal(line, &evt); err != nil {
		return Event{}, err
	}
	if evt.Type == legacyStepCompleted {
		evt.Type = StepExecuted
	}
	return evt, nil
}

// waitForFile blocks until path exists, the timeout elapses, or ctx is done.
func waitForFile(ctx context.Context, path string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("event log %s did not appear within %s", path, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// readFrom reads everything appended past offset. The file is opened per poll
// so a writer in another process can rotate descriptors freely.
func readFrom(path string, offset int64) ([]byte, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, offset, err
	}
	return data, offset + int64(len(data)), nil
}
