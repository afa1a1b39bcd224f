// internal/watch/follower.go
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hpcloud/tail"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gauntlet-cli/internal/observability"
)

// Event is one stage lifecycle entry read back from the log.
type Event struct {
	Time    time.Time
	RunID   string
	Name    string
	Stage   int
	Message string
	Source  string
	Success bool
	Fields  map[string]any
}

// Follower tails a JSON log file and turns lifecycle entries into Events.
type Follower struct {
	path      string
	fromStart bool
	logger    *zap.Logger
}

// NewFollower follows path. With fromStart the existing content is replayed
// before new lines, otherwise only lines appended from now on are read.
func NewFollower(path string, fromStart bool, logger *zap.Logger) (*Follower, error) {
	if path == "" {
		return nil, errors.New("logger.log_file must be configured to watch a run")
	}
	return &Follower{
		path:      path,
		fromStart: fromStart,
		logger:    logger.Named("watch"),
	}, nil
}

// Follow starts tailing. The returned channel is closed when ctx is done or
// the tailer stops.
func (f *Follower) Follow(ctx context.Context) (<-chan Event, error) {
	whence := io.SeekEnd
	if f.fromStart {
		whence = io.SeekStart
	}
	t, err := tail.TailFile(f.path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Location:  &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to tail log file: %w", err)
	}

	f.logger.Info("Watching run log.", zap.String("path", f.path))
	out := make(chan Event, 16)
	go f.loop(ctx, t, out)
	return out, nil
}

func (f *Follower) loop(ctx context.Context, t *tail.Tail, out chan<- Event) {
	defer func() {
		close(out)
		t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-t.Lines:
			if !ok {
				f.logger.Debug("Log tailer closed.")
				return
			}
			if line.Err != nil {
				f.logger.Warn("Error reading log file.", zap.Error(line.Err))
				continue
			}
			ev, ok := ParseLine(line.Text)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ParseLine decodes a JSON log line. Lines that are not lifecycle events are
// reported as not ok.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return Event{}, false
	}
	var raw map[string]any
	if err := jsoniter.UnmarshalFromString(line, &raw); err != nil {
		return Event{}, false
	}
	name, _ := raw[observability.FieldEvent].(string)
	if name == "" {
		return Event{}, false
	}

	ev := Event{Name: name, Fields: raw}
	ev.Message, _ = raw["msg"].(string)
	ev.RunID, _ = raw[observability.FieldRunID].(string)
	ev.Source, _ = raw[observability.FieldSource].(string)
	if n, ok := raw[observability.FieldStage].(float64); ok {
		ev.Stage = int(n)
	}
	if ts, ok := raw["ts"].(string); ok {
		if parsed, err := time.Parse(observability.TimeLayout, ts); err == nil {
			ev.Time = parsed
		}
	}

	switch name {
	case observability.EventStageAdvanced:
		ev.Success = true
	case observability.EventRunFinished:
		ev.Success, _ = raw["completed"].(bool)
	}
	return ev, true
}

// Format renders ev as one terminal line.
func Format(ev Event) string {
	var b strings.Builder
	if !ev.Time.IsZero() {
		b.WriteString(ev.Time.Format("15:04:05.000"))
		b.WriteString(" ")
	}
	switch ev.Name {
	case observability.EventRunStarted:
		url, _ := ev.Fields["url"].(string)
		fmt.Fprintf(&b, "run %s started %s", shortID(ev.RunID), url)
	case observability.EventRunFinished:
		solved, _ := ev.Fields["solved"].(float64)
		furthest, _ := ev.Fields["furthest_stage"].(float64)
		status := "incomplete"
		if ev.Success {
			status = "completed"
		}
		fmt.Fprintf(&b, "run %s %s: %d solved, furthest stage %d", shortID(ev.RunID), status, int(solved), int(furthest))
	case observability.EventStageAdvanced:
		fmt.Fprintf(&b, "stage %2d  ok    via %s", ev.Stage, ev.Source)
	case observability.EventStageFailed:
		fmt.Fprintf(&b, "stage %2d  FAIL  %s", ev.Stage, errorField(ev))
	case observability.EventStageRetry:
		fmt.Fprintf(&b, "stage %2d  retry %s", ev.Stage, errorField(ev))
	case observability.EventEscalated:
		fmt.Fprintf(&b, "stage %2d  escalated", ev.Stage)
	default:
		fmt.Fprintf(&b, "stage %2d  %s", ev.Stage, ev.Message)
	}
	return strings.TrimRight(b.String(), " ")
}

func errorField(ev Event) string {
	if msg, ok := ev.Fields["error"].(string); ok {
		return msg
	}
	return ev.Message
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
