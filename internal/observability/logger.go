package observability

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeLLM        EventType = "llm"
	EventTypeToolCall   EventType = "tool_call"
	EventTypeTransition EventType = "transition"
	EventTypeTask       EventType = "task"
	EventTypePlan       EventType = "plan"
	EventTypeStore      EventType = "store"
	EventTypePolicy     EventType = "policy_check"
	EventTypeGateway    EventType = "gateway"
	EventTypeError      EventType = "error"
)

// Event represents a structured log entry.
type Event struct {
	Type    EventType
	RunID   string
	Agent   string
	PhaseID string
	TaskID  string
	Message string
	Data    map[string]any
}

const (
	sessionPrefix = "workflow_"
	sessionSuffix = ".log"

	// DefaultKeepSessions is how many session files survive a new session.
	DefaultKeepSessions = 3
)

// Logger writes every event as a JSON line to a per-session file and mirrors
// info-level events to a human-readable console.
type Logger struct {
	Path string

	zl   *zap.Logger
	file *os.File
}

// NewLogger opens logs/workflow_<session>.log under dir, pruning older session
// files so that at most keep remain. console may be nil.
func NewLogger(dir, session string, keep int, console io.Writer) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if keep < 1 {
		keep = DefaultKeepSessions
	}
	if err := pruneSessions(dir, keep-1); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, sessionPrefix+session+sessionSuffix)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	fileEnc := zap.NewProductionEncoderConfig()
	fileEnc.TimeKey = "timestamp"
	fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(f), zapcore.DebugLevel),
	}
	if console != nil {
		consoleEnc := zap.NewDevelopmentEncoderConfig()
		consoleEnc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		consoleEnc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEnc), zapcore.Lock(zapcore.AddSync(console)), zapcore.InfoLevel))
	}

	return &Logger{
		Path: path,
		zl:   zap.New(zapcore.NewTee(cores...)),
		file: f,
	}, nil
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return &Logger{zl: zap.NewNop()}
}

// SessionID formats t as a session name.
func SessionID(t time.Time) string {
	return t.Format("20060102_150405")
}

func pruneSessions(dir string, keep int) error {
	matches, err := filepath.Glob(filepath.Join(dir, sessionPrefix+"*"+sessionSuffix))
	if err != nil {
		return err
	}
	if len(matches) <= keep {
		return nil
	}

	type session struct {
		path string
		mod  time.Time
	}
	sessions := make([]session, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		sessions = append(sessions, session{path: m, mod: info.ModTime()})
	}
	// Newest first.
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].mod.Equal(sessions[j].mod) {
			return sessions[i].path > sessions[j].path
		}
		return sessions[i].mod.After(sessions[j].mod)
	})

	for _, s := range sessions[min(keep, len(sessions)):] {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove old session log: %w", err)
		}
	}
	return nil
}

// Log emits a structured event.
func (l *Logger) Log(evt Event) {
	fields := []zap.Field{zap.String("type", string(evt.Type))}
	if evt.RunID != "" {
		fields = append(fields, zap.String("run_id", evt.RunID))
	}
	if evt.Agent != "" {
		fields = append(fields, zap.String("agent", evt.Agent))
	}
	if evt.PhaseID != "" {
		fields = append(fields, zap.String("phase_id", evt.PhaseID))
	}
	if evt.TaskID != "" {
		fields = append(fields, zap.String("task_id", evt.TaskID))
	}
	if len(evt.Data) > 0 {
		fields = append(fields, zap.Any("data", evt.Data))
	}

	msg := evt.Message
	if msg == "" {
		msg = string(evt.Type)
	}

	switch evt.Type {
	case EventTypeError:
		l.zl.Error(msg, fields...)
	case EventTypeLLM, EventTypeToolCall:
		l.zl.Debug(msg, fields...)
	default:
		l.zl.Info(msg, fields...)
	}
}

// Close flushes and closes the session file.
func (l *Logger) Close() error {
	_ = l.zl.Sync()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Helper methods for common events

func (l *Logger) LogLLM(agent, system, prompt, response string, toolCall any) {
	l.Log(Event{
		Type:    EventTypeLLM,
		Agent:   agent,
		Message: "model call",
		Data: map[string]any{
			"system":    system,
			"prompt":    prompt,
			"response":  response,
			"tool_call": toolCall,
		},
	})
}

func (l *Logger) LogToolCall(agent, tool, args string) {
	l.Log(Event{
		Type:    EventTypeToolCall,
		Agent:   agent,
		Message: "tool call " + tool,
		Data:    map[string]any{"tool": tool, "args": args},
	})
}

func (l *Logger) LogTransition(runID, scope, from, to string) {
	l.Log(Event{
		Type:    EventTypeTransition,
		RunID:   runID,
		Message: fmt.Sprintf("%s: %s -> %s", scope, from, to),
		Data:    map[string]any{"scope": scope, "from": from, "to": to},
	})
}

func (l *Logger) LogPlan(runID string, phaseIDs []string) {
	l.Log(Event{
		Type:    EventTypePlan,
		RunID:   runID,
		Agent:   "planner",
		Message: fmt.Sprintf("plan with %d phases: %s", len(phaseIDs), strings.Join(phaseIDs, ", ")),
	})
}

func (l *Logger) LogTask(phaseID, taskID, status, detail string) {
	l.Log(Event{
		Type:    EventTypeTask,
		PhaseID: phaseID,
		TaskID:  taskID,
		Message: fmt.Sprintf("task %s %s", taskID, status),
		Data:    map[string]any{"status": status, "detail": detail},
	})
}

func (l *Logger) LogStore(path, detail string) {
	l.Log(Event{
		Type:    EventTypeStore,
		Message: detail,
		Data:    map[string]any{"path": path},
	})
}

func (l *Logger) LogPolicy(taskID, effect, reason string) {
	l.Log(Event{
		Type:    EventTypePolicy,
		TaskID:  taskID,
		Message: "asset policy " + effect,
		Data:    map[string]any{"effect": effect, "reason": reason},
	})
}

func (l *Logger) LogGateway(gateway, chatID, detail string) {
	l.Log(Event{
		Type:    EventTypeGateway,
		Message: gateway + ": " + detail,
		Data:    map[string]any{"gateway": gateway, "chat_id": chatID},
	})
}

func (l *Logger) LogError(agent string, err error) {
	if err == nil {
		return
	}
	l.Log(Event{
		Type:    EventTypeError,
		Agent:   agent,
		Message: err.Error(),
	})
}
