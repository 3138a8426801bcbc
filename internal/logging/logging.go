// Package logging provides structured, standards-compliant logging.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stderr.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger. Log output goes to stderr so that stdout
// stays reserved for the final answer.
func New() *Logger {
	return &Logger{
		output:   os.Stderr,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		traceID:   l.traceID,
	}
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   traceID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry in traditional format: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Domain helpers ---

// PlanCreated logs creation of a decomposition plan.
func (l *Logger) PlanCreated(planID string, planNumber, totalSteps int, multiStep bool) {
	l.Info("plan_created", map[string]interface{}{
		"plan_id":     planID,
		"plan_number": planNumber,
		"total_steps": totalSteps,
		"multi_step":  multiStep,
	})
}

// StepStart logs the start of a plan step.
func (l *Logger) StepStart(planID string, stepNr int, skill string) {
	l.Info("step_start", map[string]interface{}{
		"plan_id": planID,
		"step":    stepNr,
		"skill":   skill,
	})
}

// StepComplete logs the completion of a plan step.
func (l *Logger) StepComplete(planID string, stepNr int, skill, status string, duration time.Duration) {
	l.Info("step_complete", map[string]interface{}{
		"plan_id":  planID,
		"step":     stepNr,
		"skill":    skill,
		"status":   status,
		"duration": duration.String(),
	})
}

// LLMCall logs a model invocation.
func (l *Logger) LLMCall(purpose, model string, attempt int) {
	l.Debug("llm_call", map[string]interface{}{
		"purpose": purpose,
		"model":   model,
		"attempt": attempt,
	})
}

// LLMResult logs the outcome of a model invocation.
func (l *Logger) LLMResult(purpose string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"purpose":  purpose,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("llm_error", fields)
	} else {
		l.Debug("llm_result", fields)
	}
}

// SkillCall logs a subprocess skill invocation.
// Parameters are not logged to avoid leaking user content.
func (l *Logger) SkillCall(skill, command string) {
	l.Info("skill_call", map[string]interface{}{
		"skill":   skill,
		"command": command,
	})
}

// SkillResult logs a subprocess skill result.
func (l *Logger) SkillResult(skill, command string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"skill":    skill,
		"command":  command,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("skill_error", fields)
	} else {
		l.Debug("skill_result", fields)
	}
}

// RetryAttempt logs a retry of a transient failure.
func (l *Logger) RetryAttempt(operation string, attempt int, wait time.Duration, err error) {
	l.Warn("retry", map[string]interface{}{
		"operation": operation,
		"attempt":   attempt,
		"wait":      wait.String(),
		"error":     err.Error(),
	})
}

// RunStart logs the start of a query run.
func (l *Logger) RunStart(mode, query string) {
	l.Info("run_start", map[string]interface{}{
		"mode":      mode,
		"query_len": len(query),
	})
}

// RunComplete logs the completion of a query run.
func (l *Logger) RunComplete(mode string, duration time.Duration, llmCalls int, status string) {
	l.Info("run_complete", map[string]interface{}{
		"mode":      mode,
		"duration":  duration.String(),
		"llm_calls": llmCalls,
		"status":    status,
	})
}
