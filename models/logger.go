package models

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogLine is one NDJSON entry in a workflow log file. Data lines carry
// command output; control lines mark step transitions.
type LogLine struct {
	Kind    string     `json:"kind"` // "data" or "control"
	StepIdx int        `json:"step_idx"`
	Time    time.Time  `json:"time"`
	Stream  string     `json:"stream,omitempty"` // stdout/stderr, data lines only
	Content string     `json:"content,omitempty"`
	Step    string     `json:"step,omitempty"` // step name, control lines only
	Status  StepStatus `json:"status,omitempty"`
}

type WorkflowLogger struct {
	file    *os.File
	encoder *json.Encoder
}

func NewWorkflowLogger(baseDir string, wid WorkflowId) (*WorkflowLogger, error) {
	path := LogFilePath(baseDir, wid)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}

	return &WorkflowLogger{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

func LogFilePath(baseDir string, wid WorkflowId) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s.log", wid.String()))
}

func (l *WorkflowLogger) Close() error {
	return l.file.Close()
}

func (l *WorkflowLogger) DataWriter(idx int, stream string) io.Writer {
	return &dataWriter{
		logger: l,
		idx:    idx,
		stream: stream,
	}
}

// Control records a step transition.
func (l *WorkflowLogger) Control(idx int, step Step, status StepStatus) error {
	return l.encoder.Encode(LogLine{
		Kind:    "control",
		StepIdx: idx,
		Time:    time.Now(),
		Step:    step.Name(),
		Status:  status,
	})
}

type dataWriter struct {
	logger *WorkflowLogger
	idx    int
	stream string
}

func (w *dataWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\r\n")
	entry := LogLine{
		Kind:    "data",
		StepIdx: w.idx,
		Time:    time.Now(),
		Stream:  w.stream,
		Content: line,
	}
	if err := w.logger.encoder.Encode(entry); err != nil {
		return 0, err
	}
	return len(p), nil
}
