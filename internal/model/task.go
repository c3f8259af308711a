package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownTask = errors.New("unknown task")
	// ErrTaskMismatch is returned when an operation does not serve the task
	// the model was built for.
	ErrTaskMismatch = errors.New("operation not available for this task")
)

// Task selects the conditioning input.
type Task string

const (
	TaskIm2SVG   Task = "im2svg"
	TaskText2SVG Task = "text2svg"
)

func ParseTask(s string) (Task, error) {
	switch t := Task(strings.ToLower(strings.TrimSpace(s))); t {
	case TaskIm2SVG, TaskText2SVG:
		return t, nil
	case "":
		return TaskIm2SVG, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownTask, s)
}
