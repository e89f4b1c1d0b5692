package pipeline

import "context"

// Task is the handle of one background processing run.
type Task struct {
	JobID    string
	LessonID int64

	done chan struct{}
	err  error
}

func newTask(jobID string, lessonID int64) *Task {
	return &Task{JobID: jobID, LessonID: lessonID, done: make(chan struct{})}
}

// Done is closed when the run has finished and its final state is stored.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the run finishes or ctx ends. It returns the error the
// run failed with, or nil if the job completed.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the run's error once Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
