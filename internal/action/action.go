// Package action implements the step pipeline that serves one S3 call.
//
// An action is an ordered list of tasks. A task either issues an asynchronous
// call whose continuation later calls Next, Done or Abort, or makes one of
// those calls itself. Completed and aborted actions both end in the single
// responder, which is the only place that talks to the client.
//
// All methods must be called from the request's event loop.
package action

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/piwi3910/s3gateway/internal/metrics"
	"github.com/piwi3910/s3gateway/pkg/s3errors"
)

// State is the lifecycle state of an action.
type State int32

// Action states.
const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
	StateAborted
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Request is what an action needs from the request it serves.
type Request interface {
	Logger() *zerolog.Logger
	SendResponse(status int, header http.Header, body []byte) error
	SendError(e s3errors.S3Error) error
}

// Task is one step of an action.
type Task struct {
	Name string
	Fn   func()
}

type jump int

const (
	jumpNone jump = iota
	jumpNext
	jumpDone
	jumpAbort
)

// Base drives the tasks of an action. Concrete actions embed it, register
// their tasks with AddTask and their terminal step with SetResponder.
type Base struct {
	start     time.Time
	req       Request
	responder func()
	err       *s3errors.S3Error
	log       zerolog.Logger
	name      string
	tasks     []Task
	step      int
	pending   jump
	steps     int
	running   bool
	state     atomic.Int32
	responded atomic.Bool
}

// New creates an action named name serving req.
func New(name string, req Request) *Base {
	b := &Base{
		name: name,
		req:  req,
		step: -1,
		log:  req.Logger().With().Str("action", name).Logger(),
	}
	b.responder = b.defaultResponse

	return b
}

// Name returns the action name.
func (b *Base) Name() string {
	return b.name
}

// Logger returns the action-scoped logger.
func (b *Base) Logger() *zerolog.Logger {
	return &b.log
}

// Request returns the request the action serves.
func (b *Base) Request() Request {
	return b.req
}

// AddTask appends a task. Tasks can only be added before Start.
func (b *Base) AddTask(name string, fn func()) {
	if b.State() != StateNotStarted {
		b.log.Error().Str("task", name).Msg("Task added to a started action")
		return
	}

	b.tasks = append(b.tasks, Task{Name: name, Fn: fn})
}

// Tasks returns the names of the registered tasks in order.
func (b *Base) Tasks() []string {
	names := make([]string, len(b.tasks))
	for i, t := range b.tasks {
		names[i] = t.Name
	}

	return names
}

// SetResponder installs the terminal step. It runs exactly once, after the
// action completed or aborted, and must send the response.
func (b *Base) SetResponder(fn func()) {
	b.responder = fn
}

// Start runs the first task. An action without tasks responds immediately.
func (b *Base) Start() {
	if !b.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		b.log.Warn().Str("state", b.State().String()).Msg("Action started twice")
		return
	}

	b.start = time.Now()
	b.log.Debug().Int("tasks", len(b.tasks)).Msg("Action started")
	b.schedule(jumpNext)
}

// Next advances to the following task, or to the responder after the last.
func (b *Base) Next() {
	b.schedule(jumpNext)
}

// Done skips the remaining tasks and completes the action.
func (b *Base) Done() {
	b.schedule(jumpDone)
}

// Abort jumps to the responder with err as the outcome.
func (b *Base) Abort(err s3errors.S3Error) {
	if b.State() != StateRunning {
		b.log.Warn().Str("code", err.Code).Msg("Abort ignored, action is not running")
		return
	}

	b.err = &err
	b.schedule(jumpAbort)
}

// State returns the current state.
func (b *Base) State() State {
	return State(b.state.Load())
}

// Err returns the abort error, if any.
func (b *Base) Err() (s3errors.S3Error, bool) {
	if b.err == nil {
		return s3errors.S3Error{}, false
	}

	return *b.err, true
}

// Step returns the index of the current task, -1 before Start.
func (b *Base) Step() int {
	return b.step
}

// IsComplete reports whether the responder has run.
func (b *Base) IsComplete() bool {
	return b.responded.Load()
}

// schedule records a transition. When called from inside a task it is
// applied once the task returns, so a task never re-enters the pipeline.
func (b *Base) schedule(j jump) {
	if b.State() != StateRunning {
		b.log.Warn().Str("state", b.State().String()).Msg("Transition ignored, action is not running")
		return
	}

	switch {
	case b.pending == jumpNone:
		b.pending = j
	case j == jumpAbort:
		b.pending = j
	default:
		b.log.Error().Int("step", b.step).Msg("Task requested more than one transition")
		return
	}

	if !b.running {
		b.run()
	}
}

func (b *Base) run() {
	b.running = true
	defer func() {
		b.running = false
	}()

	for b.pending != jumpNone {
		j := b.pending
		b.pending = jumpNone

		switch j {
		case jumpNext:
			b.step++
			if b.step >= len(b.tasks) {
				b.finish(StateCompleted)
				return
			}

			b.invoke(b.tasks[b.step])
		case jumpDone:
			b.finish(StateCompleted)
			return
		case jumpAbort:
			b.finish(StateAborted)
			return
		}
	}
}

func (b *Base) invoke(t Task) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("task", t.Name).
				Interface("panic", r).
				Msg("Recovered panic in action task")

			e := s3errors.ErrInternalError
			b.err = &e
			b.pending = jumpAbort
		}
	}()

	b.steps++
	b.log.Debug().Str("task", t.Name).Int("step", b.step).Msg("Running task")
	t.Fn()
}

func (b *Base) finish(state State) {
	b.state.Store(int32(state))
	b.pending = jumpNone

	metrics.RecordActionOutcome(b.name, state.String(), b.steps)

	ev := b.log.Debug()
	if e, ok := b.Err(); ok {
		ev = ev.Str("code", e.Code)
		if e.StatusCode >= http.StatusInternalServerError {
			ev = b.log.Error().Str("code", e.Code)
		}
	}

	ev.Str("state", state.String()).
		Int("steps", b.steps).
		Dur("elapsed", time.Since(b.start)).
		Msg("Action finished")

	b.respond()
}

func (b *Base) respond() {
	if !b.responded.CompareAndSwap(false, true) {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Msg("Recovered panic in action responder")
			_ = b.req.SendError(s3errors.ErrInternalError)
		}
	}()

	b.responder()
}

func (b *Base) defaultResponse() {
	if e, ok := b.Err(); ok {
		b.SendError(e)
		return
	}

	b.SendResponse(http.StatusOK, nil, nil)
}

// SendResponse writes the response through the request, logging a failure.
func (b *Base) SendResponse(status int, header http.Header, body []byte) {
	err := b.req.SendResponse(status, header, body)
	if err != nil {
		b.log.Debug().Err(err).Int("status", status).Msg("Response not sent")
	}
}

// SendError writes e through the request.
func (b *Base) SendError(e s3errors.S3Error) {
	err := b.req.SendError(e)
	if err != nil {
		b.log.Debug().Err(err).Str("code", e.Code).Msg("Error response not sent")
	}
}

// String describes the action for logs and test failures.
func (b *Base) String() string {
	return fmt.Sprintf("%s[%s step=%d/%d]", b.name, b.State(), b.step, len(b.tasks))
}
