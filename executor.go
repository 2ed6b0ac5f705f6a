package resilinet

//
// Cross-context execution
//

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/vishvananda/netns"
)

// Result is the single outcome of a [Job]: success with a value, or
// failure with a reason. The [Executor] produces exactly one Result per
// dispatched job, even when the job panics.
type Result struct {
	// Value is the job's return value on success.
	Value any

	// Err is the failure reason, nil on success.
	Err error
}

// Failed returns whether this is a failure result.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Job is a unit of work executed inside a target network namespace.
//
// Jobs that need to tell their coordinator when they are actually
// operational (e.g. a capture that must be listening before any
// stimulus is sent) call ready exactly when that point is reached;
// calling ready more than once is harmless. Jobs with no readiness
// notion may ignore it.
type Job func(ready func()) (any, error)

// PendingJob is a dispatched [Job]. The zero value is invalid; only the
// [Executor] creates PendingJob values.
type PendingJob struct {
	// ready is closed when the job signals readiness.
	ready chan struct{}

	// readyOnce makes the readiness signal one-shot.
	readyOnce sync.Once

	// done receives the single job result.
	done chan Result
}

// Ready returns a channel that is closed once the job has signaled that
// it is operational.
func (pj *PendingJob) Ready() <-chan struct{} {
	return pj.ready
}

// Done returns a channel that receives the job's single [Result].
func (pj *PendingJob) Done() <-chan Result {
	return pj.done
}

// signalReady is the one-shot ready callback handed to the job.
func (pj *PendingJob) signalReady() {
	pj.readyOnce.Do(func() {
		close(pj.ready)
	})
}

// JobRunner dispatches jobs into network namespaces. [Executor] is the
// real implementation; the validator tests substitute fakes.
type JobRunner interface {
	// Submit dispatches a job into a namespace and returns a handle to
	// await its readiness and result.
	Submit(namespace string, job Job) (*PendingJob, error)

	// Run dispatches a job and waits for its result.
	Run(namespace string, job Job) Result
}

// Executor runs jobs inside target network namespaces.
//
// The active network namespace is an attribute of the OS-level thread,
// so switching it on a thread shared with other goroutines would leak
// the namespace into unrelated code. The Executor therefore runs every
// job on a freshly spawned goroutine locked to its OS-level thread; the
// goroutine exits while still locked, which makes the Go runtime discard
// the contaminated thread instead of reusing it. This mirrors how the
// namespace-entering helpers in test harnesses throw threads away after
// switching namespaces.
//
// The Executor does not cancel a job in flight; callers may only bound
// how long they wait for the result.
type Executor struct {
	// logger is the logger to use.
	logger Logger
}

var _ JobRunner = &Executor{}

// NewExecutor creates an [Executor].
func NewExecutor(logger Logger) *Executor {
	return &Executor{logger: logger}
}

// Submit implements JobRunner. It fails fast with [ErrResourceNotFound],
// without spawning anything, when the target namespace does not exist.
func (x *Executor) Submit(namespace string, job Job) (*PendingJob, error) {
	nsh, err := netns.GetFromName(namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: namespace %s: %v", ErrResourceNotFound, namespace, err)
	}
	pj := &PendingJob{
		ready:     make(chan struct{}),
		readyOnce: sync.Once{},
		done:      make(chan Result, 1),
	}
	go func() {
		defer nsh.Close()
		pj.done <- x.execute(namespace, nsh, job, pj.signalReady)
	}()
	return pj, nil
}

// Run implements JobRunner.
func (x *Executor) Run(namespace string, job Job) Result {
	pj, err := x.Submit(namespace, job)
	if err != nil {
		return Result{Err: err}
	}
	return <-pj.Done()
}

// execute performs one namespace-entry + job + result cycle on the
// calling goroutine. It always returns a result: a panicking job is
// converted into a failure, never silently dropped.
func (x *Executor) execute(namespace string, nsh netns.NsHandle, job Job, ready func()) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Warnf("executor: job in %s panicked: %v", namespace, r)
			result = Result{Err: fmt.Errorf("%w: job in %s panicked: %v",
				ErrExecutionFailure, namespace, r)}
		}
	}()

	// Deliberately never unlocked: the goroutine exits while locked and
	// the runtime destroys the namespace-switched thread.
	runtime.LockOSThread()

	if err := netns.Set(nsh); err != nil {
		return Result{Err: fmt.Errorf("%w: enter namespace %s: %v",
			ErrExecutionFailure, namespace, classifyErrno(err))}
	}
	x.logger.Debugf("executor: entered namespace %s", namespace)

	value, err := job(ready)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: job in %s: %v", ErrExecutionFailure, namespace, err)}
	}
	return Result{Value: value}
}
