package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"vidfetch/internal"
	"vidfetch/utils"
)

// maxBaseBytes keeps on-disk names well below common filesystem limits
const maxBaseBytes = 160

var (
	errCancelledByClient = errors.New("cancelled by client")
	errShuttingDown      = errors.New("server shutting down")
)

// Options configures an Orchestrator
type Options struct {
	StorageDir   string
	Retention    time.Duration
	FetchTimeout time.Duration
	MaxActive    int
}

// Orchestrator starts download sessions and drives each one to a terminal
// state on its own goroutine.
type Orchestrator struct {
	resolver  internal.Resolver
	progress  *ProgressStore
	registry  *ArtifactRegistry
	validator *utils.URLValidator
	fileOps   *utils.FileOperations
	opts      Options
	slots     chan struct{}
	now       func() time.Time

	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool
	wg     sync.WaitGroup
}

// Task is a running download. Done is closed once the session reached a
// terminal state and its slot was released.
type Task struct {
	Session internal.Session

	cancel context.CancelCauseFunc
	done   chan struct{}
	err    error
}

// Done returns a channel closed when the task finishes
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the failure of a finished task, nil on success
func (t *Task) Err() error {
	<-t.done
	return t.err
}

// NewOrchestrator creates the storage directory and returns an orchestrator
func NewOrchestrator(resolver internal.Resolver, progress *ProgressStore, registry *ArtifactRegistry, opts Options) (*Orchestrator, error) {
	if opts.MaxActive < 1 {
		opts.MaxActive = 1
	}
	if opts.Retention <= 0 {
		opts.Retention = 30 * time.Minute
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Minute
	}

	dir, err := filepath.Abs(opts.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("invalid storage dir: %w", err)
	}
	opts.StorageDir = dir

	fileOps := utils.NewFileOperations()
	if err := fileOps.EnsureDir(dir); err != nil {
		return nil, internal.NewFetchError(internal.KindStorage, "cannot create storage directory").
			WithContext("dir", dir).
			WithCause(err)
	}

	return &Orchestrator{
		resolver:  resolver,
		progress:  progress,
		registry:  registry,
		validator: utils.NewURLValidator(),
		fileOps:   fileOps,
		opts:      opts,
		slots:     make(chan struct{}, opts.MaxActive),
		now:       time.Now,
		tasks:     make(map[string]*Task),
	}, nil
}

// StorageDir returns the absolute directory artifacts are written to
func (o *Orchestrator) StorageDir() string {
	return o.opts.StorageDir
}

// Start validates the request, records the initial progress entry and
// launches the download in the background. It never waits on the network.
func (o *Orchestrator) Start(rawURL, format, title string) (string, error) {
	if err := o.validator.ValidateURL(rawURL); err != nil {
		return "", err
	}
	selector, err := internal.ParseSelector(format)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return "", internal.NewOrchestrationError("orchestrator is shut down")
	}

	select {
	case o.slots <- struct{}{}:
	default:
		return "", internal.NewOrchestrationError("too many active downloads").
			WithContext("limit", o.opts.MaxActive)
	}

	sess := internal.Session{
		ID:        uuid.NewString(),
		URL:       rawURL,
		Selector:  selector,
		Title:     title,
		SafeTitle: SanitizeFilename(title),
		CreatedAt: o.now(),
	}

	if err := o.progress.Set(sess.ID, internal.ProgressState{
		Progress: 0,
		Status:   "Initializing...",
		State:    internal.StateRunning,
	}); err != nil {
		<-o.slots
		return "", internal.NewOrchestrationError("cannot initialize progress").WithCause(err)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	task := &Task{Session: sess, cancel: cancel, done: make(chan struct{})}
	o.tasks[sess.ID] = task
	o.wg.Add(1)

	go o.run(ctx, task)

	internal.ForSession(sess.ID).Info("started: %s (format %s)", rawURL, selector)
	return sess.ID, nil
}

func (o *Orchestrator) run(ctx context.Context, task *Task) {
	id := task.Session.ID
	defer func() {
		task.cancel(nil)
		o.mu.Lock()
		delete(o.tasks, id)
		o.mu.Unlock()
		<-o.slots
		close(task.done)
		o.wg.Done()
	}()

	artifact, err := o.safeExecute(ctx, task)
	if err != nil {
		task.err = err
		o.fail(task, err)
		return
	}

	if err := o.progress.Set(id, internal.ProgressState{
		Progress: 100,
		Status:   "Download completed!",
		State:    internal.StateCompleted,
	}); err != nil {
		internal.ForSession(id).Warn("could not record completion: %v", err)
	}
	internal.ForSession(id).Info("completed: %s (%s)", artifact.Filename, utils.FormatBytes(artifact.Size))
}

// safeExecute turns a panic inside the download into an ordinary failure
func (o *Orchestrator) safeExecute(ctx context.Context, task *Task) (artifact *internal.Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			internal.ForSession(task.Session.ID).Error("panic: %v\n%s", r, debug.Stack())
			artifact = nil
			err = internal.NewOrchestrationError(fmt.Sprintf("internal error: %v", r))
		}
	}()
	return o.execute(ctx, task)
}

func (o *Orchestrator) execute(ctx context.Context, task *Task) (*internal.Artifact, error) {
	sess := task.Session
	tracker := newProgressTracker(o.progress, sess.ID)
	tracker.status("Resolving source...")

	fetchCtx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
	defer cancel()

	result, err := o.resolver.Fetch(fetchCtx, internal.FetchRequest{
		URL:      sess.URL,
		Selector: sess.Selector,
		Dir:      o.opts.StorageDir,
		BaseName: o.baseName(sess),
	}, tracker.observe)
	if err != nil {
		return nil, o.classify(fetchCtx, err)
	}
	if fetchCtx.Err() != nil {
		return nil, o.classify(fetchCtx, fetchCtx.Err())
	}

	tracker.set(95, "Processing...")

	info, err := os.Stat(result.Path)
	if err != nil {
		return nil, internal.NewFetchError(internal.KindStorage, "downloaded file is missing").
			WithContext("path", result.Path).
			WithCause(err)
	}

	displayTitle := sess.Title
	safeTitle := sess.SafeTitle
	if displayTitle == "" && result.Title != "" {
		displayTitle = result.Title
		safeTitle = SanitizeFilename(result.Title)
	}
	if displayTitle == "" {
		displayTitle = safeTitle
	}

	kind := result.Kind
	if kind == "" {
		kind = internal.KindForSelector(sess.Selector)
	}

	created := o.now()
	artifact := internal.Artifact{
		SessionID: sess.ID,
		Path:      result.Path,
		Filename:  safeTitle + filepath.Ext(result.Path),
		Title:     displayTitle,
		Size:      info.Size(),
		Kind:      kind,
		CreatedAt: created,
		ExpiresAt: created.Add(o.opts.Retention),
	}
	if err := o.registry.Put(sess.ID, artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// classify maps an error raised during the fetch onto a fetch error kind,
// giving the task's own context the final word on timeouts and cancellation.
func (o *Orchestrator) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return internal.NewFetchError(internal.KindTimeout,
				fmt.Sprintf("download timed out after %s", o.opts.FetchTimeout)).WithCause(err)
		}
		cause := context.Cause(ctx)
		if cause == nil || errors.Is(cause, context.Canceled) {
			cause = errCancelledByClient
		}
		return internal.NewFetchError(internal.KindCancelled, "download cancelled").WithCause(cause)
	}
	if _, ok := internal.AsMediaError(err); ok {
		return err
	}
	return internal.NewFetchError(internal.KindNetwork, "download failed").WithCause(err)
}

func (o *Orchestrator) fail(task *Task, err error) {
	id := task.Session.ID

	if removed, cleanupErr := o.fileOps.RemoveMatching(o.opts.StorageDir, o.baseName(task.Session)); cleanupErr != nil {
		internal.ForSession(id).Error("failed to remove partial files: %v", cleanupErr)
	} else if removed > 0 {
		internal.ForSession(id).Debug("removed %d partial file(s)", removed)
	}

	if me, ok := internal.AsMediaError(err); ok {
		internal.LogMediaError(me.WithContext("session", id))
	} else {
		internal.ForSession(id).Error("failed: %v", err)
	}

	if setErr := o.progress.Set(id, internal.ProgressState{
		Progress: lastProgress(o.progress, id),
		Status:   "Download failed",
		State:    internal.StateFailed,
		Error:    err.Error(),
	}); setErr != nil {
		internal.ForSession(id).Warn("could not record failure: %v", setErr)
	}
}

// lastProgress returns the last recorded percentage for id
func lastProgress(store *ProgressStore, id string) int {
	state, _ := store.Get(id)
	return state.Progress
}

// baseName is the per-session file name stem inside the storage directory
func (o *Orchestrator) baseName(sess internal.Session) string {
	return truncateBytes(sess.SafeTitle, maxBaseBytes) + "_" + sess.ID
}

func truncateBytes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Cancel stops a running session. The session ends failed with a
// cancelled-kind error once its task has cleaned up.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	task, ok := o.tasks[id]
	o.mu.Unlock()

	if !ok {
		return internal.NewNotFoundError("Download not found or already finished")
	}
	task.cancel(errCancelledByClient)
	internal.ForSession(id).Info("cancellation requested")
	return nil
}

// Wait blocks until session id is no longer running or ctx is done
func (o *Orchestrator) Wait(ctx context.Context, id string) error {
	o.mu.Lock()
	task, ok := o.tasks[id]
	o.mu.Unlock()

	if !ok {
		if _, known := o.progress.Get(id); known {
			return nil
		}
		return internal.NewNotFoundError("Download not found")
	}

	select {
	case <-task.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of running sessions
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tasks)
}

// Close refuses new sessions, cancels running ones and waits for them
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, task := range o.tasks {
		task.cancel(errShuttingDown)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
