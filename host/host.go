// Package host is the adapter between a host application and the draw
// pipeline. It owns the edit lock shared by the frame loop and background
// authoring jobs, and turns edits into the matching pipeline updates.
package host

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/meadow/authoring"
	"github.com/aukilabs/meadow/gpu"
	"github.com/aukilabs/meadow/models"
	"github.com/aukilabs/meadow/pipeline"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

type Config struct {
	FrameDuration time.Duration
	Pipeline      pipeline.Config
}

func DefaultConfig() Config {
	return Config{
		FrameDuration: time.Second / 60,
		Pipeline:      pipeline.DefaultConfig(),
	}
}

// CameraFunc returns the camera of a frame.
type CameraFunc func(frame uint64) models.Camera

type Adapter struct {
	SessionUUID string

	mutex    sync.Mutex
	store    *models.InstanceStore
	pipeline *pipeline.Pipeline
	session  *authoring.Session
	queue    *authoring.Queue

	frameDuration  time.Duration
	frames         uint64
	startFrameOnce sync.Once
	closeFrameChan chan struct{}
	frameHandlerID uint64
	frameHandlers  map[uint64]func(pipeline.FrameStats)
	frameMutex     sync.RWMutex

	closeOnce sync.Once
}

func New(config Config, device gpu.Device, renderer gpu.Renderer, resources gpu.Resources, store *models.InstanceStore) *Adapter {
	if config.FrameDuration <= 0 {
		config.FrameDuration = DefaultConfig().FrameDuration
	}

	a := &Adapter{
		SessionUUID:    uuid.New().String(),
		store:          store,
		pipeline:       pipeline.New(config.Pipeline, device, renderer, resources, store),
		session:        authoring.NewSession(store, nil),
		frameDuration:  config.FrameDuration,
		closeFrameChan: make(chan struct{}, 1),
		frameHandlers:  make(map[uint64]func(pipeline.FrameStats)),
	}
	a.queue = authoring.NewQueue(&a.mutex)
	return a
}

func (a *Adapter) logEntry() logs.Entry {
	return logs.WithTag("session_uuid", a.SessionUUID)
}

// Init runs a full pipeline reset.
func (a *Adapter) Init() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.reset()
}

func (a *Adapter) reset() error {
	a.pipeline.Hide(a.session.Pending())
	if err := a.pipeline.Reset(); err != nil {
		return errors.New("initializing pipeline failed").
			WithTag("session_uuid", a.SessionUUID).
			Wrap(err)
	}

	if tree := a.pipeline.Tree(); tree != nil {
		a.session.SetIndex(tree)
	} else {
		a.session.SetIndex(nil)
	}

	a.logEntry().
		WithTag("instances", a.store.Len()).
		Info("host initialized")
	return nil
}

// OnFrame draws a frame and notifies the frame handlers.
func (a *Adapter) OnFrame(cam models.Camera) pipeline.FrameStats {
	a.mutex.Lock()
	stats := a.pipeline.OnFrame(cam)
	a.frames++
	a.mutex.Unlock()

	a.frameMutex.RLock()
	for _, h := range a.frameHandlers {
		h(stats)
	}
	a.frameMutex.RUnlock()
	return stats
}

// HandleFrame registers a handler called after each frame.
func (a *Adapter) HandleFrame(h func(pipeline.FrameStats)) (cancel func()) {
	a.frameMutex.Lock()
	defer a.frameMutex.Unlock()

	a.frameHandlerID++
	id := a.frameHandlerID
	a.frameHandlers[id] = h

	return func() {
		a.frameMutex.Lock()
		defer a.frameMutex.Unlock()

		delete(a.frameHandlers, id)
	}
}

// Run draws frames at the configured frame duration until the context is
// done or the adapter is shut down. It can only be started once.
func (a *Adapter) Run(ctx context.Context, camera CameraFunc) {
	a.startFrameOnce.Do(func() {
		ticker := time.NewTicker(a.frameDuration)
		defer ticker.Stop()

		var frame uint64
		for {
			select {
			case <-ctx.Done():
				return

			case <-a.closeFrameChan:
				return

			case <-ticker.C:
				a.OnFrame(camera(frame))
				frame++
			}
		}
	})
}

// Shutdown waits for queued jobs, stops the frame loop and disposes the
// pipeline.
func (a *Adapter) Shutdown() {
	a.closeOnce.Do(func() {
		a.queue.Close()
		a.closeFrameChan <- struct{}{}

		a.mutex.Lock()
		defer a.mutex.Unlock()

		a.session.Deactivate()
		a.pipeline.Shutdown()
		a.logEntry().
			WithTag("frames", a.frames).
			Info("host shut down")
	})
}

// Locker returns the edit lock.
func (a *Adapter) Locker() sync.Locker {
	return &a.mutex
}

// Do runs fn while holding the edit lock.
func (a *Adapter) Do(fn func(s *authoring.Session, p *pipeline.Pipeline)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	fn(a.session, a.pipeline)
}

func (a *Adapter) Stats() pipeline.Stats {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.pipeline.Stats()
}

// Ready reports whether the pipeline draws.
func (a *Adapter) Ready() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.pipeline.State() == pipeline.Ready
}

// Activate starts an authoring session with the given brush size.
func (a *Adapter) Activate(brushSize float32) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.session.Activate(brushSize)
}

func (a *Adapter) Deactivate() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.session.Deactivate()
}

// Erase erases instances around center. They stop being drawn on the next
// frame and are removed from the store on Commit.
func (a *Adapter) Erase(center mgl32.Vec3, radius float32) []uint32 {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	erased := a.session.Erase(center, radius)
	if len(erased) != 0 {
		a.pipeline.Hide(a.session.Pending())
	}
	return erased
}

// Paint adds instances and draws them right away through a fast reset.
func (a *Adapter) Paint(instances ...models.Instance) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	e := a.beginEdit()
	a.session.Paint(instances...)
	return a.endEdit(e)
}

// edit is the session state an edit started from.
type edit struct {
	instances int
	pending   int
}

func (a *Adapter) beginEdit() edit {
	return edit{
		instances: a.store.Len(),
		pending:   a.store.Len() - a.session.Live(),
	}
}

// endEdit brings a ready pipeline up to date with the session: erased
// instances are hidden and painted ones trigger a fast reset. Pipelines that
// are not ready pick the changes up on their next reset.
func (a *Adapter) endEdit(e edit) error {
	if a.pipeline.State() != pipeline.Ready {
		return nil
	}

	if a.store.Len()-a.session.Live() != e.pending {
		a.pipeline.Hide(a.session.Pending())
	}

	if a.store.Len() != e.instances {
		if err := a.pipeline.FastReset(); err != nil {
			return errors.New("drawing painted instances failed").
				WithTag("session_uuid", a.SessionUUID).
				Wrap(err)
		}
	}
	return nil
}

// Modify edits instances around center and uploads the modified range.
func (a *Adapter) Modify(center mgl32.Vec3, radius float32, fn func(models.Instance) models.Instance) int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	start, count := a.session.Modify(center, radius, fn)
	if count == 0 {
		return 0
	}

	a.pipeline.UpdateRange(start, count)
	a.pipeline.Invalidate()
	return count
}

// Commit applies pending deletions and runs a full pipeline reset, which
// also restores culling after fast resets.
func (a *Adapter) Commit() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.session.Commit()
	return a.reset()
}

// Submit queues a background authoring job. Its batches hold the edit lock
// and each one is reflected in the pipeline like a direct edit.
func (a *Adapter) Submit(ctx context.Context, job func(s *authoring.Session) authoring.Job) *authoring.Task {
	a.mutex.Lock()
	j := job(a.session)
	a.mutex.Unlock()

	return a.queue.Submit(ctx, &syncedJob{
		Job:     j,
		adapter: a,
	})
}

// syncedJob updates the pipeline after each batch of a job. Batches run with
// the edit lock held.
type syncedJob struct {
	authoring.Job
	adapter *Adapter
}

func (j *syncedJob) RunBatch(batch int) error {
	e := j.adapter.beginEdit()
	err := j.Job.RunBatch(batch)
	if syncErr := j.adapter.endEdit(e); err == nil {
		err = syncErr
	}
	return err
}
