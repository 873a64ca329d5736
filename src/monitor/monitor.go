// Package monitor triggers Jenkins builds and follows them to completion,
// producing a snapshot per poll.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pipeline-relay/src/admission"
	"pipeline-relay/src/broker"
	"pipeline-relay/src/contracts"
	"pipeline-relay/src/jenkins"
	"pipeline-relay/src/logger"
	"pipeline-relay/src/snapshot"
)

const (
	DefaultQueueInterval = time.Second
	DefaultPollInterval  = 5 * time.Second
)

var (
	// ErrQueueItemCancelled is returned when Jenkins drops a queued build
	// before it starts.
	ErrQueueItemCancelled = errors.New("queue item was cancelled")

	// ErrSequenceConsumed is yielded when a snapshot sequence is ranged
	// over a second time.
	ErrSequenceConsumed = errors.New("snapshot sequence already consumed")
)

// JenkinsAPI is the part of the Jenkins client the monitor needs.
type JenkinsAPI interface {
	TriggerBuild(ctx context.Context, job string, params map[string]string) (int64, error)
	QueueItem(ctx context.Context, id int64) (*jenkins.QueueItem, error)
	Describe(ctx context.Context, job string, number int) ([]byte, error)
}

// TriggerError is a failure to queue a build.
type TriggerError struct {
	Job string
	Err error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("failed to trigger %s: %v", e.Job, e.Err)
}

func (e *TriggerError) Unwrap() error {
	return e.Err
}

// PollError is a failed queue or build poll. Polling errors always end the
// sequence; they are never retried here.
type PollError struct {
	Job     string
	Build   int
	QueueID int64
	Err     error
}

func (e *PollError) Error() string {
	if e.Build == 0 {
		return fmt.Sprintf("failed to poll queue item %d of %s: %v", e.QueueID, e.Job, e.Err)
	}
	return fmt.Sprintf("failed to poll %s #%d: %v", e.Job, e.Build, e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}

// StatusCode returns the upstream HTTP status, or 0 when the poll failed
// for another reason.
func (e *PollError) StatusCode() int {
	var httpErr *jenkins.HTTPError
	if errors.As(e.Err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// Monitor follows builds on one Jenkins instance.
type Monitor struct {
	api           JenkinsAPI
	queueInterval time.Duration
	pollInterval  time.Duration
	events        broker.Broker
	log           logger.Logger
	sleep         admission.Sleeper
	now           func() time.Time

	limiter *admission.RateLimiter
	slots   *admission.Semaphore
}

// Option customizes a Monitor.
type Option func(*Monitor)

func WithQueueInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.queueInterval = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithBroker publishes every snapshot to contracts.TopicBuildSnapshots.
func WithBroker(b broker.Broker) Option {
	return func(m *Monitor) { m.events = b }
}

func WithLogger(log logger.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// WithSleeper replaces the interval wait, for tests.
func WithSleeper(s admission.Sleeper) Option {
	return func(m *Monitor) { m.sleep = s }
}

// WithAdmission admits every build operation through the process-wide
// rate limiter and concurrency bound shared with queries. A monitored run
// holds its slot from trigger until the last poll.
func WithAdmission(l *admission.RateLimiter, s *admission.Semaphore) Option {
	return func(m *Monitor) {
		m.limiter = l
		m.slots = s
	}
}

// New creates a Monitor.
func New(api JenkinsAPI, opts ...Option) *Monitor {
	m := &Monitor{
		api:           api,
		queueInterval: DefaultQueueInterval,
		pollInterval:  DefaultPollInterval,
		log:           logger.NewSilentLogger(),
		sleep:         admission.SleepContext,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Trigger queues a build of job and returns its queue item id.
func (m *Monitor) Trigger(ctx context.Context, job string, params map[string]string) (int64, error) {
	id, err := m.api.TriggerBuild(ctx, job, params)
	if err != nil {
		return 0, &TriggerError{Job: job, Err: err}
	}
	m.log.Info("[Monitor] triggered %s, queue item %d", job, id)
	return id, nil
}

// AwaitQueued polls the queue item once per queue interval, starting one
// interval after the call, until Jenkins assigns a build number.
func (m *Monitor) AwaitQueued(ctx context.Context, job string, queueID int64) (snapshot.BuildIdentity, error) {
	for polls := 1; ; polls++ {
		if err := m.sleep(ctx, m.queueInterval); err != nil {
			return snapshot.BuildIdentity{}, err
		}

		item, err := m.api.QueueItem(ctx, queueID)
		if err != nil {
			return snapshot.BuildIdentity{}, &PollError{Job: job, QueueID: queueID, Err: err}
		}
		if item.Executable != nil {
			id := snapshot.BuildIdentity{JobName: job, BuildNumber: item.Executable.Number}
			m.log.Info("[Monitor] queue item %d started %s after %d polls", queueID, id, polls)
			return id, nil
		}
		if item.Cancelled {
			return snapshot.BuildIdentity{}, ErrQueueItemCancelled
		}
		m.log.Debug("[Monitor] queue item %d still waiting: %s", queueID, item.Why)
	}
}

// PollUntilComplete yields a snapshot per poll: the first immediately, then
// one per poll interval. The sequence ends after the first snapshot that is
// no longer building, or with a single error. It can be ranged over once.
func (m *Monitor) PollUntilComplete(ctx context.Context, id snapshot.BuildIdentity) iter.Seq2[snapshot.PipelineSnapshot, error] {
	var used atomic.Bool
	return func(yield func(snapshot.PipelineSnapshot, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(snapshot.PipelineSnapshot{}, ErrSequenceConsumed)
			return
		}
		err := m.admit(ctx, func(ctx context.Context) error {
			m.poll(ctx, id, uuid.NewString(), yield)
			return nil
		})
		if err != nil {
			yield(snapshot.PipelineSnapshot{}, err)
		}
	}
}

// Run triggers job, waits for it to leave the queue and then polls it like
// PollUntilComplete. It can be ranged over once.
func (m *Monitor) Run(ctx context.Context, job string, params map[string]string) iter.Seq2[snapshot.PipelineSnapshot, error] {
	var used atomic.Bool
	return func(yield func(snapshot.PipelineSnapshot, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(snapshot.PipelineSnapshot{}, ErrSequenceConsumed)
			return
		}

		err := m.admit(ctx, func(ctx context.Context) error {
			queueID, err := m.Trigger(ctx, job, params)
			if err != nil {
				return err
			}
			id, err := m.AwaitQueued(ctx, job, queueID)
			if err != nil {
				return err
			}
			m.poll(ctx, id, uuid.NewString(), yield)
			return nil
		})
		if err != nil {
			yield(snapshot.PipelineSnapshot{}, err)
		}
	}
}

// admit takes a rate-limit slot, then runs fn holding a concurrency slot.
// Polls inside fn are never retried.
func (m *Monitor) admit(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.limiter != nil {
		if err := m.limiter.Acquire(ctx); err != nil {
			return err
		}
	}
	if m.slots == nil {
		return fn(ctx)
	}
	return m.slots.Do(ctx, fn)
}

func (m *Monitor) poll(ctx context.Context, id snapshot.BuildIdentity, runID string, yield func(snapshot.PipelineSnapshot, error) bool) {
	for seq := 1; ; seq++ {
		if seq > 1 {
			if err := m.sleep(ctx, m.pollInterval); err != nil {
				yield(snapshot.PipelineSnapshot{}, err)
				return
			}
		} else if err := ctx.Err(); err != nil {
			yield(snapshot.PipelineSnapshot{}, err)
			return
		}

		snap, err := m.fetch(ctx, id)
		if err != nil {
			m.publish(ctx, runID, seq, snapshot.PipelineSnapshot{Build: id}, err)
			yield(snapshot.PipelineSnapshot{}, err)
			return
		}

		m.log.Debug("[Monitor] %s poll %d: %s", id, seq, snap.OverallStatus)
		m.publish(ctx, runID, seq, snap, nil)
		if !yield(snap, nil) || !snap.IsBuilding {
			return
		}
	}
}

// Snapshot describes a build once, without following it.
func (m *Monitor) Snapshot(ctx context.Context, id snapshot.BuildIdentity) (snapshot.PipelineSnapshot, error) {
	var snap snapshot.PipelineSnapshot
	err := m.admit(ctx, func(ctx context.Context) error {
		var err error
		snap, err = m.fetch(ctx, id)
		return err
	})
	return snap, err
}

func (m *Monitor) fetch(ctx context.Context, id snapshot.BuildIdentity) (snapshot.PipelineSnapshot, error) {
	raw, err := m.api.Describe(ctx, id.JobName, id.BuildNumber)
	if err != nil {
		return snapshot.PipelineSnapshot{}, &PollError{Job: id.JobName, Build: id.BuildNumber, Err: err}
	}
	snap, err := snapshot.Build(id, raw)
	if err != nil {
		return snapshot.PipelineSnapshot{}, &PollError{Job: id.JobName, Build: id.BuildNumber, Err: err}
	}
	return snap, nil
}

// publish is best effort: a broker outage must not stop the monitor.
func (m *Monitor) publish(ctx context.Context, runID string, seq int, snap snapshot.PipelineSnapshot, pollErr error) {
	if m.events == nil {
		return
	}

	ev := contracts.SnapshotEvent{
		RunID:     runID,
		Sequence:  seq,
		Snapshot:  snap,
		Final:     pollErr != nil || !snap.IsBuilding,
		Timestamp: m.now().UTC().Format(time.RFC3339),
	}
	if pollErr != nil {
		ev.Error = pollErr.Error()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		m.log.Warn("[Monitor] failed to encode snapshot event: %v", err)
		return
	}
	if err := m.events.Publish(ctx, contracts.TopicBuildSnapshots, ev.Key(), data); err != nil {
		m.log.Warn("[Monitor] failed to publish snapshot of %s: %v", snap.Build, err)
	}
}

// Last drains seq and returns its final snapshot, or the first error.
func Last(seq iter.Seq2[snapshot.PipelineSnapshot, error]) (snapshot.PipelineSnapshot, error) {
	var last snapshot.PipelineSnapshot
	for snap, err := range seq {
		if err != nil {
			return last, err
		}
		last = snap
	}
	return last, nil
}
