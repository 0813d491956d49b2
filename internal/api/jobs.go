package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
)

// Job states.
const (
	JobPending = "pending"
	JobRunning = "running"
	JobDone    = "done"
	JobError   = "error"
)

type Job struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Target     string     `json:"target"`
	Selection  string     `json:"selection"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Completed  int        `json:"completed"`
	RunID      string     `json:"run_id,omitempty"`
	Overall    string     `json:"overall,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// JobRequest is the body of POST /runs.
type JobRequest struct {
	Target       string   `json:"target"`
	Host         string   `json:"host,omitempty"`
	Port         int      `json:"port,omitempty"`
	User         string   `json:"user,omitempty"`
	IdentityFile string   `json:"identity_file,omitempty"`
	KnownHosts   string   `json:"known_hosts,omitempty"`
	Insecure     bool     `json:"insecure,omitempty"`
	Categories   []string `json:"categories,omitempty"`
	IDs          []string `json:"ids,omitempty"`
	Exclude      []string `json:"exclude,omitempty"`
	Operator     string   `json:"operator,omitempty"`
	Concurrency  int      `json:"concurrency,omitempty"`
	TimeoutSecs  int      `json:"timeout_secs,omitempty"`
}

// Selection converts the request filters.
func (r JobRequest) Selection() check.Selection {
	return check.Selection{Categories: r.Categories, IDs: r.IDs, Exclude: r.Exclude}
}

// Validate normalizes Target and rejects incomplete ssh requests.
func (r *JobRequest) Validate() error {
	r.Target = strings.ToLower(strings.TrimSpace(r.Target))
	switch r.Target {
	case "", "local":
		r.Target = "local"
	case "ssh":
		if strings.TrimSpace(r.Host) == "" {
			return errors.New("host is required for ssh targets")
		}
	default:
		return fmt.Errorf("unsupported target %q (expected local or ssh)", r.Target)
	}
	if r.Concurrency < 0 || r.TimeoutSecs < 0 {
		return errors.New("concurrency and timeout_secs must not be negative")
	}
	return nil
}

func (r JobRequest) describe() string {
	if r.Target == "ssh" {
		if r.User != "" {
			return "ssh://" + r.User + "@" + r.Host
		}
		return "ssh://" + r.Host
	}
	return "local"
}

type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	subscribers map[chan Job]struct{}
	maxJobs     int // Maximum number of jobs to keep in memory
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewJobManager() *JobManager {
	m := &JobManager{
		jobs:        make(map[string]*Job),
		subscribers: make(map[chan Job]struct{}),
		maxJobs:     1000,
		stop:        make(chan struct{}),
	}
	go m.cleanupLoop(5 * time.Minute)
	return m
}

// Close stops the background cleanup.
func (m *JobManager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *JobManager) CreateJob(req JobRequest) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := &Job{
		ID:        generateID("job"),
		Status:    JobPending,
		Target:    req.describe(),
		Selection: req.Selection().String(),
		CreatedAt: time.Now().UTC(),
	}
	m.jobs[job.ID] = job
	m.broadcast(*job)
	copied := *job
	return &copied
}

func (m *JobManager) UpdateJob(id string, update func(*Job)) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil
	}
	update(job)
	m.broadcast(*job)
	copied := *job
	return &copied
}

func (m *JobManager) GetJob(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[id]; ok {
		copied := *job
		return &copied
	}
	return nil
}

// ListJobs returns up to limit jobs, newest first.
func (m *JobManager) ListJobs(limit int) []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs
}

func (m *JobManager) Subscribe() (chan Job, func()) {
	ch := make(chan Job, 32)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		if _, ok := m.subscribers[ch]; ok {
			delete(m.subscribers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
}

// broadcast must be called with mu held. Slow subscribers miss updates
// rather than block writers.
func (m *JobManager) broadcast(job Job) {
	for ch := range m.subscribers {
		select {
		case ch <- job:
		default:
		}
	}
}

func generateID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func (m *JobManager) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.prune()
		}
	}
}

// prune drops the oldest finished jobs once more than maxJobs are held.
func (m *JobManager) prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.jobs) <= m.maxJobs {
		return
	}

	type finished struct {
		id string
		at time.Time
	}
	var done []finished
	for id, job := range m.jobs {
		if job.Status != JobDone && job.Status != JobError {
			continue
		}
		at := job.CreatedAt
		if job.FinishedAt != nil {
			at = *job.FinishedAt
		}
		done = append(done, finished{id: id, at: at})
	}
	sort.Slice(done, func(i, j int) bool { return done[i].at.Before(done[j].at) })

	toRemove := len(m.jobs) - m.maxJobs
	if toRemove > len(done) {
		toRemove = len(done)
	}
	for i := 0; i < toRemove; i++ {
		delete(m.jobs, done[i].id)
	}
}

// SetMaxJobs configures the maximum number of jobs to retain in memory
func (m *JobManager) SetMaxJobs(max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if max > 0 {
		m.maxJobs = max
	}
}

// JobExecutor performs the run behind a job. progress is called once per
// finished check.
type JobExecutor interface {
	ExecuteJob(ctx context.Context, req JobRequest, progress func(check.Result)) (*run.Run, error)
}

// Jobs runs JobRequests in the background and tracks them in a JobManager.
type Jobs struct {
	manager *JobManager
	exec    JobExecutor
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobs creates a job service. Jobs outlive the request that started them
// and are cancelled by Shutdown.
func NewJobs(manager *JobManager, exec JobExecutor, logger *zap.Logger) *Jobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Jobs{manager: manager, exec: exec, logger: logger, ctx: ctx, cancel: cancel}
}

func (j *Jobs) StartJob(_ context.Context, req JobRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := j.ctx.Err(); err != nil {
		return nil, errors.New("server is shutting down")
	}

	job := j.manager.CreateJob(req)
	j.wg.Add(1)
	go j.execute(job.ID, req)
	return job, nil
}

func (j *Jobs) execute(id string, req JobRequest) {
	defer j.wg.Done()

	started := time.Now().UTC()
	j.manager.UpdateJob(id, func(job *Job) {
		job.Status = JobRunning
		job.StartedAt = &started
	})

	progress := func(check.Result) {
		j.manager.UpdateJob(id, func(job *Job) { job.Completed++ })
	}
	rn, err := j.exec.ExecuteJob(j.ctx, req, progress)

	finished := time.Now().UTC()
	j.manager.UpdateJob(id, func(job *Job) {
		job.FinishedAt = &finished
		if rn != nil {
			job.RunID = rn.ID()
			job.Overall = rn.Overall().String()
		}
		if err != nil {
			job.Status = JobError
			job.Error = err.Error()
			return
		}
		job.Status = JobDone
	})
	if err != nil {
		j.logger.Warn("job_failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	j.logger.Info("job_finished", zap.String("job_id", id), zap.String("run_id", rn.ID()), zap.String("overall", rn.Overall().String()))
}

func (j *Jobs) GetJob(_ context.Context, id string) (*Job, error) {
	job := j.manager.GetJob(id)
	if job == nil {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return job, nil
}

func (j *Jobs) ListJobs(_ context.Context, limit int) ([]Job, error) {
	return j.manager.ListJobs(limit), nil
}

func (j *Jobs) Subscribe() (chan Job, func()) {
	return j.manager.Subscribe()
}

// Shutdown cancels running jobs and waits for them to persist their partial
// runs, or for ctx to expire.
func (j *Jobs) Shutdown(ctx context.Context) error {
	j.cancel()
	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		j.manager.Close()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
