package api

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
	"github.com/khanhnv2901/seca-compliance/internal/summary"
	"github.com/khanhnv2901/seca-compliance/internal/target"
)

func localRequest() JobRequest {
	return JobRequest{Target: "local", Categories: []string{"timesync"}}
}

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()

	job := jm.CreateJob(localRequest())
	if job.Status != JobPending {
		t.Errorf("expected status pending, got %s", job.Status)
	}
	if !strings.HasPrefix(job.ID, "job_") {
		t.Errorf("unexpected job id %q", job.ID)
	}
	if job.Target != "local" || job.Selection != "categories=timesync" {
		t.Errorf("unexpected job description: %+v", job)
	}

	retrieved := jm.GetJob(job.ID)
	if retrieved == nil || retrieved.ID != job.ID {
		t.Fatalf("expected to retrieve created job, got %+v", retrieved)
	}
	if retrieved == job {
		t.Error("GetJob should return a copy, not the same pointer")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()
	job := jm.CreateJob(localRequest())

	updated := jm.UpdateJob(job.ID, func(j *Job) {
		j.Status = JobRunning
		j.Completed = 3
	})
	if updated == nil || updated.Status != JobRunning || updated.Completed != 3 {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	if jm.UpdateJob("missing", func(j *Job) { j.Status = JobDone }) != nil {
		t.Error("expected nil for non-existent job update")
	}
}

func TestJobManager_ListJobsNewestFirst(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()

	if jobs := jm.ListJobs(10); len(jobs) != 0 {
		t.Fatalf("expected 0 jobs, got %d", len(jobs))
	}

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, jm.CreateJob(localRequest()).ID)
		time.Sleep(5 * time.Millisecond)
	}

	jobs := jm.ListJobs(10)
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != ids[2] {
		t.Errorf("expected newest job first, got %s", jobs[0].ID)
	}
	if got := jm.ListJobs(2); len(got) != 2 {
		t.Errorf("expected limit to return 2 jobs, got %d", len(got))
	}
}

func TestJobManager_Subscribe(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()

	ch, unsubscribe := jm.Subscribe()
	jm.CreateJob(localRequest())

	select {
	case job := <-ch:
		if job.Status != JobPending {
			t.Errorf("expected pending notification, got %s", job.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for job notification")
	}

	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	// Broadcasting after unsubscribe must not panic.
	jm.CreateJob(localRequest())
}

func TestJobManager_Prune(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()
	jm.SetMaxJobs(2)

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, jm.CreateJob(localRequest()).ID)
	}
	// Only the first job is finished; running ones are never pruned.
	finished := time.Now()
	jm.UpdateJob(ids[0], func(j *Job) {
		j.Status = JobDone
		j.FinishedAt = &finished
	})

	jm.prune()

	if jm.GetJob(ids[0]) != nil {
		t.Error("expected the finished job to be pruned")
	}
	if got := len(jm.ListJobs(0)); got != 3 {
		t.Errorf("expected 3 remaining jobs, got %d", got)
	}
}

func TestJobManager_ConcurrentAccess(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				job := jm.CreateJob(localRequest())
				jm.UpdateJob(job.ID, func(j *Job) { j.Completed++ })
				jm.ListJobs(5)
			}
		}()
	}
	wg.Wait()

	if got := len(jm.ListJobs(1000)); got != 100 {
		t.Errorf("expected 100 jobs, got %d", got)
	}
}

func TestJobRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     JobRequest
		wantErr bool
		want    string
	}{
		{name: "empty defaults to local", req: JobRequest{}, want: "local"},
		{name: "case insensitive", req: JobRequest{Target: " SSH ", Host: "db1"}, want: "ssh"},
		{name: "ssh without host", req: JobRequest{Target: "ssh"}, wantErr: true},
		{name: "unknown target", req: JobRequest{Target: "winrm"}, wantErr: true},
		{name: "negative concurrency", req: JobRequest{Concurrency: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.req.Target != tt.want {
				t.Errorf("Target = %q, want %q", tt.req.Target, tt.want)
			}
		})
	}
}

type fakeExecutor struct {
	results int
	err     error
	block   bool
}

func (f *fakeExecutor) ExecuteJob(ctx context.Context, req JobRequest, progress func(check.Result)) (*run.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	rn, err := run.New("api", req.describe(), target.KindLocal, req.Selection().String())
	if err != nil {
		return nil, err
	}
	if err := rn.Start(); err != nil {
		return nil, err
	}
	if f.block {
		<-ctx.Done()
	}
	var results []check.Result
	for i := 0; i < f.results; i++ {
		res := check.Result{ID: "c", Category: "test", Status: check.StatusPassed}
		results = append(results, res)
		_ = rn.Record(res)
		progress(res)
	}
	if ctx.Err() != nil {
		return rn, rn.Cancel(summary.Aggregate(results))
	}
	return rn, rn.Complete(summary.Aggregate(results))
}

func waitForStatus(t *testing.T, jobs *Jobs, id string, want string) *Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := jobs.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob error = %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", id, want)
	return nil
}

func TestJobsRunToCompletion(t *testing.T) {
	jobs := NewJobs(NewJobManager(), &fakeExecutor{results: 3}, zaptest.NewLogger(t))
	defer jobs.Shutdown(context.Background())

	job, err := jobs.StartJob(context.Background(), localRequest())
	if err != nil {
		t.Fatalf("StartJob error = %v", err)
	}

	done := waitForStatus(t, jobs, job.ID, JobDone)
	if done.Completed != 3 {
		t.Errorf("Completed = %d, want 3", done.Completed)
	}
	if done.RunID == "" || done.Overall != "passed" {
		t.Errorf("unexpected finished job: %+v", done)
	}
	if done.StartedAt == nil || done.FinishedAt == nil {
		t.Error("expected start and finish times")
	}
}

func TestJobsExecutorFailure(t *testing.T) {
	jobs := NewJobs(NewJobManager(), &fakeExecutor{err: errors.New("dial tcp: refused")}, zaptest.NewLogger(t))
	defer jobs.Shutdown(context.Background())

	job, err := jobs.StartJob(context.Background(), JobRequest{Target: "ssh", Host: "db1"})
	if err != nil {
		t.Fatalf("StartJob error = %v", err)
	}
	failed := waitForStatus(t, jobs, job.ID, JobError)
	if !strings.Contains(failed.Error, "refused") {
		t.Errorf("Error = %q", failed.Error)
	}
}

func TestJobsShutdownCancelsRunningJobs(t *testing.T) {
	jobs := NewJobs(NewJobManager(), &fakeExecutor{block: true}, zaptest.NewLogger(t))

	job, err := jobs.StartJob(context.Background(), localRequest())
	if err != nil {
		t.Fatalf("StartJob error = %v", err)
	}
	waitForStatus(t, jobs, job.ID, JobRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := jobs.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error = %v", err)
	}

	final, _ := jobs.GetJob(context.Background(), job.ID)
	if final.Status != JobDone || final.RunID == "" {
		t.Errorf("cancelled job should finish with its partial run, got %+v", final)
	}
	if _, err := jobs.StartJob(context.Background(), localRequest()); err == nil {
		t.Error("StartJob after Shutdown should fail")
	}
}
