package template

import (
	"context"
	"sync"

	"github.com/yaak-app/yaakengine/pluginrt"
	"github.com/yaak-app/yaakengine/worker"
)

// RenderJob is one template string to render as part of a RenderAll batch.
type RenderJob struct {
	Template    string
	Vars        []Variable
	Purpose     pluginrt.RenderPurpose
	Policy      MissingPolicy
	WorkspaceID string
}

// RenderResult is the outcome of one RenderJob, returned at the same index
// it was submitted at.
type RenderResult struct {
	Value string
	Err   error
}

// RenderAll renders every job concurrently using pool, preserving the
// spec.md Â§4.B requirement that "the engine must support parallel
// rendering of disjoint template strings". This generalizes the teacher's
// Scheduler.dispatchJobs (fan work out to a worker.WorkerPool, one job per
// unit of independent work) from "one job per session" to "one job per
// disjoint template string".
func (e *Engine) RenderAll(ctx context.Context, pool *worker.WorkerPool, jobs []RenderJob) []RenderResult {
	results := make([]RenderResult, len(jobs))
	var wg sync.WaitGroup
	wg.Add(len(jobs))

	for i, job := range jobs {
		i, job := i, job
		pool.Submit(func() {
			defer wg.Done()
			v, err := e.Render(ctx, job.Template, job.Vars, job.Purpose, job.Policy, job.WorkspaceID)
			results[i] = RenderResult{Value: v, Err: err}
		})
	}

	wg.Wait()
	return results
}
