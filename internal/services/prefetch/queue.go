package prefetch

import "feedstream/internal/domain"

// Job is a background load request for one index. PostID pins the entry the
// job was planned for so the worker can drop it if the list changed.
type Job[I domain.Index] struct {
	Index  I
	PostID domain.PostID
}

// Queue is a FIFO of prefetch jobs, deduplicated by index.
// It is not safe for concurrent use.
type Queue[I domain.Index] struct {
	jobs   []Job[I]
	queued map[I]struct{}
}

func NewQueue[I domain.Index]() *Queue[I] {
	return &Queue[I]{queued: make(map[I]struct{})}
}

// Enqueue appends a job and reports whether it was added.
func (q *Queue[I]) Enqueue(i I, postID domain.PostID) bool {
	if _, ok := q.queued[i]; ok {
		return false
	}
	q.queued[i] = struct{}{}
	q.jobs = append(q.jobs, Job[I]{Index: i, PostID: postID})
	return true
}

func (q *Queue[I]) Pop() (Job[I], bool) {
	if len(q.jobs) == 0 {
		return Job[I]{}, false
	}
	job := q.jobs[0]
	q.jobs[0] = Job[I]{}
	q.jobs = q.jobs[1:]
	delete(q.queued, job.Index)
	return job, true
}

func (q *Queue[I]) Remove(i I) bool {
	if _, ok := q.queued[i]; !ok {
		return false
	}
	delete(q.queued, i)
	for n, job := range q.jobs {
		if job.Index == i {
			q.jobs = append(q.jobs[:n], q.jobs[n+1:]...)
			break
		}
	}
	return true
}

func (q *Queue[I]) Contains(i I) bool {
	_, ok := q.queued[i]
	return ok
}

func (q *Queue[I]) Len() int {
	return len(q.jobs)
}

// Indices lists queued indices head first.
func (q *Queue[I]) Indices() []I {
	out := make([]I, len(q.jobs))
	for n, job := range q.jobs {
		out[n] = job.Index
	}
	return out
}

// Clear empties the queue and returns the dropped jobs.
func (q *Queue[I]) Clear() []Job[I] {
	dropped := q.jobs
	q.jobs = nil
	clear(q.queued)
	return dropped
}
