package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownJob means no photo job has that id
var ErrUnknownJob = errors.New("unknown photo job")

// JobStatus is the lifecycle of a photo request
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobDone    JobStatus = "done"
	// JobFailed means the capture was accepted but produced no image
	JobFailed JobStatus = "failed"
)

// PhotoJob tracks one TakePhoto call
type PhotoJob struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	CallbackID int64     `json:"callback_id"`
	Status     JobStatus `json:"status"`
	Size       int       `json:"size"`
	Requested  time.Time `json:"requested"`
	Completed  time.Time `json:"completed,omitempty"`
}

type photoEntry struct {
	job  PhotoJob
	data []byte
	done chan struct{}
}

// photoStore maps device callback ids to uuid job ids and keeps the most
// recent results.
type photoStore struct {
	mu         sync.Mutex
	max        int
	jobs       map[string]*photoEntry
	byCallback map[int64]string
	order      []string
}

func newPhotoStore(max int) *photoStore {
	if max <= 0 {
		max = 32
	}
	return &photoStore{
		max:        max,
		jobs:       make(map[string]*photoEntry),
		byCallback: make(map[int64]string),
	}
}

func (s *photoStore) create(deviceID string, callbackID int64) PhotoJob {
	e := &photoEntry{
		job: PhotoJob{
			ID:         uuid.NewString(),
			DeviceID:   deviceID,
			CallbackID: callbackID,
			Status:     JobPending,
			Requested:  time.Now(),
		},
		done: make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[e.job.ID] = e
	s.byCallback[callbackID] = e.job.ID
	s.order = append(s.order, e.job.ID)
	s.evictLocked()
	return e.job
}

// evictLocked drops the oldest finished jobs beyond max
func (s *photoStore) evictLocked() {
	for i := 0; len(s.jobs) > s.max && i < len(s.order); {
		id := s.order[i]
		e := s.jobs[id]
		if e.job.Status == JobPending {
			i++
			continue
		}
		delete(s.jobs, id)
		s.order = append(s.order[:i], s.order[i+1:]...)
	}
}

func (s *photoStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return
	}
	delete(s.jobs, id)
	delete(s.byCallback, e.job.CallbackID)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// complete records the result for callbackID. Empty data fails the job.
func (s *photoStore) complete(callbackID int64, data []byte) (PhotoJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCallback[callbackID]
	if !ok {
		return PhotoJob{}, false
	}
	delete(s.byCallback, callbackID)
	e := s.jobs[id]

	e.data = append([]byte(nil), data...)
	e.job.Size = len(data)
	e.job.Completed = time.Now()
	e.job.Status = JobDone
	if len(data) == 0 {
		e.job.Status = JobFailed
	}
	close(e.done)
	s.evictLocked()
	return e.job, true
}

func (s *photoStore) get(id string) (PhotoJob, []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return PhotoJob{}, nil, false
	}
	return e.job, e.data, true
}

func (s *photoStore) wait(ctx context.Context, id string) (PhotoJob, []byte, error) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return PhotoJob{}, nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return PhotoJob{}, nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.job, e.data, nil
}
