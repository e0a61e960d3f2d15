package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/educonnect/videocall/pkg/queue"
)

type memoryJobs struct {
	mu      sync.Mutex
	pending []*queue.Job
	retried []*queue.Job
}

func (m *memoryJobs) Dequeue(ctx context.Context) (*queue.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		time.Sleep(time.Millisecond)
		return nil, nil
	}
	j := m.pending[0]
	m.pending = m.pending[1:]
	return j, nil
}

func (m *memoryJobs) Retry(ctx context.Context, job *queue.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.Attempt++
	m.retried = append(m.retried, job)
	return nil
}

type memoryArchive struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func (a *memoryArchive) Put(ctx context.Context, meetingID string, at time.Time, body []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	if a.puts == nil {
		a.puts = map[string][]byte{}
	}
	a.puts[meetingID] = body
	return "telemetry/" + meetingID, nil
}

func archiveJob(t *testing.T, meetingID string) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(queue.TelemetryArchivePayload{MeetingID: meetingID, ReceivedAt: time.Unix(1, 0), Report: json.RawMessage(`{"metrics":{}}`)})
	require.NoError(t, err)
	return &queue.Job{ID: "job-" + meetingID, Type: queue.JobTypeTelemetryArchive, Payload: payload}
}

func TestArchiveProcessorRun(t *testing.T) {
	jobs := &memoryJobs{pending: []*queue.Job{archiveJob(t, "m1"), {ID: "bad", Type: "unknown"}, archiveJob(t, "m2")}}
	archive := &memoryArchive{}
	p := NewArchiveProcessor(jobs, archive, zaptest.NewLogger(t))
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		archive.mu.Lock()
		defer archive.mu.Unlock()
		return len(archive.puts) == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.JSONEq(t, `{"metrics":{}}`, string(archive.puts["m1"]))
	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	require.Len(t, jobs.retried, 1)
	assert.Equal(t, "bad", jobs.retried[0].ID)
}

func TestArchiveProcessorUploadFailure(t *testing.T) {
	p := NewArchiveProcessor(&memoryJobs{}, &memoryArchive{err: errors.New("denied")}, zaptest.NewLogger(t))
	assert.Error(t, p.Process(context.Background(), archiveJob(t, "m1")))
}
