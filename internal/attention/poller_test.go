package attention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/educonnect/videocall/internal/models"
)

type result struct {
	faces []FaceDetail
	err   error
}

// scriptedAnalyzer returns results in order and repeats the last one.
type scriptedAnalyzer struct {
	mu      sync.Mutex
	results []result
	calls   int
}

func (a *scriptedAnalyzer) DetectFaces(ctx context.Context, image []byte) ([]FaceDetail, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.calls
	if i >= len(a.results) {
		i = len(a.results) - 1
	}
	a.calls++
	return a.results[i].faces, a.results[i].err
}

func (a *scriptedAnalyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type frameSource struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *frameSource) CaptureFrame(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte{0xff, 0xd8}, nil
}

func (f *frameSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	mu       sync.Mutex
	readings []models.AttentionReading
	notices  []Notice
	disabled []DisableReason
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnReading: func(x models.AttentionReading) {
			r.mu.Lock()
			r.readings = append(r.readings, x)
			r.mu.Unlock()
		},
		OnNotice: func(n Notice) {
			r.mu.Lock()
			r.notices = append(r.notices, n)
			r.mu.Unlock()
		},
		OnDisabled: func(d DisableReason) {
			r.mu.Lock()
			r.disabled = append(r.disabled, d)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]models.AttentionReading, []Notice, []DisableReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AttentionReading(nil), r.readings...),
		append([]Notice(nil), r.notices...),
		append([]DisableReason(nil), r.disabled...)
}

var attentiveFace = FaceDetail{
	Emotions: []Emotion{{"HAPPY", 90}, {"CALM", 10}},
	Pose:     &Pose{Pitch: 5, Yaw: -10},
}

func noFace() result { return result{} }

func TestNoFaceCounterResetByFace(t *testing.T) {
	analyzer := &scriptedAnalyzer{}
	for i := 0; i < 9; i++ {
		analyzer.results = append(analyzer.results, noFace())
	}
	analyzer.results = append(analyzer.results, result{faces: []FaceDetail{attentiveFace}})

	rec := &recorder{}
	p := NewPoller(&frameSource{}, analyzer, rec.handlers(), zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		_, disable := p.tick(ctx)
		require.False(t, disable)
	}
	assert.Equal(t, 9, p.consecutiveNoFaceTicks)

	_, disable := p.tick(ctx)
	require.False(t, disable)
	assert.Zero(t, p.consecutiveNoFaceTicks)

	readings, notices, _ := rec.snapshot()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeNoFace, notices[0].Kind)
	require.Len(t, readings, 2)
	assert.Equal(t, models.NeutralReading(), readings[0])
	assert.Equal(t, "HAPPY", readings[1].DominantEmotion)
	assert.True(t, readings[1].IsAttentive)
}

func TestNoFaceNoticeOnlyAtSecondTick(t *testing.T) {
	analyzer := &scriptedAnalyzer{results: []result{noFace()}}
	rec := &recorder{}
	p := NewPoller(&frameSource{}, analyzer, rec.handlers(), nil)

	_, _ = p.tick(context.Background())
	_, notices, _ := rec.snapshot()
	assert.Empty(t, notices)

	for i := 0; i < 5; i++ {
		_, _ = p.tick(context.Background())
	}
	_, notices, _ = rec.snapshot()
	assert.Len(t, notices, 1)
}

func TestEleventhNoFaceTickDisables(t *testing.T) {
	analyzer := &scriptedAnalyzer{results: []result{noFace()}}
	p := NewPoller(&frameSource{}, analyzer, Handlers{}, nil)

	for i := 1; i <= 10; i++ {
		_, disable := p.tick(context.Background())
		require.False(t, disable, "tick %d", i)
	}
	reason, disable := p.tick(context.Background())
	assert.True(t, disable)
	assert.Equal(t, DisabledByNoFace, reason)
}

func TestLoopStopsAfterEleventhNoFaceTick(t *testing.T) {
	analyzer := &scriptedAnalyzer{results: []result{noFace()}}
	rec := &recorder{}
	p := NewPoller(&frameSource{}, analyzer, rec.handlers(), zaptest.NewLogger(t), WithInterval(time.Millisecond))

	require.True(t, p.Start())
	require.Eventually(t, func() bool {
		_, _, disabled := rec.snapshot()
		return len(disabled) == 1
	}, time.Second, time.Millisecond)

	assert.False(t, p.Running())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 11, analyzer.Calls(), "no 12th tick")
	_, _, disabled := rec.snapshot()
	assert.Equal(t, []DisableReason{DisabledByNoFace}, disabled)
	p.Stop()
}

func TestCaptureFailuresDisableWithOneNotice(t *testing.T) {
	frames := &frameSource{err: errors.New("video element not ready")}
	analyzer := &scriptedAnalyzer{results: []result{noFace()}}
	rec := &recorder{}
	p := NewPoller(frames, analyzer, rec.handlers(), zaptest.NewLogger(t), WithInterval(time.Millisecond))

	require.True(t, p.Start())
	require.Eventually(t, func() bool { return !p.Running() }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	_, notices, disabled := rec.snapshot()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeAnalysisFailed, notices[0].Kind)
	var capErr *CaptureError
	assert.ErrorAs(t, notices[0].Err, &capErr)
	assert.Equal(t, []DisableReason{DisabledByFailures}, disabled)
	assert.Equal(t, 3, frames.Calls())
	assert.Zero(t, analyzer.Calls())
}

func TestAnalysisFailuresCountAsCaptureFailures(t *testing.T) {
	boom := errors.New("ThrottlingException")
	analyzer := &scriptedAnalyzer{results: []result{{err: boom}}}
	rec := &recorder{}
	p := NewPoller(&frameSource{}, analyzer, rec.handlers(), nil)

	for i := 1; i <= 2; i++ {
		_, disable := p.tick(context.Background())
		require.False(t, disable)
	}
	reason, disable := p.tick(context.Background())
	assert.True(t, disable)
	assert.Equal(t, DisabledByFailures, reason)

	_, notices, _ := rec.snapshot()
	require.Len(t, notices, 1)
	var aErr *AnalysisError
	assert.ErrorAs(t, notices[0].Err, &aErr)
	assert.ErrorIs(t, notices[0].Err, boom)
}

func TestAnalysisOutageDisablesOnce(t *testing.T) {
	analyzer := &scriptedAnalyzer{results: []result{{err: errors.New("AccessDeniedException")}}}
	rec := &recorder{}
	p := NewPoller(&frameSource{}, analyzer, rec.handlers(), zaptest.NewLogger(t), WithInterval(time.Millisecond))

	require.True(t, p.Start())
	require.Eventually(t, func() bool { return !p.Running() }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	_, notices, disabled := rec.snapshot()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeAnalysisFailed, notices[0].Kind)
	assert.Equal(t, []DisableReason{DisabledByFailures}, disabled)
	assert.Equal(t, MaxConsecutiveFailures, analyzer.Calls())
}

func TestCaptureAndAnalysisFailuresShareCounter(t *testing.T) {
	frames := &frameSource{err: errors.New("no frame")}
	analyzer := &scriptedAnalyzer{results: []result{{err: errors.New("timeout")}}}
	p := NewPoller(frames, analyzer, Handlers{}, nil)

	_, disable := p.tick(context.Background())
	require.False(t, disable)

	frames.mu.Lock()
	frames.err = nil
	frames.mu.Unlock()

	_, disable = p.tick(context.Background())
	require.False(t, disable)
	assert.Equal(t, 2, p.consecutiveFailures)

	reason, disable := p.tick(context.Background())
	assert.True(t, disable)
	assert.Equal(t, DisabledByFailures, reason)
}

func TestNoFaceResetsFailureCounter(t *testing.T) {
	analyzer := &scriptedAnalyzer{results: []result{
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
		noFace(),
	}}
	p := NewPoller(&frameSource{}, analyzer, Handlers{}, nil)
	for i := 0; i < 3; i++ {
		_, disable := p.tick(context.Background())
		require.False(t, disable, "tick %d", i)
	}
	assert.Zero(t, p.consecutiveFailures)
	assert.Equal(t, 1, p.consecutiveNoFaceTicks)
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) DetectFaces(context.Context, []byte) ([]FaceDetail, error) {
	panic("nil response")
}

func TestAnalyzerPanicIsAFailure(t *testing.T) {
	p := NewPoller(&frameSource{}, panickingAnalyzer{}, Handlers{}, nil)
	_, disable := p.tick(context.Background())
	assert.False(t, disable)
	assert.Equal(t, 1, p.consecutiveFailures)
}

func TestFaceResetsFailureCounter(t *testing.T) {
	analyzer := &scriptedAnalyzer{results: []result{
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
		{faces: []FaceDetail{attentiveFace}},
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
	}}
	p := NewPoller(&frameSource{}, analyzer, Handlers{}, nil)
	for i := 0; i < 5; i++ {
		_, disable := p.tick(context.Background())
		require.False(t, disable, "tick %d", i)
	}
	assert.Equal(t, 2, p.consecutiveFailures)
}

func TestStopIsSafeAndRestartResets(t *testing.T) {
	analyzer := &scriptedAnalyzer{results: []result{noFace()}}
	p := NewPoller(&frameSource{}, analyzer, Handlers{}, nil, WithInterval(time.Hour))

	p.Stop()
	require.True(t, p.Start())
	assert.False(t, p.Start())
	p.consecutiveNoFaceTicks = 7
	p.Stop()
	p.Stop()
	assert.False(t, p.Running())

	require.True(t, p.Start())
	assert.Zero(t, p.consecutiveNoFaceTicks)
	p.Stop()
}
