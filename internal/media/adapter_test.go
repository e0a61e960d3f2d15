package media_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/educonnect/videocall/internal/media"
	"github.com/educonnect/videocall/internal/media/mediatest"
	"github.com/educonnect/videocall/internal/models"
)

func joinInfo() models.JoinInfo {
	return models.JoinInfo{
		Meeting: &models.MeetingDescriptor{
			MeetingID:      "u1_u2_1700000000000",
			MediaPlacement: &models.MediaPlacement{SignalingURL: "wss://signal.example.com"},
		},
		Attendee: &models.AttendeeDescriptor{AttendeeID: "att-1", ExternalUserID: "Alice", JoinToken: "tok"},
	}
}

type fixture struct {
	engine  *mediatest.Engine
	factory *mediatest.Factory
	access  *mediatest.Access
	adapter *media.Adapter
}

func newFixture(t *testing.T) *fixture {
	engine := mediatest.NewEngine()
	f := &fixture{
		engine:  engine,
		factory: &mediatest.Factory{Engine: engine},
		access:  &mediatest.Access{},
	}
	f.adapter = media.NewAdapter(f.factory, f.access, zaptest.NewLogger(t))
	return f
}

func (f *fixture) start(t *testing.T, cb media.Callbacks) *media.Handle {
	t.Helper()
	h, err := f.adapter.Start(context.Background(), joinInfo(), cb)
	require.NoError(t, err)
	return h
}

func TestProbePermissionDenied(t *testing.T) {
	f := newFixture(t)
	f.access.ProbeErr = errors.New("NotAllowedError")

	err := f.adapter.Probe(context.Background())
	var permErr *media.PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.ErrorIs(t, err, f.access.ProbeErr)
}

func TestStartSubscribesThenStarts(t *testing.T) {
	f := newFixture(t)
	h := f.start(t, media.Callbacks{})

	assert.Equal(t, "u1_u2_1700000000000", h.Meeting.MeetingID)
	assert.Equal(t, 1, f.engine.Calls("Subscribe"))
	assert.Equal(t, 1, f.engine.Calls("Start"))
	assert.Equal(t, 1, h.Participants())
	require.Len(t, f.factory.Meetings(), 1)
}

func TestStartFailureReleasesEngine(t *testing.T) {
	f := newFixture(t)
	f.engine.StartErr = errors.New("signaling unreachable")

	_, err := f.adapter.Start(context.Background(), joinInfo(), media.Callbacks{})
	require.ErrorIs(t, err, f.engine.StartErr)
	assert.Equal(t, 1, f.engine.Calls("Stop"))
	assert.Zero(t, f.engine.Subscribers())
}

func TestStartRequiresDescriptors(t *testing.T) {
	f := newFixture(t)
	_, err := f.adapter.Start(context.Background(), models.JoinInfo{}, media.Callbacks{})
	require.Error(t, err)
	assert.Empty(t, f.factory.Meetings())
}

func TestInitializeVideoErrors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(e *mediatest.Engine)
		target media.RenderTarget
		want   error
	}{
		{name: "enumeration fails", setup: func(e *mediatest.Engine) { e.VideoDevicesErr = errors.New("busy") }, target: &mediatest.RenderTarget{}, want: media.ErrDeviceEnumeration},
		{name: "no devices", setup: func(e *mediatest.Engine) { e.VideoDevices = nil }, target: &mediatest.RenderTarget{}, want: media.ErrNoVideoDevice},
		{name: "start input fails", setup: func(e *mediatest.Engine) { e.StartVideoErr = errors.New("in use") }, target: &mediatest.RenderTarget{}, want: media.ErrStartInputFailed},
		{name: "tile creation fails", setup: func(e *mediatest.Engine) { e.TileErr = errors.New("no tile") }, target: &mediatest.RenderTarget{}, want: media.ErrLocalTileCreationFailed},
		{name: "invalid tile id", setup: func(e *mediatest.Engine) { e.TileID = 0 }, target: &mediatest.RenderTarget{}, want: media.ErrInvalidTileID},
		{name: "render target missing", setup: func(e *mediatest.Engine) {}, target: nil, want: media.ErrRenderTargetMissing},
		{name: "bind fails", setup: func(e *mediatest.Engine) { e.BindErr = errors.New("detached") }, target: &mediatest.RenderTarget{}, want: media.ErrBindFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f.engine)
			h := f.start(t, media.Callbacks{})

			err := f.adapter.InitializeVideo(context.Background(), h, tt.target)
			var devErr *media.DeviceError
			require.ErrorAs(t, err, &devErr)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestInitializeVideoBindsTarget(t *testing.T) {
	f := newFixture(t)
	h := f.start(t, media.Callbacks{})
	target := &mediatest.RenderTarget{}

	require.NoError(t, f.adapter.InitializeVideo(context.Background(), h, target))
	assert.Same(t, target, f.engine.Bound())

	frame, err := f.adapter.CaptureFrame(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, f.engine.Frame, frame)
}

func TestCaptureFrameBeforeVideo(t *testing.T) {
	f := newFixture(t)
	h := f.start(t, media.Callbacks{})

	_, err := f.adapter.CaptureFrame(context.Background(), h)
	assert.ErrorIs(t, err, media.ErrNoLocalVideo)
	assert.Zero(t, f.engine.Calls("CaptureFrame"))
}

func TestInitializeAudioIsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.engine.AudioDevices = nil
	h := f.start(t, media.Callbacks{})
	require.NoError(t, f.adapter.InitializeAudio(context.Background(), h))
	assert.Zero(t, f.engine.Calls("StartAudioInput"))

	f2 := newFixture(t)
	f2.engine.StartAudioErr = errors.New("device lost")
	h2 := f2.start(t, media.Callbacks{})
	require.NoError(t, f2.adapter.InitializeAudio(context.Background(), h2))

	require.NoError(t, f2.adapter.Stop(h2))
	assert.Zero(t, f2.engine.Calls("StopAudioInput"))
}

func TestToggleContentShare(t *testing.T) {
	f := newFixture(t)
	h := f.start(t, media.Callbacks{})

	sharing, err := f.adapter.ToggleContentShare(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, sharing)
	assert.True(t, h.Sharing())
	assert.True(t, f.engine.Sharing())

	sharing, err = f.adapter.ToggleContentShare(context.Background(), h)
	require.NoError(t, err)
	assert.False(t, sharing)
	assert.False(t, f.engine.Sharing())
	require.Len(t, f.access.Streams(), 1)
	assert.Equal(t, 1, f.access.Streams()[0].Closed())
}

func TestToggleContentShareCancelledKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.access.DisplayErr = errors.New("NotAllowedError: user cancelled")
	h := f.start(t, media.Callbacks{})

	sharing, err := f.adapter.ToggleContentShare(context.Background(), h)
	require.ErrorIs(t, err, f.access.DisplayErr)
	assert.False(t, sharing)
	assert.False(t, h.Stopped())
	assert.Zero(t, f.engine.Calls("Stop"))
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	h := f.start(t, media.Callbacks{})
	require.NoError(t, f.adapter.InitializeVideo(context.Background(), h, &mediatest.RenderTarget{}))
	require.NoError(t, f.adapter.InitializeAudio(context.Background(), h))
	_, err := f.adapter.ToggleContentShare(context.Background(), h)
	require.NoError(t, err)

	require.NoError(t, f.adapter.Stop(h))
	require.NoError(t, f.adapter.Stop(h))

	assert.Equal(t, 1, f.engine.Calls("Stop"))
	assert.Equal(t, 1, f.engine.Calls("StopVideoInput"))
	assert.Equal(t, 1, f.engine.Calls("StopAudioInput"))
	assert.Equal(t, 1, f.engine.Calls("StopContentShare"))
	assert.Equal(t, 1, f.engine.Calls("Unsubscribe"))
	assert.Equal(t, 1, f.access.Streams()[0].Closed())
	assert.Zero(t, f.engine.Subscribers())
}

func TestOperationsAfterStopAreGuarded(t *testing.T) {
	f := newFixture(t)
	h := f.start(t, media.Callbacks{})
	require.NoError(t, f.adapter.Stop(h))

	_, err := f.adapter.Stats(context.Background(), h)
	assert.ErrorIs(t, err, media.ErrSessionStopped)
	_, err = f.adapter.CaptureFrame(context.Background(), h)
	assert.ErrorIs(t, err, media.ErrSessionStopped)
	assert.ErrorIs(t, f.adapter.SetMuted(h, true), media.ErrSessionStopped)
	assert.ErrorIs(t, f.adapter.InitializeVideo(context.Background(), h, &mediatest.RenderTarget{}), media.ErrSessionStopped)
	_, err = f.adapter.ToggleContentShare(context.Background(), h)
	assert.ErrorIs(t, err, media.ErrSessionStopped)
	assert.Zero(t, f.engine.Calls("Stats"))
}

func TestParticipantFloor(t *testing.T) {
	f := newFixture(t)
	var counts []int
	h := f.start(t, media.Callbacks{OnParticipants: func(n int) { counts = append(counts, n) }})

	events := []struct {
		id      string
		present bool
	}{
		{"att-2", false},
		{"att-2", true},
		{"att-3", true},
		{"att-2", false},
		{"att-2", false},
		{"att-3", false},
		{"att-3", false},
		{"att-1", false},
	}
	for _, ev := range events {
		f.engine.EmitPresence(ev.id, ev.present)
		assert.GreaterOrEqual(t, h.Participants(), 1)
	}
	assert.Equal(t, []int{1, 2, 3, 2, 1, 1, 1}, counts)
	assert.Equal(t, 1, h.Participants())
}

func TestPresenceIgnoredAfterStop(t *testing.T) {
	f := newFixture(t)
	calls := 0
	h := f.start(t, media.Callbacks{OnParticipants: func(int) { calls++ }})
	require.NoError(t, f.adapter.Stop(h))

	f.engine.EmitPresence("att-2", true)
	assert.Zero(t, calls)
}

func TestSessionFailureCallback(t *testing.T) {
	f := newFixture(t)
	var got error
	f.start(t, media.Callbacks{OnFailure: func(err error) { got = err }})

	boom := errors.New("ice failed")
	f.engine.Fail(boom)
	assert.ErrorIs(t, got, boom)
}

func TestMuteAndVideoVisibility(t *testing.T) {
	f := newFixture(t)
	h := f.start(t, media.Callbacks{})
	require.NoError(t, f.adapter.SetMuted(h, true))
	assert.Zero(t, f.engine.Calls("SetAudioMuted"), "no audio input yet")

	require.NoError(t, f.adapter.InitializeVideo(context.Background(), h, &mediatest.RenderTarget{}))
	require.NoError(t, f.adapter.InitializeAudio(context.Background(), h))
	require.NoError(t, f.adapter.SetMuted(h, true))
	require.NoError(t, f.adapter.SetVideoVisible(h, false))
	assert.True(t, f.engine.Muted())
	assert.False(t, f.engine.VideoEnabled())
}
