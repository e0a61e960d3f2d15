package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/educonnect/videocall/internal/callsession"
	"github.com/educonnect/videocall/internal/engine"
	"github.com/educonnect/videocall/internal/media"
	"github.com/educonnect/videocall/internal/media/mediatest"
	"github.com/educonnect/videocall/internal/models"
)

type fakeController struct {
	mu       sync.Mutex
	state    callsession.State
	sent     []string
	hungUp   int
	shareErr error
}

func (f *fakeController) State() callsession.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) ToggleMute() bool {
	f.state.IsMuted = !f.state.IsMuted
	return f.state.IsMuted
}

func (f *fakeController) ToggleVideo() bool {
	f.state.IsVideoOff = !f.state.IsVideoOff
	return f.state.IsVideoOff
}

func (f *fakeController) ToggleScreenShare(ctx context.Context) (bool, error) {
	if f.shareErr != nil {
		return false, f.shareErr
	}
	f.state.IsScreenSharing = !f.state.IsScreenSharing
	return f.state.IsScreenSharing, nil
}

func (f *fakeController) SetAttentiveness(enabled bool) error {
	f.state.Attentiveness = enabled
	return nil
}

func (f *fakeController) SendLocalMessage(content string) (models.ChatMessage, error) {
	f.sent = append(f.sent, content)
	return models.ChatMessage{ID: "m1", Sender: "Alice", Content: content, Timestamp: time.Now()}, nil
}

func (f *fakeController) HangUp() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hungUp++
	return nil
}

type fakeRelay struct {
	msgs []models.ChatMessage
	err  error
}

func (r *fakeRelay) SendChat(msg models.ChatMessage) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestCallShellCommands(t *testing.T) {
	var out bytes.Buffer
	relay := &fakeRelay{}
	ctrl := &fakeController{}
	sh := newCallShell(&out, relay)
	sh.sess = ctrl
	ctx := context.Background()

	assert.False(t, sh.handle(ctx, "/mute"))
	assert.True(t, ctrl.state.IsMuted)
	assert.False(t, sh.handle(ctx, "/video"))
	assert.True(t, ctrl.state.IsVideoOff)
	assert.False(t, sh.handle(ctx, "/share"))
	assert.True(t, ctrl.state.IsScreenSharing)
	assert.False(t, sh.handle(ctx, "/attn"))
	assert.True(t, ctrl.state.Attentiveness)
	assert.False(t, sh.handle(ctx, "/attn"))
	assert.False(t, ctrl.state.Attentiveness)
	assert.False(t, sh.handle(ctx, "   "))

	assert.False(t, sh.handle(ctx, "  hello class "))
	assert.Equal(t, []string{"hello class"}, ctrl.sent)
	require.Len(t, relay.msgs, 1)
	assert.Equal(t, "hello class", relay.msgs[0].Content)

	assert.True(t, sh.handle(ctx, "/hangup"))
	assert.Equal(t, 1, ctrl.hungUp)
	assert.Contains(t, out.String(), "microphone muted")
	assert.Contains(t, out.String(), "sharing screen")
}

func TestCallShellReportsFailures(t *testing.T) {
	var out bytes.Buffer
	sh := newCallShell(&out, &fakeRelay{err: engine.ErrNotConnected})
	sh.sess = &fakeController{shareErr: errors.New("display denied")}

	sh.handle(context.Background(), "/share")
	sh.handle(context.Background(), "hi")
	assert.Contains(t, out.String(), "screen share: display denied")
	assert.NotContains(t, out.String(), "chat relay")

	sh.chat = &fakeRelay{err: errors.New("socket closed")}
	sh.handle(context.Background(), "hi again")
	assert.Contains(t, out.String(), "chat relay: socket closed")
}

func TestCallShellRunEndsWithCall(t *testing.T) {
	var out bytes.Buffer
	ctrl := &fakeController{}
	sh := newCallShell(&out, &fakeRelay{})
	sh.sess = ctrl

	pr, pw := io.Pipe()
	defer pw.Close()
	sh.onEvent(callsession.Event{Type: callsession.EventStatus, State: callsession.State{Status: models.CallStatusFailed}})
	require.NoError(t, sh.run(context.Background(), pr))
	assert.Zero(t, ctrl.hungUp)
	assert.Contains(t, out.String(), "status: failed")
}

func TestCallShellRunHangsUpOnEOF(t *testing.T) {
	ctrl := &fakeController{}
	sh := newCallShell(io.Discard, &fakeRelay{})
	sh.sess = ctrl

	require.NoError(t, sh.run(context.Background(), strings.NewReader("/mute\n")))
	assert.True(t, ctrl.state.IsMuted)
	assert.Equal(t, 1, ctrl.hungUp)
}

func TestRenderTargetDefaultsForVideoCalls(t *testing.T) {
	target := renderTarget("", "u1", false)
	ff, ok := target.(*engine.FrameFile)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(os.TempDir(), "educall-u1.jpg"), ff.Path)

	fake := mediatest.NewEngine()
	adapter := media.NewAdapter(&mediatest.Factory{Engine: fake}, &mediatest.Access{}, zaptest.NewLogger(t))
	h, err := adapter.Start(context.Background(), models.JoinInfo{
		Meeting:  &models.MeetingDescriptor{MeetingID: "u1_u2_1"},
		Attendee: &models.AttendeeDescriptor{AttendeeID: "att-1"},
	}, media.Callbacks{})
	require.NoError(t, err)
	defer adapter.Stop(h)
	assert.NoError(t, adapter.InitializeVideo(context.Background(), h, target))
	assert.Same(t, ff, fake.Bound())
}

func TestRenderTargetFlagAndAudio(t *testing.T) {
	ff, ok := renderTarget("/tmp/tile.jpg", "u1", true).(*engine.FrameFile)
	require.True(t, ok)
	assert.Equal(t, "/tmp/tile.jpg", ff.Path)
	assert.Nil(t, renderTarget("", "u1", true))
}
