package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/attention"
	"github.com/educonnect/videocall/internal/bootstrap"
	"github.com/educonnect/videocall/internal/callsession"
	"github.com/educonnect/videocall/internal/engine"
	"github.com/educonnect/videocall/internal/media"
	"github.com/educonnect/videocall/internal/models"
	"github.com/educonnect/videocall/internal/realtime"
	"github.com/educonnect/videocall/internal/telemetry"
)

var callFlags struct {
	user      string
	name      string
	peer      string
	meeting   string
	audio     bool
	frameFile string
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Start or join a call from this machine",
	Long: `Starts a call to --peer or joins --meeting, then reads commands from stdin:
  /mute    toggle microphone
  /video   toggle camera
  /share   toggle screen share
  /attn    toggle attentiveness analysis
  /hangup  end the call
Any other line is sent as a chat message.`,
	RunE: runCall,
}

func init() {
	f := callCmd.Flags()
	f.StringVar(&callFlags.user, "user", "", "local user id (required)")
	f.StringVar(&callFlags.name, "name", "", "display name (defaults to --user)")
	f.StringVar(&callFlags.peer, "peer", "", "user id to call; creates a new meeting")
	f.StringVar(&callFlags.meeting, "meeting", "", "meeting id to join")
	f.BoolVar(&callFlags.audio, "audio", false, "audio-only call")
	f.StringVar(&callFlags.frameFile, "frame-file", "", "write the local video tile to this JPEG file (default educall-<user>.jpg in the temp dir)")
	_ = callCmd.MarkFlagRequired("user")
	callCmd.MarkFlagsMutuallyExclusive("peer", "meeting")
	callCmd.MarkFlagsOneRequired("peer", "meeting")
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory, err := engine.NewFactory(engine.Config{
		ICEServers:   realtime.ParseICEServers(cfg.WebRTC.ICEUrls),
		Width:        cfg.WebRTC.Width,
		Height:       cfg.WebRTC.Height,
		FrameRate:    float32(cfg.WebRTC.FrameRate),
		VideoBitrate: cfg.WebRTC.VideoBitrate,
		AudioBitrate: cfg.WebRTC.AudioBitrate,
	}, logger)
	if err != nil {
		return err
	}

	name := callFlags.name
	if name == "" {
		name = callFlags.user
	}
	deps := callsession.Deps{
		Bootstrap: bootstrap.NewClient(cfg.Call.BootstrapURL, logger,
			bootstrap.WithTimeout(cfg.Call.BootstrapTimeout),
			bootstrap.WithRegion(cfg.Meetings.DefaultRegion)),
		Adapter:  media.NewAdapter(factory, factory.Access(), logger),
		Reporter: telemetry.NewHTTPReporter(cfg.Call.MetricsURL, &http.Client{Timeout: 10 * time.Second}),
		Logger:   logger,
	}
	if cfg.Call.Attentiveness {
		awsCfg, err := loadAWS(ctx, cfg, logger)
		if err != nil {
			return err
		}
		deps.Analyzer = attention.NewRekognitionAnalyzerFromConfig(awsCfg)
	}
	deps.RenderTarget = renderTarget(callFlags.frameFile, callFlags.user, callFlags.audio)
	if ff, ok := deps.RenderTarget.(*engine.FrameFile); ok {
		logger.Info("local video tile", zap.String("frame_file", ff.Path))
	}

	shell := newCallShell(cmd.OutOrStdout(), factory)
	sess := callsession.New(callsession.Config{
		LocalUserID:       callFlags.user,
		UserName:          name,
		TelemetryInterval: cfg.Call.TelemetryInterval,
		AttentionInterval: cfg.Call.AttentionInterval,
		SetupTimeout:      cfg.Call.SetupTimeout,
	}, deps, callsession.Handlers{
		OnEvent: shell.onEvent,
		OnError: shell.onError,
	})
	shell.sess = sess
	defer sess.Close()
	factory.OnChat(sess.ReceiveMessage)

	kind := models.CallKindVideo
	if callFlags.audio {
		kind = models.CallKindAudio
	}
	if callFlags.peer != "" {
		err = sess.StartCall(ctx, callFlags.peer, kind)
	} else {
		err = sess.JoinCall(ctx, callFlags.meeting, kind)
	}
	if err != nil {
		logger.Error("call setup failed", zap.Error(err))
		return err
	}
	fmt.Fprintf(shell.out, "in meeting %s; peers join with --meeting %s\n", sess.State().MeetingID, sess.State().MeetingID)

	return shell.run(ctx, cmd.InOrStdin())
}

// renderTarget writes the local video tile to a JPEG file. Video calls without
// --frame-file get one in the temp dir; audio calls need none.
func renderTarget(frameFile, user string, audio bool) media.RenderTarget {
	if frameFile == "" {
		if audio {
			return nil
		}
		frameFile = filepath.Join(os.TempDir(), "educall-"+filepath.Base(user)+".jpg")
	}
	return engine.NewFrameFile(frameFile, time.Second)
}

// controller is the part of *callsession.Session the shell drives.
type controller interface {
	State() callsession.State
	ToggleMute() bool
	ToggleVideo() bool
	ToggleScreenShare(ctx context.Context) (bool, error)
	SetAttentiveness(enabled bool) error
	SendLocalMessage(content string) (models.ChatMessage, error)
	HangUp() error
}

// chatRelay is satisfied by *engine.Factory.
type chatRelay interface {
	SendChat(msg models.ChatMessage) error
}

// callShell maps stdin lines to session actions and prints session events.
type callShell struct {
	out   io.Writer
	chat  chatRelay
	sess  controller
	ended chan struct{}
}

func newCallShell(out io.Writer, chat chatRelay) *callShell {
	return &callShell{out: out, chat: chat, ended: make(chan struct{}, 1)}
}

func (sh *callShell) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return sh.sess.HangUp()
		case <-sh.ended:
			return nil
		case line, ok := <-lines:
			if !ok {
				return sh.sess.HangUp()
			}
			if sh.handle(ctx, line) {
				return nil
			}
		}
	}
}

// handle runs one command line and reports whether the shell should exit.
func (sh *callShell) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false
	case "/mute":
		if sh.sess.ToggleMute() {
			fmt.Fprintln(sh.out, "microphone muted")
		} else {
			fmt.Fprintln(sh.out, "microphone live")
		}
	case "/video":
		if sh.sess.ToggleVideo() {
			fmt.Fprintln(sh.out, "camera off")
		} else {
			fmt.Fprintln(sh.out, "camera on")
		}
	case "/share":
		sharing, err := sh.sess.ToggleScreenShare(ctx)
		switch {
		case err != nil:
			fmt.Fprintln(sh.out, "screen share:", err)
		case sharing:
			fmt.Fprintln(sh.out, "sharing screen")
		default:
			fmt.Fprintln(sh.out, "screen share stopped")
		}
	case "/attn":
		if err := sh.sess.SetAttentiveness(!sh.sess.State().Attentiveness); err != nil {
			fmt.Fprintln(sh.out, "attentiveness:", err)
		}
	case "/hangup":
		if err := sh.sess.HangUp(); err != nil {
			fmt.Fprintln(sh.out, "hang up:", err)
		}
		return true
	default:
		msg, err := sh.sess.SendLocalMessage(line)
		if err != nil {
			fmt.Fprintln(sh.out, "chat:", err)
			return false
		}
		if err := sh.chat.SendChat(msg); err != nil && !errors.Is(err, engine.ErrNotConnected) {
			fmt.Fprintln(sh.out, "chat relay:", err)
		}
	}
	return false
}

func (sh *callShell) onEvent(ev callsession.Event) {
	switch ev.Type {
	case callsession.EventStatus:
		fmt.Fprintf(sh.out, "status: %s\n", ev.State.Status)
		if ev.State.Status == models.CallStatusEnded || ev.State.Status == models.CallStatusFailed {
			select {
			case sh.ended <- struct{}{}:
			default:
			}
		}
	case callsession.EventParticipants:
		fmt.Fprintf(sh.out, "participants: %d\n", ev.State.ParticipantCount)
	case callsession.EventChat:
		if ev.Message != nil {
			fmt.Fprintf(sh.out, "[%s] %s: %s\n", ev.Message.Timestamp.Format(time.Kitchen), ev.Message.Sender, ev.Message.Content)
		}
	case callsession.EventAttention:
		if ev.Reading != nil {
			r := ev.Reading
			fmt.Fprintf(sh.out, "attention: attentive=%t emotion=%s people=%d age=%s gender=%s\n",
				r.IsAttentive, r.DominantEmotion, r.PeopleCount, r.Demographics.AgeRange, r.Demographics.Gender)
		}
	case callsession.EventAttentiveness:
		fmt.Fprintf(sh.out, "attentiveness: %t\n", ev.State.Attentiveness)
	case callsession.EventNotice:
		fmt.Fprintln(sh.out, "notice:", ev.Notice)
	}
}

func (sh *callShell) onError(err error) {
	fmt.Fprintln(sh.out, "call failed:", err)
}
