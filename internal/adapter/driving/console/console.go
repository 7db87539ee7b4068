// Package console is a headless presentation adapter: it prints session
// updates as log lines and reads call commands from a text stream.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/session"
)

var errQuit = errors.New("quit")

// Session is the part of the session machine the console drives.
type Session interface {
	StartCall(ctx context.Context, recipient domain.UserID, kind domain.CallKind) (domain.Call, error)
	Accept(ctx context.Context, kind domain.CallKind) error
	Decline(ctx context.Context) error
	Cancel(ctx context.Context) error
	EndCall(ctx context.Context) error
	ToggleMute(ctx context.Context) error
	ToggleVideo(ctx context.Context) error
	Snapshot() domain.Snapshot
	Subscribe() *session.Subscription
}

type Console struct {
	sess Session
	in   io.Reader
	out  io.Writer
	log  zerolog.Logger
	last domain.Snapshot
}

func New(sess Session, in io.Reader, out io.Writer, l zerolog.Logger) *Console {
	return &Console{sess: sess, in: in, out: out, log: l}
}

const help = `commands:
  call <user-id> [audio|video]   start a call
  accept [audio|video]           answer the ringing call
  decline                        refuse the ringing call
  cancel                         give up on an unanswered outgoing call
  end                            hang up
  mute                           toggle the microphone
  video                          toggle the camera
  status                         print the current session
  quit                           leave`

// Run renders updates and executes commands until ctx is done, the input
// ends, or the user quits.
func (c *Console) Run(ctx context.Context) error {
	sub := c.sess.Subscribe()
	defer sub.Close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-sub.Updates():
			if !ok {
				return nil
			}
			c.render(u)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.log.Warn().Str("error", domain.UserMessage(err)).Msg(strings.TrimSpace(line))
			}
		}
	}
}

// Execute runs one command line.
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]

	switch strings.ToLower(fields[0]) {
	case "call":
		if len(args) == 0 {
			return fmt.Errorf("%w: call needs a user id", domain.ErrValidation)
		}
		recipient, err := domain.ParseUserID(args[0])
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		kind, err := parseKind(args[1:], domain.KindAudio)
		if err != nil {
			return err
		}
		call, err := c.sess.StartCall(ctx, recipient, kind)
		if err != nil {
			return err
		}
		c.log.Info().Str("call_id", call.ID.String()).Msg("Calling")
		return nil
	case "accept", "answer":
		kind, err := parseKind(args, domain.KindVideo)
		if err != nil {
			return err
		}
		return c.sess.Accept(ctx, kind)
	case "decline", "reject":
		return c.sess.Decline(ctx)
	case "cancel":
		return c.sess.Cancel(ctx)
	case "end", "hangup":
		return c.sess.EndCall(ctx)
	case "mute":
		return c.sess.ToggleMute(ctx)
	case "video", "camera":
		return c.sess.ToggleVideo(ctx)
	case "status":
		c.status(c.sess.Snapshot())
		return nil
	case "help", "?":
		fmt.Fprintln(c.out, help)
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("%w: unknown command %q", domain.ErrValidation, fields[0])
	}
}

func parseKind(args []string, fallback domain.CallKind) (domain.CallKind, error) {
	if len(args) == 0 {
		return fallback, nil
	}
	kind := domain.CallKind(strings.ToLower(args[0]))
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown call kind %q", domain.ErrValidation, args[0])
	}
	return kind, nil
}

func (c *Console) render(u session.Update) {
	snap := u.Snapshot
	if snap.Phase != c.last.Phase || snap.Muted != c.last.Muted || snap.VideoEnabled != c.last.VideoEnabled || snap.Remote != c.last.Remote {
		c.status(snap)
	}
	for _, a := range u.Advisories {
		if a.Kind != session.AdvisoryQualityWarning {
			continue
		}
		c.log.Warn().
			Str("peer", a.Sample.UserID.String()).
			Str("from", string(a.Previous)).
			Str("to", string(a.Sample.Level)).
			Float64("loss_pct", a.Sample.PacketLossPct).
			Float64("latency_ms", a.Sample.LatencyMs).
			Float64("jitter_ms", a.Sample.JitterMs).
			Msg("Call quality dropped")
	}
	c.last = snap
}

func (c *Console) status(snap domain.Snapshot) {
	e := c.log.Info().Str("phase", string(snap.Phase))
	if snap.Call != nil {
		e = e.Str("call_id", snap.Call.ID.String()).
			Str("kind", string(snap.Call.Kind)).
			Str("role", string(snap.Role))
	}
	switch snap.Phase {
	case domain.PhaseOutgoing, domain.PhaseIncoming:
		e = e.Int("ringing_s", snap.RingElapsedSeconds)
	case domain.PhaseActive:
		e = e.Int("active_s", snap.ActiveElapsedSeconds).
			Bool("muted", snap.Muted).
			Bool("video", snap.VideoEnabled).
			Bool("remote_muted", snap.Remote.Muted).
			Bool("remote_video", snap.Remote.VideoEnabled)
	case domain.PhaseEnded:
		e = e.Str("reason", snap.EndMessage())
	}
	if snap.LastError != nil {
		e = e.Str("error", domain.UserMessage(snap.LastError))
	}
	e.Msg("Session")
}
