package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CRMbyRSM/PRSM/internal/gateway/client"
	"github.com/CRMbyRSM/PRSM/internal/gateway/events"
	"github.com/CRMbyRSM/PRSM/internal/gateway/session"
)

var (
	chatSession  string
	chatThinking string
	chatTimeout  time.Duration
)

// finalGrace is how long a turn waits for the final message after its
// stream ended cleanly.
const finalGrace = 2 * time.Second

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Chat with an agent, streaming the reply",
	Long: `Send a message and stream the agent's reply.

With no message arguments, chat reads one message per line from stdin until
EOF or /quit. Ctrl-C aborts the running turn.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withClientContext(ctx, func(ctx context.Context, rt *app, c *client.Client) error {
			key := resolveSessionKey(chatSession, rt.cfg)
			c.SetPrimarySessionKey(key)
			out := cmd.OutOrStdout()
			p := newChatPrinter(out, rt)
			p.attach(c)

			if len(args) > 0 {
				return p.turn(ctx, c, key, strings.Join(args, " "))
			}

			fmt.Fprintln(out, styleMuted.Render(fmt.Sprintf("session %s, /quit to exit", key)))
			sc := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, styleUser.Render("you › "))
				if !sc.Scan() {
					fmt.Fprintln(out)
					return sc.Err()
				}
				line := strings.TrimSpace(sc.Text())
				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				case "/session":
					fmt.Fprintln(out, styleMuted.Render(c.PrimarySessionKey()))
					continue
				}
				if err := p.turn(ctx, c, "", line); err != nil {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
			}
		})
	},
}

// chatPrinter renders client events as a terminal transcript and tracks
// turn completion.
type chatPrinter struct {
	out io.Writer
	rt  *app

	mu        sync.Mutex
	streaming map[string]bool // runs that printed at least one chunk
	done      chan turnEvent
}

type turnEvent struct {
	runID  string
	final  bool
	errMsg string
	ended  bool
}

func newChatPrinter(out io.Writer, rt *app) *chatPrinter {
	return &chatPrinter{
		out:       out,
		rt:        rt,
		streaming: make(map[string]bool),
		done:      make(chan turnEvent, 64),
	}
}

func (p *chatPrinter) attach(c *client.Client) {
	bus := c.Bus()
	events.Handle(bus, func(ev events.StreamStart) {
		fmt.Fprint(p.out, styleAssistant.Render("agent › "))
	})
	events.Handle(bus, func(ev events.StreamChunk) {
		p.mu.Lock()
		p.streaming[ev.RunID] = true
		p.mu.Unlock()
		fmt.Fprint(p.out, ev.Text)
	})
	events.Handle(bus, func(ev events.StreamEnd) {
		if p.endLine(ev.RunID) {
			fmt.Fprintln(p.out)
		}
		if ev.ErrorMessage != "" {
			fmt.Fprintln(p.out, styleError.Render("error: "+ev.ErrorMessage))
		} else if ev.Reason == "aborted" {
			fmt.Fprintln(p.out, styleWarn.Render("(aborted)"))
		}
		p.signal(turnEvent{runID: ev.RunID, ended: true, errMsg: ev.ErrorMessage})
	})
	events.Handle(bus, func(ev events.Message) {
		switch {
		case p.endLine(ev.RunID):
			fmt.Fprintln(p.out)
		case ev.Role == "assistant":
			fmt.Fprintln(p.out, styleAssistant.Render("agent › ")+ev.Text)
		}
		p.signal(turnEvent{runID: ev.RunID, final: true})
	})
	events.Handle(bus, func(ev events.ToolCall) {
		switch ev.Phase {
		case events.ToolPhaseStart:
			fmt.Fprintln(p.out, styleMuted.Render("  ⚙ "+ev.Name))
		case events.ToolPhaseResult:
			if ev.IsError {
				fmt.Fprintln(p.out, styleError.Render("  ✗ "+ev.Name+": "+truncate(ev.Result, 120)))
			} else {
				fmt.Fprintln(p.out, styleSuccess.Render("  ✓ "+ev.Name))
			}
		}
	})
	events.Handle(bus, func(ev events.SubagentDetected) {
		fmt.Fprintln(p.out, styleInfo.Render("  ↳ sub-agent session "+ev.SessionKey))
	})
	events.Handle(bus, func(ev events.StreamSessionKey) {
		// later stdin turns send with an empty key and must follow the rename
		c.SetPrimarySessionKey(ev.SessionKey)
		if err := session.SetCurrent(ev.SessionKey); err != nil {
			p.rt.log.Warn("saving current session failed", "error", err)
		}
		p.rt.log.Debug("session key assigned", "expected", ev.Expected, "key", ev.SessionKey)
	})
	events.Handle(bus, func(ev events.Disconnected) {
		if ev.WillReconnect {
			fmt.Fprintln(p.out, styleWarn.Render("connection lost, reconnecting…"))
		}
	})
	events.Handle(bus, func(ev events.Connected) {
		p.rt.log.Info("gateway connected", "conn", ev.Hello.Server.ConnID)
	})
}

// endLine reports whether the run printed chunks that still need a line
// break. The final message and the stream end both try; the first one wins.
func (p *chatPrinter) endLine(runID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	streamed := p.streaming[runID]
	delete(p.streaming, runID)
	return streamed
}

// signal never blocks the event bus; runs nobody waits for are dropped once
// the buffer is full.
func (p *chatPrinter) signal(ev turnEvent) {
	select {
	case p.done <- ev:
	default:
	}
}

// turn sends one message and blocks until its reply is final, fails, or ctx
// is cancelled. Cancelling aborts the run on the gateway.
func (p *chatPrinter) turn(ctx context.Context, c *client.Client, key, message string) error {
	res, err := c.ChatSend(ctx, client.ChatRequest{SessionKey: key, Message: message, Thinking: chatThinking})
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	var timeout <-chan time.Time
	if chatTimeout > 0 {
		timer := time.NewTimer(chatTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	var grace <-chan time.Time
	for {
		select {
		case ev := <-p.done:
			if ev.runID != res.RunID {
				continue
			}
			switch {
			case ev.final:
				return nil
			case ev.errMsg != "":
				return fmt.Errorf("agent run failed: %s", ev.errMsg)
			case ev.ended && grace == nil:
				grace = time.After(finalGrace)
			}
		case <-grace:
			return nil
		case <-timeout:
			return fmt.Errorf("no reply within %s", chatTimeout)
		case <-ctx.Done():
			abortCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := c.ChatAbort(abortCtx, c.PrimarySessionKey(), res.RunID); err != nil {
				p.rt.log.Warn("abort failed", "run", res.RunID, "error", err)
			}
			fmt.Fprintln(p.out, styleWarn.Render("\n(interrupted)"))
			return nil
		}
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "session key (default: current session)")
	chatCmd.Flags().StringVar(&chatThinking, "thinking", "", "thinking level to request (e.g. low, high)")
	chatCmd.Flags().DurationVar(&chatTimeout, "timeout", 5*time.Minute, "give up waiting for a reply after this long (0 waits forever)")
}
