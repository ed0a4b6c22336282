package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/touchfish-chat/internal/client"
	"github.com/omochice/touchfish-chat/internal/plugin"
	"github.com/omochice/touchfish-chat/pkg/protocol"
)

const helpText = `commands:
  /send <path>              send a file to the room
  /accept, /reject          answer the pending file offer
  /plugins                  list installed plugins
  /enable <id>, /disable <id>
  /menu                     list plugin menu entries
  /commands                 list plugin commands
  /run <plugin> <command> [args...]
  /quit                     leave (also "quit" or "exit")`

// session is one interactive chat session in the terminal.
type session struct {
	client   *client.Client
	registry *plugin.Registry
	gate     *plugin.Gate
	host     *terminalHost
	logger   *slog.Logger

	outMu  sync.Mutex
	out    io.Writer
	styles styles

	// progress holds the last reported quarter per transfer id.
	progress map[string]int
}

func newSession(c *client.Client, reg *plugin.Registry, gate *plugin.Gate, host *terminalHost, out io.Writer, logger *slog.Logger) *session {
	s := &session{
		client:   c,
		registry: reg,
		gate:     gate,
		host:     host,
		logger:   logger,
		out:      out,
		progress: make(map[string]int),
	}
	for _, p := range reg.ListThemes() {
		if p.Enabled {
			s.applyTheme(p)
		}
	}
	s.restyle()
	return s
}

// run reads commands from in and renders client events until the user
// quits, input ends or the server hangs up.
func (s *session) run(ctx context.Context, in io.Reader) error {
	sub := s.registry.Subscribe(0)
	g, ctx := errgroup.WithContext(ctx)

	lines := make(chan string)
	go scanLines(ctx, in, lines)

	g.Go(func() error {
		defer sub.Cancel()
		defer s.client.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok || s.handleLine(ctx, g, line) {
					return nil
				}
			}
		}
	})
	g.Go(func() error {
		for ev := range s.client.Events() {
			if err := s.render(ev); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for ev := range sub.C() {
			s.pluginChanged(ev)
		}
		return nil
	})

	return g.Wait()
}

func scanLines(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

// handleLine executes one input line and reports whether the session should
// end.
func (s *session) handleLine(ctx context.Context, g *errgroup.Group, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if line == "quit" || line == "exit" {
		return true
	}
	if !strings.HasPrefix(line, "/") {
		s.report(s.client.SendMessage(ctx, line))
		return false
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit":
		return true
	case "help":
		s.println(helpText)
	case "send":
		if arg == "" {
			s.println(s.style().Error.Render("usage: /send <path>"))
			return false
		}
		g.Go(func() error {
			if _, err := s.client.SendFile(ctx, arg); err != nil {
				s.report(fmt.Errorf("failed to send %s: %w", filepath.Base(arg), err))
			}
			return nil
		})
	case "accept":
		s.report(s.client.AcceptFile())
	case "reject":
		if err := s.client.RejectFile(); err != nil {
			s.report(err)
		} else {
			s.println(s.style().System.Render("* file rejected"))
		}
	case "plugins":
		for _, p := range s.registry.List() {
			s.println(formatPlugin(p))
		}
	case "enable":
		s.report(s.registry.Enable(arg))
	case "disable":
		s.report(s.registry.Disable(arg))
	case "menu":
		for _, e := range s.host.menuItems() {
			s.println(fmt.Sprintf("%s: %s (/run %s %s)", e.PluginID, e.Item.Label, e.PluginID, e.Item.Command))
		}
	case "commands":
		for _, p := range s.registry.ListFunctional() {
			for _, cmd := range s.gate.Commands(p.ID()) {
				s.println(p.ID() + " " + cmd)
			}
		}
	case "run":
		fields := strings.Fields(arg)
		if len(fields) < 2 {
			s.println(s.style().Error.Render("usage: /run <plugin> <command> [args...]"))
			return false
		}
		ok, err := s.gate.ExecuteCommand(ctx, fields[0], fields[1], fields[2:])
		if !ok {
			s.println(s.style().Error.Render(fmt.Sprintf("no command %q registered by %s", fields[1], fields[0])))
			return false
		}
		s.report(err)
	default:
		s.println(s.style().Error.Render("unknown command /" + name + ", try /help"))
	}
	return false
}

// render prints one client event. It returns the cause when the server
// ended the connection.
func (s *session) render(ev client.Event) error {
	switch ev := ev.(type) {
	case client.Connected:
		s.println(s.style().System.Render(fmt.Sprintf("* connected to %s as %s", ev.Remote, ev.Username)))
	case client.Disconnected:
		if ev.Err != nil {
			s.println(s.style().Error.Render("* connection lost: " + ev.Err.Error()))
			return ev.Err
		}
		s.println(s.style().System.Render("* disconnected"))
	case client.ChatReceived:
		s.println(s.style().chatLine(ev.Kind, ev.Text))
		s.deliver(ev)
	case client.FileOffered:
		desc := fmt.Sprintf("%s (%s)", ev.Offer.Name, humanize.Bytes(uint64(max(ev.Offer.Size, 0))))
		if ev.AutoAccepted {
			s.println(s.style().System.Render("* receiving " + desc))
		} else {
			s.println(s.style().System.Render("* incoming file " + desc + ", /accept or /reject"))
		}
	case client.FileProgress:
		quarter := int(ev.Percent) / 25
		if last, seen := s.progress[ev.ID]; seen && last >= quarter {
			return nil
		}
		s.progress[ev.ID] = quarter
		s.println(s.style().Progress.Render(fmt.Sprintf("  %s %s %.0f%%", ev.Direction, ev.Name, ev.Percent)))
	case client.FileReceived:
		delete(s.progress, ev.File.ID)
		s.println(s.style().System.Render(fmt.Sprintf("* received %s (%s)", ev.File.Name, humanize.Bytes(uint64(len(ev.File.Data))))))
	case client.FileSaved:
		s.println(s.style().System.Render("* saved " + ev.Name + " to " + ev.Path))
	case client.FileSent:
		delete(s.progress, ev.Sent.ID)
		s.println(s.style().System.Render(fmt.Sprintf("* sent %s (%s)", ev.Sent.Name, humanize.Bytes(uint64(ev.Sent.Size)))))
	case client.FileError:
		s.report(ev.Err)
	}
	return nil
}

func (s *session) deliver(ev client.ChatReceived) {
	msg := plugin.ChatMessage{From: ev.Kind.String(), Content: ev.Text}
	if ev.Kind == protocol.ChatRegular {
		if from, content, ok := protocol.SplitSender(ev.Text); ok {
			msg = plugin.ChatMessage{From: from, Content: content}
		}
	}
	s.gate.DeliverChat(msg)
}

// pluginChanged keeps the session in step with lifecycle changes made while
// it runs.
func (s *session) pluginChanged(ev plugin.Event) {
	switch ev.Kind {
	case plugin.EventEnabled, plugin.EventRegistered:
		if ev.Plugin.Manifest.Type == plugin.TypeTheme && ev.Plugin.Enabled {
			s.applyTheme(ev.Plugin)
		}
	case plugin.EventDisabled, plugin.EventUninstalled:
		s.host.forget(ev.ID)
		s.gate.Forget(ev.ID)
	}
	s.restyle()
	s.println(s.style().System.Render(fmt.Sprintf("* plugin %s %s", ev.ID, ev.Kind)))
}

// applyTheme loads a theme plugin's stylesheet into the host.
func (s *session) applyTheme(p plugin.Plugin) {
	if p.Manifest.Style == "" {
		return
	}
	css, err := os.ReadFile(filepath.Join(p.Path, p.Manifest.Style))
	if err != nil {
		s.logger.Warn("failed to read theme stylesheet", "plugin", p.ID(), "err", err)
		return
	}
	s.host.ApplyStyle(p.ID(), string(css))
}

func (s *session) restyle() {
	st := newStyles(s.out, s.host.overrides())
	s.outMu.Lock()
	s.styles = st
	s.outMu.Unlock()
}

func (s *session) report(err error) {
	if err == nil {
		return
	}
	s.println(s.style().Error.Render("error: " + err.Error()))
}

func (s *session) println(line string) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintln(s.out, line)
}

func (s *session) style() styles {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return s.styles
}
