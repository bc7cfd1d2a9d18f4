package cli

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"chatbridge/internal/config"
	"chatbridge/internal/domain"
	"chatbridge/internal/logsink"
	"chatbridge/internal/usecase"
)

const chatHelp = `Commands:
  /attach <file>     attach a file to the next message
  /export [target]   export the conversation (Notion or Feishu)
  /logs [clear]      show or clear the activity log
  /clear             start over
  /quit              leave`

func newChatCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			s := &chatSession{
				generator: rt.pipeline.Generator,
				exporter:  rt.pipeline.Exporter,
				settings:  rt.settings.Get,
				secrets:   rt.secrets,
				conv:      domain.NewConversation(),
				out:       &lockedWriter{w: cmd.OutOrStdout()},
				sink:      rt.sink,
				log:       rt.log,
				verbose:   opts.verbose,
				interrupt: true,
			}
			rt.settings.OnChange(s.settingsChanged)
			return s.run(cmd.Context(), cmd.InOrStdin())
		},
	}
}

// chatSession is one REPL conversation. Lines are handled one at a time, so
// a generation always ends before /clear or /export can run.
type chatSession struct {
	generator *usecase.Orchestrator
	exporter  *usecase.ExportService
	settings  func() config.Settings
	secrets   config.SecretResolver
	conv      *domain.Conversation
	out       io.Writer
	pending   []domain.Attachment

	sink    logsink.Sink
	log     *logsink.Recorder
	verbose bool

	// interrupt makes Ctrl-C abort the running generation.
	interrupt bool
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	current := s.settings()
	kind, _ := current.Provider()
	fmt.Fprintln(s.out, headerStyle.Render(fmt.Sprintf("chatbridge · %s · %s", kind, current.ProviderSettings(kind).ModelName)))
	fmt.Fprintln(s.out, dimStyle.Render(chatHelp))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(s.out, roleTag(domain.RoleUser)+"> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := s.command(ctx, line)
			if err != nil {
				fmt.Fprintln(s.out, systemStyle.Render("Error: "+err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}
		if err := s.send(ctx, line); err != nil && !errors.Is(err, usecase.ErrAborted) {
			fmt.Fprintln(s.out, systemStyle.Render("Error: "+err.Error()))
		}
	}
}

func (s *chatSession) command(ctx context.Context, line string) (quit bool, err error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/clear":
		s.conv.Clear()
		s.pending = nil
		logsink.OrNop(s.sink).Log(logsink.Info, "Chat history cleared", nil)
		fmt.Fprintln(s.out, dimStyle.Render("Conversation cleared."))
	case "/logs":
		return false, s.logs(arg)
	case "/attach":
		att, err := readAttachment(arg)
		if err != nil {
			return false, err
		}
		s.pending = append(s.pending, att)
		fmt.Fprintln(s.out, dimStyle.Render(fmt.Sprintf("Attached %s (%s).", att.Name, att.MIMEType)))
	case "/export":
		return false, s.export(ctx, arg)
	case "/help":
		fmt.Fprintln(s.out, dimStyle.Render(chatHelp))
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
	return false, nil
}

// send streams one reply to the terminal.
func (s *chatSession) send(ctx context.Context, text string) error {
	in, err := s.settings().GenerateInput(ctx, s.secrets, text, s.pending)
	if err != nil {
		return err
	}
	s.pending = nil

	if s.interrupt {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
	}

	fmt.Fprint(s.out, roleTag(domain.RoleAssistant)+": ")
	g := s.generator.Generate(ctx, s.conv, in, usecase.Callbacks{
		OnChunk: func(delta string) { fmt.Fprint(s.out, delta) },
	})
	err = g.Wait()
	fmt.Fprintln(s.out)
	if errors.Is(err, usecase.ErrAborted) {
		fmt.Fprintln(s.out, dimStyle.Render("(aborted)"))
	}
	return err
}

func (s *chatSession) export(ctx context.Context, target string) error {
	transcript := s.conv.Snapshot()
	if len(transcript) == 0 {
		return errors.New("nothing to export yet")
	}
	current := s.settings()
	cfg, err := current.ExportConfig(ctx, s.secrets)
	if err != nil {
		return err
	}
	if target != "" {
		t, ok := domain.ParseExportTarget(target)
		if !ok {
			return fmt.Errorf("unknown export target %q", target)
		}
		cfg.Target = t
	}

	fmt.Fprintln(s.out, dimStyle.Render(fmt.Sprintf("Exporting %d messages to %s...", len(transcript), cfg.Target)))
	res, err := s.exporter.ExportChatHistory(ctx, cfg, transcript, current.ResolvedSystemPrompt())
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, dimStyle.Render(fmt.Sprintf("Exported to %s document %s (%d blocks).", res.Target, res.DocumentID, res.Blocks)))
	return nil
}

// logs prints the recorded pipeline events, or drops them with "clear".
func (s *chatSession) logs(arg string) error {
	if s.log == nil {
		return errors.New("activity log is not available")
	}
	switch arg {
	case "":
	case "clear":
		s.log.Clear()
		fmt.Fprintln(s.out, dimStyle.Render("Log cleared."))
		return nil
	default:
		return fmt.Errorf("usage: /logs [clear]")
	}

	entries := s.log.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(s.out, dimStyle.Render("No log entries."))
		return nil
	}
	fmt.Fprintln(s.out, logTable(entries, s.verbose))
	return nil
}

func logTable(entries []logsink.Entry, withDetails bool) string {
	table := uitable.New()
	table.MaxColWidth = 80
	table.Wrap = true
	header := []any{"TIME", "CATEGORY", "SUMMARY"}
	if withDetails {
		header = append(header, "DETAILS")
	}
	table.AddRow(header...)
	for _, e := range entries {
		row := []any{e.Timestamp.Format(time.TimeOnly), strings.ToUpper(string(e.Category)), e.Summary}
		if withDetails {
			details := ""
			if e.Details != nil {
				raw, err := json.Marshal(e.Details)
				if err != nil {
					raw = []byte(fmt.Sprint(e.Details))
				}
				details = string(raw)
			}
			row = append(row, details)
		}
		table.AddRow(row...)
	}
	return table.String()
}

// settingsChanged reports a reload that switches provider or model. The next
// message picks the new settings up; a reply in flight keeps its own.
func (s *chatSession) settingsChanged(old, updated config.Settings) {
	oldKind, _ := old.Provider()
	newKind, err := updated.Provider()
	if err != nil {
		fmt.Fprintln(s.out, systemStyle.Render("Settings reloaded with an error: "+err.Error()))
		return
	}
	oldModel := old.ProviderSettings(oldKind).ModelName
	newModel := updated.ProviderSettings(newKind).ModelName
	if oldKind == newKind && oldModel == newModel {
		return
	}
	logsink.OrNop(s.sink).Log(logsink.Info, "Settings reloaded", map[string]any{"provider": string(newKind), "model": newModel})
	fmt.Fprintln(s.out, dimStyle.Render(fmt.Sprintf("Settings reloaded: now using %s · %s", newKind, newModel)))
}

// lockedWriter serializes writes from the REPL, the generation goroutine and
// the settings watcher.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// readAttachment loads path as a base64 attachment. Images are tagged as such
// so providers can send them inline.
func readAttachment(path string) (domain.Attachment, error) {
	if path == "" {
		return domain.Attachment{}, errors.New("usage: /attach <file>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Attachment{}, err
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	mimeType, _, _ = strings.Cut(mimeType, ";")

	kind := domain.AttachmentFile
	if strings.HasPrefix(mimeType, "image/") {
		kind = domain.AttachmentImage
	}
	return domain.Attachment{
		Kind:     kind,
		Name:     filepath.Base(path),
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}
