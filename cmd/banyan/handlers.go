package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banyanlabs/banyan"
	"github.com/banyanlabs/banyan/catalog"
	"github.com/banyanlabs/banyan/provider"
	"github.com/banyanlabs/banyan/session"
)

type runOptions struct {
	catalogPath  string
	provider     string
	model        string
	sessionDir   string
	resume       string
	systemPrompt string
	thinking     string
	noCompact    bool
	debug        bool
}

func runRun(ctx context.Context, opts runOptions, args []string) error {
	cat, err := catalog.Load(opts.catalogPath)
	if err != nil {
		return err
	}
	if opts.provider == "" {
		opts.provider = cat.Providers[0].Name
	}
	if opts.model == "" {
		p, ok := cat.Provider(opts.provider)
		if !ok {
			return fmt.Errorf("provider %q not in catalog", opts.provider)
		}
		opts.model = p.Models[0].ID
	}

	log := zap.NewNop()
	if opts.debug {
		log, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer log.Sync()
	}

	agentOpts := []banyan.Option{banyan.WithLogger(log)}
	if opts.thinking != "" {
		agentOpts = append(agentOpts, banyan.WithThinkingLevel(banyan.ThinkingLevel(opts.thinking)))
	}

	cfg := banyan.Config{
		Catalog:      cat,
		Provider:     opts.provider,
		ModelID:      opts.model,
		SystemPrompt: opts.systemPrompt,
		SessionDir:   opts.sessionDir,
	}
	if opts.noCompact {
		off := false
		cfg.AutoCompaction = &off
	}

	agent, err := banyan.New(cfg, agentOpts...)
	if err != nil {
		return err
	}
	if opts.resume != "" {
		if err := agent.SwitchSession(opts.resume); err != nil {
			return err
		}
	}

	unsub := agent.Subscribe(printEvent)
	defer unsub()

	if err := agent.Prompt(ctx, strings.Join(args, " ")); err != nil {
		return err
	}
	fmt.Println()

	if path := agent.Session().Path(); path != "" {
		fmt.Fprintln(os.Stderr, "session:", path)
	}
	return nil
}

// printEvent renders the event stream for a terminal: assistant text goes to
// stdout as it arrives, everything else is a stderr side note.
func printEvent(ev banyan.Event) {
	switch ev.Type {
	case banyan.EventMessageUpdate:
		if ev.Stream != nil && ev.Stream.Type == provider.EventTextDelta {
			fmt.Print(ev.Stream.Delta)
		}
	case banyan.EventToolExecutionStart:
		fmt.Fprintf(os.Stderr, "\n[%s %s]\n", ev.ToolName, compactArgs(ev.ToolArgs))
	case banyan.EventToolExecutionEnd:
		if ev.IsError && ev.Result != nil {
			fmt.Fprintf(os.Stderr, "[%s failed: %s]\n", ev.ToolName, firstLine(ev.Result.Text()))
		}
	case banyan.EventCompactionFinished:
		if ev.Compaction != nil {
			fmt.Fprintf(os.Stderr, "[compacted %d tokens of history]\n", ev.Compaction.TokensBefore)
		}
	case banyan.EventError:
		fmt.Fprintln(os.Stderr, "[error]", ev.ErrorMessage)
	}
}

func compactArgs(raw json.RawMessage) string {
	s := firstLine(string(raw))
	if len(s) > 120 {
		s = s[:120] + "…"
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func runSessionsList(cmd *cobra.Command, dir, cwd string, asJSON bool) error {
	sessions, err := banyan.ListSessions(dir, session.ListOptions{Cwd: cwd})
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODIFIED\tMESSAGES\tNAME\tFIRST MESSAGE\tPATH")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			s.ModifiedAt.Format("2006-01-02 15:04"),
			s.MessageCount, s.Name, s.FirstUserMessage, s.Path)
	}
	return w.Flush()
}

func runSessionsRename(path, name string) error {
	return banyan.RenameSession(path, name)
}

func runSessionsDelete(path string) error {
	return banyan.DeleteSession(path)
}

func runModels(cmd *cobra.Command, catalogPath string) error {
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tMODEL\tCONTEXT\tMAX OUTPUT\tTHINKING\tVISION")
	for _, p := range cat.Providers {
		for _, m := range p.Models {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%v\t%v\n",
				p.Name, m.ID, m.ContextWindow, m.MaxOutput, m.Thinking, m.Vision)
		}
	}
	return w.Flush()
}
