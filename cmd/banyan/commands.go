package main

import (
	"github.com/spf13/cobra"
)

// buildRunCmd creates the "run" command: send one prompt through the agent
// loop and stream the reply to stdout. Tool calls execute locally in the
// working directory.
func buildRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one prompt through the agent loop",
		Example: `  # One-shot prompt with the catalog's first model
  banyan run "explain this repo"

  # Pin provider and model, resume an earlier session
  banyan run --provider anthropic --model claude-sonnet-4 --resume ~/.config/banyan/sessions/abc.jsonl "continue"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.catalogPath, "catalog", "c", defaultCatalogPath(), "Path to the model catalog YAML")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "Provider name from the catalog (default: first)")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model id within the provider (default: first)")
	cmd.Flags().StringVar(&opts.sessionDir, "session-dir", defaultSessionDir(), "Directory for persisted session logs (empty: in-memory)")
	cmd.Flags().StringVar(&opts.resume, "resume", "", "Path of a session log to resume")
	cmd.Flags().StringVar(&opts.systemPrompt, "system-prompt", "", "System prompt for the conversation")
	cmd.Flags().StringVar(&opts.thinking, "thinking", "", "Thinking level: off, minimal, low, medium or high")
	cmd.Flags().BoolVar(&opts.noCompact, "no-auto-compact", false, "Disable automatic context compaction")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildSessionsCmd creates the "sessions" command group.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage persisted session logs",
	}
	cmd.AddCommand(
		buildSessionsListCmd(),
		buildSessionsRenameCmd(),
		buildSessionsDeleteCmd(),
	)
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var (
		dir    string
		cwd    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, dir, cwd, asJSON)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", defaultSessionDir(), "Session directory")
	cmd.Flags().StringVar(&cwd, "cwd", "", "Only sessions created in this working directory")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func buildSessionsRenameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename <path> <name>",
		Short: "Rename a persisted session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsRename(args[0], args[1])
		},
	}
	return cmd
}

func buildSessionsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete a persisted session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsDelete(args[0])
		},
	}
	return cmd
}

// buildModelsCmd creates the "models" command: print every provider/model
// pair the catalog offers.
func buildModelsCmd() *cobra.Command {
	var catalogPath string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models available in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(cmd, catalogPath)
		},
	}
	cmd.Flags().StringVarP(&catalogPath, "catalog", "c", defaultCatalogPath(), "Path to the model catalog YAML")
	return cmd
}
