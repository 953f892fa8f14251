// guideflow is the command surface of the guide engine: run a saved guide,
// generate one from a goal, inspect sessions, and move guides between
// workspaces.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"guideflow/internal/config"
	"guideflow/internal/engine"
	"guideflow/internal/events"
	"guideflow/internal/jsonx"
	"guideflow/internal/script"
	"guideflow/internal/session"
	"guideflow/internal/utils"
	"guideflow/internal/utils/id"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "guideflow",
		Short:         "Asynchronous web how-to guide engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(),
		newGenerateCmd(),
		newWorkerCmd(),
		newStatusCmd(),
		newExportCmd(),
		newImportCmd(),
	)
	return root
}

func newEngine() (*engine.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return engine.New(cfg)
}

func newRunCmd() *cobra.Command {
	var detach bool
	var secrets, vars []string
	cmd := &cobra.Command{
		Use:   "run <script-id|guide.md>",
		Short: "Replay a saved guide",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			scriptID := args[0]
			if strings.HasSuffix(scriptID, ".md") {
				scriptID, err = importMarkdown(eng, scriptID)
				if err != nil {
					return err
				}
				fmt.Printf("%s imported as %s\n", gray("guide"), cyan(scriptID))
			}

			sessionID, err := eng.StartRun(cmd.Context(), scriptID, engine.StartOptions{
				Detached: detach,
				Secrets:  parseKV(secrets),
				Vars:     parseKV(vars),
			})
			if err != nil {
				return err
			}
			fmt.Printf("session %s\n", cyan(sessionID))
			if detach {
				return nil
			}
			return streamSession(cmd.Context(), eng, sessionID)
		},
	}
	cmd.Flags().BoolVar(&detach, "detach", false, "run in a background worker and return the session id")
	cmd.Flags().StringArrayVar(&secrets, "secret", nil, "secret value as KEY=VALUE, repeatable")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable value as KEY=VALUE, repeatable")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	var goal, baseURL, title string
	var detach bool
	var secrets, vars []string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a guide by pursuing a goal on a live page",
		RunE: func(cmd *cobra.Command, args []string) error {
			if goal == "" || baseURL == "" {
				return fmt.Errorf("--goal and --url are required")
			}
			eng, err := newEngine()
			if err != nil {
				return err
			}
			sessionID, err := eng.StartGenerate(cmd.Context(), goal, baseURL, title, engine.StartOptions{
				Detached: detach,
				Secrets:  parseKV(secrets),
				Vars:     parseKV(vars),
			})
			if err != nil {
				return err
			}
			fmt.Printf("session %s\n", cyan(sessionID))
			if detach {
				return nil
			}
			return streamSession(cmd.Context(), eng, sessionID)
		},
	}
	cmd.Flags().StringVar(&goal, "goal", "", "what the guide should accomplish")
	cmd.Flags().StringVar(&baseURL, "url", "", "page the guide starts on")
	cmd.Flags().StringVar(&title, "title", "", "guide title, defaults to the goal")
	cmd.Flags().BoolVar(&detach, "detach", false, "run in a background worker and return the session id")
	cmd.Flags().StringArrayVar(&secrets, "secret", nil, "secret value as KEY=VALUE, repeatable")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable value as KEY=VALUE, repeatable")
	return cmd
}

// newWorkerCmd is the internal entry point of detached sessions. Exit code 0
// means the session ran to a terminal event (including Failed); 1 means
// setup never got that far.
func newWorkerCmd() *cobra.Command {
	var sessionID, scriptID, goal, baseURL, title string
	cmd := &cobra.Command{
		Use:    "worker",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session-id is required")
			}
			eng, err := newEngine()
			if err != nil {
				return err
			}
			logger := utils.NewComponentLogger("Worker")
			logger.Info("worker starting session %s", sessionID)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				eng.Cancel(sessionID)
			}()

			return eng.RunWorker(context.WithoutCancel(ctx), sessionID, scriptID, goal, baseURL, title, engine.StartOptionsFromEnv())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session-id", "", "preallocated session id")
	cmd.Flags().StringVar(&scriptID, "script-id", "", "script to replay")
	cmd.Flags().StringVar(&goal, "goal", "", "goal for generation")
	cmd.Flags().StringVar(&baseURL, "url", "", "starting page for generation")
	cmd.Flags().StringVar(&title, "title", "", "guide title")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the status of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			snap, err := eng.Status(args[0])
			if err != nil {
				return err
			}
			printSnapshot(snap)
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <script-id>",
		Short: "Export a guide as portable JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			bundle, err := eng.Scripts().Export(args[0])
			if err != nil {
				return err
			}
			data, err := jsonx.MarshalIndent(bundle, "", "  ")
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + ".json"
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", green("exported"), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file, defaults to <script-id>.json")
	return cmd
}

func newImportCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "import <bundle.json>",
		Short: "Import a guide bundle into the workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var bundle script.ExportBundle
			if err := jsonx.Unmarshal(data, &bundle); err != nil {
				return fmt.Errorf("decode bundle: %w", err)
			}
			path, err := eng.Scripts().Import(&bundle, overwrite)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s -> %s\n", green("imported"), cyan(bundle.ScriptID), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing guide with the same id")
	return cmd
}

// importMarkdown saves a local guide file into the workspace under a fresh
// script id.
func importMarkdown(eng *engine.Engine, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sc, err := script.ParseMarkdown(string(data))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	scriptID := id.NewScriptID()
	if _, err := eng.Scripts().Save(scriptID, sc.Title, string(data)); err != nil {
		return "", err
	}
	return scriptID, nil
}

// streamSession renders the live event stream until the terminal event. The
// process exit code stays 0 even for Failed sessions; the outcome is in the
// output.
func streamSession(ctx context.Context, eng *engine.Engine, sessionID string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		eng.Cancel(sessionID)
	}()

	ch, err := eng.Subscribe(ctx, sessionID)
	if err != nil {
		return err
	}
	for evt := range ch {
		printEvent(evt)
		if evt.IsTerminal() {
			break
		}
	}
	return nil
}

func printEvent(evt events.Event) {
	switch evt.Type {
	case events.StepPlanned:
		fmt.Printf("%s %v\n", yellow("plan"), evt.Payload["step"])
	case events.StepExecuted:
		fmt.Printf("%s %v\n", green("done"), evt.Payload["step"])
	case events.StepFailed:
		fmt.Printf("%s %v: %v\n", red("fail"), evt.Payload["step"], evt.Payload["error"])
	case events.GoalProgress:
		fmt.Printf("%s %v%%\n", gray("progress"), evt.Payload["progress"])
	case events.ScriptSaved:
		fmt.Printf("%s %v\n", green("saved"), evt.Payload["path"])
	case events.SessionCompleted:
		fmt.Println(green("session completed"))
	case events.SessionFailed:
		fmt.Printf("%s %v\n", red("session failed:"), evt.Payload["error"])
	case events.SessionCancelled:
		fmt.Println(yellow("session cancelled"))
	case events.ErrorEvent:
		fmt.Printf("%s %v\n", red("error"), evt.Payload["message"])
	default:
		fmt.Printf("%s %s\n", gray(string(evt.Type)), gray(payloadSummary(evt)))
	}
}

func payloadSummary(evt events.Event) string {
	if len(evt.Payload) == 0 {
		return ""
	}
	parts := make([]string, 0, len(evt.Payload))
	for k, v := range evt.Payload {
		s := fmt.Sprintf("%v", v)
		if len(s) > 60 {
			s = s[:60] + "…"
		}
		parts = append(parts, k+"="+s)
	}
	return strings.Join(parts, " ")
}

func printSnapshot(snap session.Snapshot) {
	statusColor := gray
	switch snap.Status {
	case session.StatusCompleted:
		statusColor = green
	case session.StatusFailed:
		statusColor = red
	case session.StatusCancelled:
		statusColor = yellow
	}
	fmt.Printf("session:  %s\n", snap.ID)
	fmt.Printf("status:   %s\n", statusColor(string(snap.Status)))
	fmt.Printf("progress: %d%%\n", snap.Progress)
	if snap.TotalSteps > 0 {
		fmt.Printf("steps:    %d/%d\n", snap.CurrentStep, snap.TotalSteps)
	}
	if snap.ScriptID != "" {
		fmt.Printf("script:   %s\n", snap.ScriptID)
	}
	if snap.Error != "" {
		fmt.Printf("error:    %s\n", red(snap.Error))
	}
}

func parseKV(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if k, v, ok := strings.Cut(p, "="); ok {
			out[k] = v
		}
	}
	return out
}
