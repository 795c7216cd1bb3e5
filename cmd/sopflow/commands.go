package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/sopflow/internal/diagram"
	"github.com/rendis/sopflow/internal/logging"
	"github.com/rendis/sopflow/internal/scheduler"
	"github.com/rendis/sopflow/internal/store"
	"github.com/rendis/sopflow/internal/streaming"
	"github.com/rendis/sopflow/internal/validation"
	"github.com/rendis/sopflow/pkg/mcp"
	"github.com/rendis/sopflow/pkg/schema"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sop.* MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(a *app) error {
			sweeper, err := scheduler.NewSweeper(a.store, scheduler.Config{
				Schedule:   a.cfg.SweepSchedule,
				PendingTTL: a.cfg.pendingTTL(),
			}, a.logger)
			if err != nil {
				return err
			}
			if err := sweeper.Start(cmd.Context()); err != nil {
				return err
			}
			defer sweeper.Stop()

			srv := mcp.NewSOPServer(mcp.SOPServerDeps{
				Sessions:  a.sessions,
				Validator: a.validator,
				Agents:    a.registry,
				HITLTools: a.policy.Tools(),
				Logger:    a.logger,
			})
			go func() {
				if err := srv.ForwardEvents(cmd.Context(), a.events, streaming.EventFilter{}); err != nil {
					a.logger.Warn("event forwarding stopped", "error", err)
				}
			}()
			a.logger.Info("sopflow MCP server ready", "transport", "stdio", "agents", a.registry.Count())
			return srv.Serve(cmd.Context())
		})
	},
}

var runFlags struct {
	intent string
	events bool
}

var runCmd = &cobra.Command{
	Use:   "run <sop-file|->",
	Short: "Run a SOP document until it finishes or pauses for approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readDocument(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			sop, err := validation.DecodeSOP(data, a.validator.Schema())
			if err != nil {
				return err
			}
			if runFlags.events {
				stop := a.traceEvents(cmd)
				defer stop()
			}
			out, err := a.sessions.Start(cmd.Context(), runFlags.intent, sop)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			return outcomeError(out.Status, out.State.Error)
		})
	},
}

var resumeFlags struct {
	decision string
	events   bool
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Approve or reject the tool call a paused session is waiting on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			if resumeFlags.events {
				stop := a.traceEvents(cmd)
				defer stop()
			}
			out, err := a.sessions.Resume(cmd.Context(), args[0], schema.Decision(resumeFlags.decision))
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			return outcomeError(out.Status, out.State.Error)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session with its messages and run state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			sess, st, err := a.sessions.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			sess.State = nil
			return printJSON(cmd.OutOrStdout(), map[string]any{"session": sess, "state": st})
		})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <sop-file|->",
	Short: "Validate a SOP document against the registered agents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readDocument(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		cfg := loadConfig()
		_, v, err := newRegistry(cfg, logging.New(cmd.ErrOrStderr(), cfg.LogLevel))
		if err != nil {
			return err
		}

		_, result, loadErr := v.LoadSOP(data)
		if result != nil {
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
		}
		return loadErr
	},
}

var diagramFlags struct {
	session  string
	noStatus bool
}

var diagramCmd = &cobra.Command{
	Use:   "diagram [sop-file|-]",
	Short: "Print a SOP's steps and jumps as a Mermaid flowchart",
	Long: `Print a SOP's steps and jumps as a Mermaid flowchart. With --session the
SOP of a stored session is drawn together with the recorded step outcomes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (diagramFlags.session == "") == (len(args) == 0) {
			return schema.InvalidArgument("pass either a SOP file or --session")
		}
		if diagramFlags.session != "" {
			return withApp(cmd, func(a *app) error {
				sess, st, err := a.sessions.Get(cmd.Context(), diagramFlags.session)
				if err != nil {
					return err
				}
				if st == nil || st.SOP == nil {
					return schema.NewErrorf(schema.ErrCodeInvalidState, "session %q has no SOP", sess.ID)
				}
				opts := diagram.BuildOptions{Title: sess.Intent, HITLTools: a.policy.Tools()}
				if !diagramFlags.noStatus {
					opts.Status = st.Status
				}
				return printDiagram(cmd.OutOrStdout(), st.SOP, opts)
			})
		}

		data, err := readDocument(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		cfg := loadConfig()
		_, v, err := newRegistry(cfg, logging.New(cmd.ErrOrStderr(), cfg.LogLevel))
		if err != nil {
			return err
		}
		sop, err := validation.DecodeSOP(data, v.Schema())
		if err != nil {
			return err
		}
		return printDiagram(cmd.OutOrStdout(), sop, diagram.BuildOptions{HITLTools: cfg.HITLTools})
	},
}

func printDiagram(w io.Writer, sop *schema.SOP, opts diagram.BuildOptions) error {
	model, err := diagram.Build(sop, opts)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, diagram.RenderMermaid(model))
	return err
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.intent, "intent", "i", "", "what the SOP is meant to achieve, recorded on the session")
	runCmd.Flags().BoolVar(&runFlags.events, "events", false, "print run events to stderr as JSON lines")
	resumeCmd.Flags().StringVarP(&resumeFlags.decision, "decision", "d", "", "approve or reject (required)")
	resumeCmd.Flags().BoolVar(&resumeFlags.events, "events", false, "print run events to stderr as JSON lines")
	_ = resumeCmd.MarkFlagRequired("decision")
	diagramCmd.Flags().StringVarP(&diagramFlags.session, "session", "s", "", "draw the SOP of a stored session")
	diagramCmd.Flags().BoolVar(&diagramFlags.noStatus, "no-status", false, "omit recorded step outcomes")
}

// traceEvents prints every run event to stderr until the returned stop
// function is called.
func (a *app) traceEvents(cmd *cobra.Command) func() {
	events, cancel, err := a.events.Subscribe(cmd.Context(), streaming.EventFilter{})
	if err != nil {
		a.logger.Warn("cannot trace events", "error", err)
		return func() {}
	}
	done := make(chan struct{})
	enc := json.NewEncoder(cmd.ErrOrStderr())
	go func() {
		defer close(done)
		for e := range events {
			_ = enc.Encode(e)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// readDocument reads a SOP file, or stdin when path is "-".
func readDocument(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read SOP file: %w", err)
	}
	return data, nil
}

// outcomeError turns a failed session into a non-zero exit. A paused
// session is not an error.
func outcomeError(status store.SessionStatus, msg string) error {
	if status != store.SessionFailed {
		return nil
	}
	if msg == "" {
		msg = "run failed"
	}
	return schema.NewError(schema.ErrCodeExecution, msg)
}
