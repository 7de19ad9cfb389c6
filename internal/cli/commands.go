package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/answersync/internal/answer"
	"github.com/roach88/answersync/internal/netprobe"
	"github.com/roach88/answersync/internal/submission"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	ElementID     string
	LessonID      string
	GraphLessonID string
	Answer        string // JSON text, "-" reads stdin
}

func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one answer, caching it if the remote API is unreachable",
		Long: `Submit one answer. The connectivity probe decides whether the remote
call is attempted; when it is not, or when the call fails, the answer is
kept in the local cache and sent by the next sync.

Exit codes:
  0 - Accepted remotely, or cached while offline
  1 - Remote call failed; the answer is cached for retry
  2 - Command error (invalid answer, missing config, etc.)

Examples:
  answersync submit --element q1 --lesson l1 --graph-lesson gl1 --answer '{"choice":2}'
  echo '{"text":"42"}' | answersync submit --element q2 --lesson l1 --graph-lesson gl1 --answer -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ElementID, "element", "", "element id (required)")
	cmd.Flags().StringVar(&opts.LessonID, "lesson", "", "lesson id (required)")
	cmd.Flags().StringVar(&opts.GraphLessonID, "graph-lesson", "", "graph lesson id sent to the remote API (required)")
	cmd.Flags().StringVar(&opts.Answer, "answer", "", `answer as JSON, or "-" to read stdin (required)`)
	for _, name := range []string{"element", "lesson", "graph-lesson", "answer"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runSubmit(opts *SubmitOptions, cmd *cobra.Command) error {
	raw := opts.Answer
	if raw == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read answer from stdin", err)
		}
		raw = strings.TrimSpace(string(data))
	}

	a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.connect(cmd.Context()); err != nil {
		return err
	}

	res, err := a.coord.SubmitAnswer(cmd.Context(), answer.SubmitRequest{
		ElementID:     opts.ElementID,
		LessonID:      opts.LessonID,
		GraphLessonID: opts.GraphLessonID,
		Answer:        json.RawMessage(raw),
	})
	if err != nil {
		if submission.IsRequestError(err) {
			return WrapExitError(ExitCommandError, "invalid answer", err)
		}
		return WrapExitError(ExitFailure, "submit failed", err)
	}

	out := newFormatter(cmd, opts.RootOptions)
	if err := out.Success(res, func(w io.Writer) {
		fmt.Fprintln(w, describeResult(res))
	}); err != nil {
		return err
	}
	if !res.Success {
		return NewExitError(ExitFailure, "answer cached after failed submit")
	}
	return nil
}

// describeResult renders the three outcomes a caller distinguishes.
func describeResult(res answer.SubmissionResult) string {
	switch {
	case res.Success && !res.Cached:
		return "✓ Saved online"
	case res.Success:
		return "✓ Saved locally, will sync when online"
	case res.Rejected:
		return "✗ Rejected by the server, kept locally: " + res.Error
	default:
		return "✗ Save failed, kept locally for retry: " + res.Error
	}
}

// syncResult is the output of the sync command.
type syncResult struct {
	Succeeded int `json:"succeeded"`
	Remaining int `json:"remaining"`
}

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Resend every cached answer now",
		Long: `Resend every pending or failed answer in the order it was cached. A
failure marks that answer failed and the batch moves on.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.connect(cmd.Context()); err != nil {
				return err
			}

			res := syncResult{Succeeded: a.coord.RetryFailedSubmissions(cmd.Context())}
			res.Remaining, err = a.coord.GetPendingCount(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to count cached answers", err)
			}

			return newFormatter(cmd, rootOpts).Success(res, func(w io.Writer) {
				fmt.Fprintf(w, "Synced %d answer(s), %d remaining\n", res.Succeeded, res.Remaining)
			})
		},
	}
}

func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List cached answers waiting to sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			answers, err := a.store.GetPendingAnswers(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read cached answers", err)
			}
			return newFormatter(cmd, rootOpts).Success(answers, func(w io.Writer) {
				writePending(w, answers)
			})
		},
	}
}

func writePending(w io.Writer, answers []answer.CachedAnswer) {
	if len(answers) == 0 {
		fmt.Fprintln(w, "No cached answers.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LESSON\tELEMENT\tSTATUS\tATTEMPTS\tUPDATED\tLAST ERROR")
	for _, a := range answers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			a.LessonID, a.ElementID, a.Status, a.Attempts,
			a.UpdatedAt.Format(time.RFC3339), a.LastError)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d answer(s) pending\n", len(answers))
}

// statusResult is the output of the status command.
type statusResult struct {
	Reachable     bool   `json:"reachable"`
	EffectiveType string `json:"effective_type,omitempty"`
	RTTMillis     int64  `json:"rtt_ms,omitempty"`
	ProbeError    string `json:"probe_error,omitempty"`
	Pending       int    `json:"pending"`
}

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe connectivity and count cached answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.openProbe(); err != nil {
				return err
			}

			var res statusResult
			if r, err := a.probe.Check(cmd.Context()); err != nil {
				res.ProbeError = err.Error()
			} else {
				res.Reachable = true
				res.RTTMillis = r.RTT.Milliseconds()
				res.EffectiveType = netprobe.EffectiveType(r.RTT)
			}
			res.Pending, err = a.store.GetPendingCount(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to count cached answers", err)
			}

			return newFormatter(cmd, rootOpts).Success(res, func(w io.Writer) {
				if res.Reachable {
					fmt.Fprintf(w, "Network: online (%s, %dms)\n", res.EffectiveType, res.RTTMillis)
				} else {
					fmt.Fprintf(w, "Network: offline (%s)\n", res.ProbeError)
				}
				fmt.Fprintf(w, "Pending: %d\n", res.Pending)
			})
		},
	}
}

func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached answer",
		Long: `Delete every cached answer, including ones that never reached the
server. Requires --yes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.GetPendingCount(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to count cached answers", err)
			}
			if !yes {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("refusing to delete %d cached answer(s) without --yes", n))
			}
			if err := a.store.ClearAll(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "failed to clear cached answers", err)
			}

			return newFormatter(cmd, rootOpts).Success(map[string]int{"cleared": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Cleared %d cached answer(s)\n", n)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
