package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/mentora/engine/internal/client"
	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/domain/engine"
	"github.com/mentora/engine/internal/domain/recovery"
)

var (
	serverURL string
	timeout   time.Duration
	asJSON    bool

	regenFrom string
	regenDays int

	bpFormat string
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "mentoractl",
		Short:         "Inspect and drive the mentora schedule engine.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	defaultURL := os.Getenv("MENTORA_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8000"
	}
	root.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "Engine base URL (env MENTORA_URL).")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout.")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "Print raw JSON instead of a table.")

	root.AddCommand(
		&cobra.Command{
			Use:   "today",
			Short: "Show today's schedule.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				v, err := apiClient().Today(cmd.Context())
				if err != nil {
					return err
				}
				return printDay(cmd.OutOrStdout(), v)
			},
		},
		&cobra.Command{
			Use:   "day YYYY-MM-DD",
			Short: "Show one day's schedule.",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := apiClient().Day(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printDay(cmd.OutOrStdout(), v)
			},
		},
		&cobra.Command{
			Use:   "week [YYYY-MM-DD]",
			Short: "Show the week containing a date (default: this week).",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				start := ""
				if len(args) == 1 {
					start = args[0]
				}
				v, err := apiClient().Week(cmd.Context(), start)
				if err != nil {
					return err
				}
				return printWeek(cmd.OutOrStdout(), v)
			},
		},
		&cobra.Command{
			Use:   "done INSTANCE_ID",
			Short: "Mark an instance completed.",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				inst, err := apiClient().Done(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), inst)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s marked done\n", inst.ID, inst.Title)
				return nil
			},
		},
		outcomeCmd("missed", "Mark an instance missed and reschedule it.", (*client.Client).Missed),
		outcomeCmd("snooze", "Push an instance to its next free slot.", (*client.Client).Snooze),
		regenerateCmd(),
		blueprintCmd(),
		&cobra.Command{
			Use:   "mentor",
			Short: "Print the mentor context snapshot.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				raw, err := apiClient().MentorContext(cmd.Context())
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(append(raw, '\n'))
				return err
			},
		},
	)
	return root
}

func apiClient() *client.Client {
	return client.New(serverURL, client.WithTimeout(timeout))
}

type outcomeFunc func(*client.Client, context.Context, string) (*recovery.Outcome, error)

func outcomeCmd(use, short string, op outcomeFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " INSTANCE_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := op(apiClient(), cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), out)
		},
	}
}

func regenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Rebuild a date range from the active blueprint.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := apiClient().Regenerate(cmd.Context(), regenFrom, regenDays)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "blueprint v%d: %d of %d days committed from %s\n",
				report.BlueprintVersion, report.Committed, len(report.Days), report.From)
			return nil
		},
	}
	cmd.Flags().StringVar(&regenFrom, "from", "", "First date (YYYY-MM-DD, default today).")
	cmd.Flags().IntVar(&regenDays, "days", 0, "Number of days (default: the engine horizon).")
	return cmd
}

func blueprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blueprint",
		Short: "Read or replace the active blueprint.",
	}
	cmd.PersistentFlags().StringVar(&bpFormat, "format", "", "Document format: json, yaml or toml (default: from file extension, else yaml).")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the active blueprint.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				format := blueprint.Format(bpFormat)
				if format == "" {
					format = blueprint.FormatYAML
				}
				doc, err := apiClient().Blueprint(cmd.Context(), format)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(doc)
				return err
			},
		},
		&cobra.Command{
			Use:   "put FILE",
			Short: "Upload a blueprint document (\"-\" reads stdin).",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, format, err := readDocument(cmd.InOrStdin(), args[0])
				if err != nil {
					return err
				}
				acc, err := apiClient().PutBlueprint(cmd.Context(), data, format)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "accepted blueprint v%d (%d templates, digest %s)\n",
					acc.Version, acc.Templates, shortDigest(acc.Digest))
				return nil
			},
		},
	)
	return cmd
}

func readDocument(stdin io.Reader, path string) ([]byte, blueprint.Format, error) {
	format := blueprint.Format(bpFormat)
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
		if format == "" {
			format = blueprint.FormatYAML
		}
	} else {
		data, err = os.ReadFile(path)
		if format == "" {
			format = blueprint.FormatFromPath(path)
		}
	}
	if err != nil {
		return nil, "", fmt.Errorf("read blueprint: %w", err)
	}
	return data, format, nil
}

func printDay(w io.Writer, v engine.DayView) error {
	if asJSON {
		return writeJSON(w, v)
	}
	fmt.Fprintf(w, "%s %s  [%s]\n", v.Weekday, v.Date, v.State)
	if v.BlueprintError != "" {
		fmt.Fprintf(w, "blueprint error: %s\n", v.BlueprintError)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTASK\tCATEGORY\tSTATUS\tID")
	for _, s := range v.Slots {
		status := s.Status.String()
		if s.Overdue {
			status += " (overdue)"
		}
		fmt.Fprintf(tw, "%s-%s\t%s\t%s\t%s\t%s\n", s.Start, s.End, s.Title, s.Category, status, s.ID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, u := range v.Unplaced {
		fmt.Fprintf(w, "unplaced: %s (%s)\n", u.TemplateID, u.Reason)
	}
	return nil
}

func printWeek(w io.Writer, v engine.WeekView) error {
	if asJSON {
		return writeJSON(w, v)
	}
	fmt.Fprintf(w, "week of %s\n", v.WeekStart)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DAY\tSTATE\tTASKS")
	for _, d := range v.Days {
		fmt.Fprintf(tw, "%s %s\t%s\t%d\n", d.Weekday[:3], d.Date, d.State, len(d.Slots))
	}
	fmt.Fprintln(tw, "\nCATEGORY\tMINUTES\tSHARE\tTARGET")
	for _, cat := range sortedKeys(v.Targets) {
		fmt.Fprintf(tw, "%s\t%d\t%.1f%%\t%.1f%%\n", cat, v.Minutes[cat], v.Shares[cat], v.Targets[cat])
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "drift: max %.1f pts\n", v.Drift.Max)
	return nil
}

func printOutcome(w io.Writer, out *recovery.Outcome) error {
	if asJSON {
		return writeJSON(w, out)
	}
	fmt.Fprintf(w, "%s is now %s\n", out.Instance.ID, out.Instance.Status)
	if r := out.Replacement; r != nil {
		fmt.Fprintf(w, "moved to %s %s-%s (%s)\n", r.Date, r.Start, r.End, r.ID)
	}
	if d := out.Displaced; d != nil {
		fmt.Fprintf(w, "displaced %s from %s %s\n", d.Title, d.Date, d.Start)
	}
	if out.Escalated {
		fmt.Fprintln(w, "no free slot found: flagged for manual reallocation")
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
