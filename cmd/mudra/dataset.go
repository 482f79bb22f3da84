package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/npy"
	"github.com/ayusman/mudra/internal/prompt"
	"github.com/ayusman/mudra/internal/report"
	"github.com/ayusman/mudra/internal/vector"
)

// =============================================================================
// Commands
// =============================================================================

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List dataset entries",
	Long:  `List prints every indexed entry with its index. Entries whose batch file is gone are marked missing.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [index...]",
	Short: "Delete dataset entries with their summaries and reports",
	Long: `Delete removes the entries at the given indices from the index, then their
batch, summary and report files. Without arguments the entries are listed and
a selection is asked for.`,
	RunE: runDelete,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Regenerate the report of every entry",
	Args:  cobra.NoArgs,
	RunE:  runAnalyze,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <index>",
	Short: "Print the report or a decoded frame of an entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var (
	outputJSON   bool
	inspectFrame int
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(inspectCmd)

	for _, c := range []*cobra.Command{listCmd, deleteCmd, analyzeCmd, inspectCmd} {
		c.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")
	}
	inspectCmd.Flags().IntVarP(&inspectFrame, "frame", "f", -1, "Decode this frame instead of printing the report")
}

// =============================================================================
// list
// =============================================================================

type listedEntry struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Label    string `json:"label"`
	Missing  bool   `json:"missing"`
}

func runList(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()

	entries, err := e.index.List()
	if err != nil {
		return err
	}
	missing, err := e.index.Verify()
	if err != nil {
		return err
	}
	gone := make(map[int]bool, len(missing))
	for _, m := range missing {
		gone[m.Index] = true
	}

	listed := make([]listedEntry, len(entries))
	for i, entry := range entries {
		listed[i] = listedEntry{Index: i, Filename: entry.Filename, Label: entry.Label, Missing: gone[i]}
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		return writeJSON(out, listed)
	}
	if len(listed) == 0 {
		fmt.Fprintln(out, "No entries.")
		return nil
	}
	for _, l := range listed {
		flag := ""
		if l.Missing {
			flag = "  [missing]"
		}
		fmt.Fprintf(out, "[%d] %s  (%s)%s\n", l.Index, l.Label, l.Filename, flag)
	}
	return nil
}

// =============================================================================
// delete
// =============================================================================

func runDelete(cmd *cobra.Command, args []string) error {
	indices := make([]int, 0, len(args))
	for _, a := range args {
		parsed, err := prompt.ParseIndices(a)
		if err != nil {
			return err
		}
		indices = append(indices, parsed...)
	}

	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	var rep *dataset.DeleteReport
	if len(indices) > 0 {
		rep, err = e.curator.Delete(ctx, indices)
	} else {
		terminal := prompt.New(cmd.InOrStdin(), cmd.OutOrStdout(), e.cfg.SessionDefaults(""))
		rep, err = e.curator.Manage(ctx, terminal)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if rep == nil {
		fmt.Fprintln(out, "Nothing deleted.")
		return nil
	}
	if outputJSON {
		return writeJSON(out, rep)
	}
	printDeleteReport(out, rep)
	return nil
}

// printDeleteReport writes one line per artifact.
func printDeleteReport(w io.Writer, rep *dataset.DeleteReport) {
	for _, removed := range rep.Removed {
		fmt.Fprintf(w, "[%d] %s\n", removed.Index, removed.Entry.Filename)
		for _, a := range removed.Artifacts {
			line := fmt.Sprintf("  %-8s %-7s %s", a.Kind, a.Status, a.Path)
			if a.Err != nil {
				line += ": " + a.Err.Error()
			}
			fmt.Fprintln(w, line)
		}
	}
	for _, i := range rep.OutOfRange {
		fmt.Fprintf(w, "[%d] out of range\n", i)
	}
}

// =============================================================================
// analyze
// =============================================================================

func runAnalyze(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()

	outcomes, err := e.curator.Reanalyze()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		return writeJSON(out, outcomes)
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Fprintf(out, "[%d] %s: %v\n", o.Index, o.Entry.Filename, o.Err)
			continue
		}
		fmt.Fprintf(out, "[%d] %s -> %s\n", o.Index, o.Entry.Filename, o.Report)
	}
	fmt.Fprintf(out, "%d analyzed, %d failed\n", len(outcomes)-failed, failed)
	return nil
}

// =============================================================================
// inspect
// =============================================================================

func runInspect(cmd *cobra.Command, args []string) error {
	i, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid index %q", args[0])
	}

	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()

	entries, err := e.index.List()
	if err != nil {
		return err
	}
	if i < 0 || i >= len(entries) {
		return fmt.Errorf("index %d out of range (0-%d)", i, len(entries)-1)
	}
	entry := entries[i]
	out := cmd.OutOrStdout()

	if inspectFrame < 0 {
		rec, err := report.ReadRecord(e.index.Artifacts(entry).Report)
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no report for %s, run analyze", entry.Filename)
		}
		if err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(out, rec)
		}
		printRecord(out, entry, rec)
		return nil
	}

	batch, err := npy.ReadFile(e.index.Paths().Resolve(entry.Filename))
	if err != nil {
		return err
	}
	if inspectFrame >= batch.Rows {
		return fmt.Errorf("frame %d out of range (batch has %d)", inspectFrame, batch.Rows)
	}
	layout, ok := vector.LayoutForLen(batch.Cols)
	if !ok {
		return fmt.Errorf("unknown vector layout of width %d", batch.Cols)
	}
	codec, err := vector.NewCodec(layout)
	if err != nil {
		return err
	}
	frame, err := codec.Decode(batch.Row(inspectFrame))
	if err != nil {
		return err
	}
	if outputJSON {
		return writeJSON(out, frame)
	}

	fmt.Fprintf(out, "%s frame %d/%d, layout %s\n", entry.Filename, inspectFrame, batch.Rows, layout)
	for slot := range frame.Hands {
		wrist := frame.Hands[slot][0]
		if !frame.Present(slot) {
			fmt.Fprintf(out, "  %-5s absent\n", layout.SlotSide(slot))
			continue
		}
		fmt.Fprintf(out, "  %-5s wrist (%.3f, %.3f, %.3f)\n", layout.SlotSide(slot), wrist[0], wrist[1], wrist[2])
	}
	if frame.Face != nil {
		nose := frame.Face[1]
		fmt.Fprintf(out, "  face  nose (%.3f, %.3f, %.3f)\n", nose[0], nose[1], nose[2])
	}
	return nil
}

func printRecord(w io.Writer, entry dataset.Entry, rec *report.Record) {
	fmt.Fprintf(w, "%s (%s)\n", entry.Filename, entry.Label)
	fmt.Fprintf(w, "  samples        %d (shape %dx%d)\n", rec.NumSamples, rec.Shape[0], rec.Shape[1])
	fmt.Fprintf(w, "  non-zero       %d/%d (%.1f%%)\n", rec.GlobalNonZero[0], rec.GlobalNonZero[1], rec.GlobalNonZeroRatio)
	fmt.Fprintf(w, "  fluidity       mean %.4f  std %.4f  (%d steps)\n", rec.FluidityMean, rec.FluidityStd, rec.FluiditySeriesLen)
	fmt.Fprintf(w, "  generated at   %s\n", rec.GeneratedAt.Format("2006-01-02 15:04:05"))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
