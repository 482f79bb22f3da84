package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/detector"
)

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Build a dataset entry from a directory of images",
	Long: `Import runs the landmark detector over every image in dir, in name order,
and persists the frames with a detected hand as one entry. The label defaults
to the directory name.

With --tree, dir holds one subdirectory per category (under Train/ when
present). Each category becomes its own entry, labelled with the lower-cased
directory name, and a failing category does not stop the others.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var (
	importLabel     string
	importThreshold float64
	importTree      bool
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&importLabel, "label", "l", "", "Entry label (default: directory name)")
	importCmd.Flags().Float64VarP(&importThreshold, "threshold", "t", -1, "Admission threshold (default from config)")
	importCmd.Flags().BoolVar(&importTree, "tree", false, "Import every category subdirectory as its own entry")
}

func runImport(cmd *cobra.Command, args []string) error {
	if importTree && importLabel != "" {
		return fmt.Errorf("--label cannot be combined with --tree")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dcfg := cfg.DetectorConfig()
	dcfg.DetectFace = false
	det, err := detector.NewMediaPipeDetector(dcfg)
	if err != nil {
		return fmt.Errorf("create detector: %w", err)
	}
	defer det.Close()

	e, err := newEnv(cfg, &captureSource{detector: det})
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	threshold := importThreshold
	if threshold < 0 {
		threshold = cfg.Session.Threshold
	}

	if importTree {
		return importCategories(ctx, cmd, e, args[0], threshold)
	}

	s, entry, err := e.curator.Import(ctx, app.ImportRequest{
		Dir:       args[0],
		Label:     importLabel,
		Threshold: threshold,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	stats := s.Stats()
	fmt.Fprintf(out, "%d image(s), %d admitted, %d rejected, %d detector error(s)\n",
		stats.Frames, stats.Accepted, stats.Rejected, stats.DetectorErrors)
	if entry == nil {
		fmt.Fprintln(out, "Nothing admitted, no entry written.")
		return nil
	}
	fmt.Fprintf(out, "Saved %s (%s)\n", entry.Filename, entry.Label)
	return nil
}

// importCategories runs a tree import and prints one line per category.
func importCategories(ctx context.Context, cmd *cobra.Command, e *env, root string, threshold float64) error {
	outcomes, err := e.curator.ImportTree(ctx, app.TreeImportRequest{Root: root, Threshold: threshold})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	saved, failed := 0, 0
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			failed++
			fmt.Fprintf(out, "%-12s error: %v\n", o.Category, o.Err)
		case o.Entry == nil:
			fmt.Fprintf(out, "%-12s %d image(s), nothing admitted\n", o.Category, o.Images)
		default:
			saved++
			fmt.Fprintf(out, "%-12s %d image(s), %d admitted, %d skipped -> %s\n",
				o.Category, o.Images, o.Admitted, o.Skipped, o.Entry.Filename)
		}
	}
	fmt.Fprintf(out, "%d categor(ies), %d saved, %d failed\n", len(outcomes), saved, failed)
	return nil
}
