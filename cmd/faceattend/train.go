package main

import (
	"fmt"
	"os"

	"github.com/MrCodeEU/faceattend/pkg/training"
	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train [data-dir]",
	Short: "Build references from folders of photos",
	Long: `Build one reference per person from <data-dir>/<name>/*.jpg|jpeg|png.
Each reference is the mean vector of every photo with a detectable face.
Defaults to training.data_dir.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTrain,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [data-dir]",
	Short: "Check stored references against the first photo of each person",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runEvaluate,
}

func init() {
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(evaluateCmd)
}

func trainingDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.Training.DataDir
}

func runTrain(cmd *cobra.Command, args []string) error {
	det, err := requireDetector()
	if err != nil {
		return err
	}
	ext, err := newExtractor()
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}

	dataDir := trainingDir(args)
	fmt.Printf("Data directory:   %s\n", dataDir)
	fmt.Printf("Output directory: %s\n\n", store.Dir())

	builder := training.NewBuilder(det, ext, store,
		training.WithExtensions(cfg.Training.Extensions),
		training.WithProgress(os.Stderr),
	)
	summary, err := builder.Build(cmd.Context(), dataDir)
	if err != nil {
		return err
	}

	fmt.Println()
	for _, p := range summary.People {
		switch {
		case p.Saved:
			fmt.Printf("  ✓ %-20s %d/%d images\n", p.Name, p.Used, len(p.Images))
		case len(p.Images) == 0:
			fmt.Printf("  ⚠ %-20s no images found\n", p.Name)
		default:
			fmt.Printf("  ⚠ %-20s no valid faces found\n", p.Name)
		}
		for _, img := range p.Images {
			if !img.Used {
				fmt.Printf("      ✗ %s (%s)\n", img.File, img.Error)
			}
		}
	}
	fmt.Printf("\nTraining complete. Successfully trained %d/%d people.\n", summary.Trained, len(summary.People))
	return nil
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	det, err := requireDetector()
	if err != nil {
		return err
	}
	ext, err := newExtractor()
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	refs, err := store.LoadAll()
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return fmt.Errorf("no references found in %s, run 'faceattend train' first", store.Dir())
	}

	builder := training.NewBuilder(det, ext, nil, training.WithExtensions(cfg.Training.Extensions))
	eval, err := builder.Evaluate(cmd.Context(), trainingDir(args), newMatcher(), refs)
	if err != nil {
		return err
	}

	for _, r := range eval.Results {
		switch r.Status {
		case training.StatusPass:
			fmt.Printf("  ✓ PASS  %s recognized (similarity %.3f)\n", r.Name, r.Score)
		case training.StatusWrongMatch:
			fmt.Printf("  ✗ FAIL  %s recognized as %s (similarity %.3f)\n", r.Name, r.Match, r.Score)
		case training.StatusNotRecognized:
			fmt.Printf("  ⚠ MISS  %s not recognized (best %s with %.3f, threshold %.2f)\n", r.Name, r.Match, r.Score, cfg.Recognition.Threshold)
		case training.StatusNoFace:
			fmt.Printf("  ✗ NOFACE %s (%s)\n", r.Name, r.Image)
		}
	}
	fmt.Printf("\nPassed: %d/%d\n", eval.Passed, len(eval.Results))

	if !eval.AllPassed() {
		return fmt.Errorf("%d of %d people failed evaluation", len(eval.Results)-eval.Passed, len(eval.Results))
	}
	return nil
}
