package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/landmarks"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <name> [image]",
	Short: "Register a face from an image or a landmarks file",
	Long: `Register (or overwrite) the reference for <name>.
The face is read from an image through the configured detector, or from a
landmarks JSON document ({"faces": [[[x,y,z], ...]]}) given with --landmarks.
The first face is used.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRegister,
}

var recognizeCmd = &cobra.Command{
	Use:   "recognize [image]",
	Short: "Recognize the faces in an image or a landmarks file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRecognize,
}

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(recognizeCmd)

	registerCmd.Flags().String("landmarks", "", "Landmarks JSON file instead of an image")

	recognizeCmd.Flags().String("landmarks", "", "Landmarks JSON file instead of an image")
	recognizeCmd.Flags().Int("width", 0, "Frame width for bounding boxes when using --landmarks")
	recognizeCmd.Flags().Int("height", 0, "Frame height for bounding boxes when using --landmarks")
	recognizeCmd.Flags().Bool("record", false, "Write recognized people to the attendance log")
	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
}

// loadFaces reads faces either from a landmarks file or by running the
// detector on an image. It also returns the image size when known.
func loadFaces(ctx context.Context, landmarksFile string, args []string) ([]landmarks.Set, int, int, error) {
	if landmarksFile != "" {
		data, err := os.ReadFile(landmarksFile)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("failed to read landmarks: %w", err)
		}
		faces, err := landmarks.ParseFaces(data)
		return faces, 0, 0, err
	}

	if len(args) == 0 {
		return nil, 0, 0, fmt.Errorf("an image path or --landmarks is required")
	}
	det, err := requireDetector()
	if err != nil {
		return nil, 0, 0, err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read image: %w", err)
	}
	width, height, err := landmarks.ImageSize(data)
	if err != nil {
		return nil, 0, 0, err
	}
	faces, err := det.Detect(ctx, data)
	return faces, width, height, err
}

func runRegister(cmd *cobra.Command, args []string) error {
	name := args[0]
	landmarksFile, _ := cmd.Flags().GetString("landmarks")

	faces, _, _, err := loadFaces(cmd.Context(), landmarksFile, args[1:])
	if err != nil {
		return err
	}
	if len(faces) == 0 {
		return landmarks.ErrNoFace
	}

	ext, err := newExtractor()
	if err != nil {
		return err
	}
	vec, err := ext.Extract(faces[0])
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	if _, err := store.Register(name, vec); err != nil {
		return err
	}

	fmt.Printf("Registered %s.\n", name)
	return nil
}

func runRecognize(cmd *cobra.Command, args []string) error {
	landmarksFile, _ := cmd.Flags().GetString("landmarks")
	record, _ := cmd.Flags().GetBool("record")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	faces, width, height, err := loadFaces(cmd.Context(), landmarksFile, args)
	if err != nil {
		return err
	}
	if landmarksFile != "" {
		width, _ = cmd.Flags().GetInt("width")
		height, _ = cmd.Flags().GetInt("height")
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	var log *attendance.Log
	if record {
		if log, err = openAttendance(); err != nil {
			return err
		}
	}
	sess, err := newSession(store, log)
	if err != nil {
		return err
	}

	results, err := sess.ProcessFrame(faces, width, height)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No faces detected.")
		return nil
	}
	for i, f := range results {
		status := "rejected"
		if f.Accepted {
			status = "accepted"
		}
		fmt.Printf("Face %d: %-20s score %.3f  %s", i+1, f.Name, f.Score, status)
		if f.Logged {
			fmt.Print("  (attendance logged)")
		}
		fmt.Println()
	}
	return nil
}
