package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Inspect or clear the attendance log",
}

var attendanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attendance records, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAttendanceList,
}

var attendanceClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all attendance records",
	Args:  cobra.NoArgs,
	RunE:  runAttendanceClear,
}

var referencesCmd = &cobra.Command{
	Use:   "references",
	Short: "Manage registered references",
}

var referencesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered people",
	Args:  cobra.NoArgs,
	RunE:  runReferencesList,
}

var referencesRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a person's reference",
	Args:  cobra.ExactArgs(1),
	RunE:  runReferencesRemove,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Debugf("Showing configuration")
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("faceattend v%s\n", version)
	},
}

func init() {
	attendanceCmd.AddCommand(attendanceListCmd, attendanceClearCmd)
	referencesCmd.AddCommand(referencesListCmd, referencesRemoveCmd)
	rootCmd.AddCommand(attendanceCmd, referencesCmd, configCmd, versionCmd)

	attendanceListCmd.Flags().Bool("json", false, "Output as JSON")
	attendanceListCmd.Flags().Int("limit", 0, "Show at most this many records")
	attendanceClearCmd.Flags().Bool("yes", false, "Do not ask for confirmation")
}

func runAttendanceList(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	limit, _ := cmd.Flags().GetInt("limit")

	log, err := openAttendance()
	if err != nil {
		return err
	}
	records := log.List()
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Println("No attendance records.")
		return nil
	}
	fmt.Printf("%-6s %-20s %-20s %s\n", "ID", "NAME", "TIME", "CONFIDENCE")
	for _, r := range records {
		fmt.Printf("%-6d %-20s %-20s %.3f\n", r.ID, r.Name, r.Timestamp.Local().Format(time.DateTime), r.Confidence)
	}
	fmt.Printf("\nTotal: %d record(s)\n", len(records))
	return nil
}

func runAttendanceClear(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		fmt.Printf("Clear all attendance records in %s? [y/N] ", cfg.Attendance.File)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	log, err := openAttendance()
	if err != nil {
		return err
	}
	if err := log.Clear(); err != nil {
		return err
	}
	fmt.Println("Attendance log cleared.")
	return nil
}

func runReferencesList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	names, err := store.ListReferences()
	if err != nil {
		return err
	}

	if len(names) == 0 {
		fmt.Println("No people registered.")
		return nil
	}

	fmt.Println("Registered people:")
	for _, name := range names {
		ref, err := store.LoadReference(name)
		if err != nil {
			fmt.Printf("  - %s (unreadable: %v)\n", name, err)
			continue
		}
		if ref.NumImages > 0 {
			fmt.Printf("  - %-20s saved %s from %d images\n", name, ref.SavedAt.Local().Format(time.DateTime), ref.NumImages)
		} else {
			fmt.Printf("  - %-20s saved %s\n", name, ref.SavedAt.Local().Format(time.DateTime))
		}
	}
	fmt.Printf("\nTotal: %d person(s)\n", len(names))
	return nil
}

func runReferencesRemove(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.DeleteReference(args[0]); err != nil {
		return err
	}
	fmt.Printf("Reference for '%s' has been removed.\n", args[0])
	return nil
}
