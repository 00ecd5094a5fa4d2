package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	resetGallery  bool
	resetOverlays bool
	resetUploads  bool
	resetYes      bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset generated files (Gallery Exports, Overlays, Uploads)",
	Long:  "Clears generated files. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetGallery && !resetOverlays && !resetUploads {
			resetGallery = true
			resetOverlays = true
			resetUploads = true
		}

		reader := bufio.NewReader(cmd.InOrStdin())
		out := cmd.OutOrStdout()
		ask := func(prompt string) bool {
			return resetYes || confirm(reader, out, prompt)
		}

		if resetGallery && ask("⚠️  Are you sure you want to delete all exported face thumbnails?") {
			fmt.Fprintln(out, "🗑️  Clearing Gallery Exports...")
			removeDir(filepath.Join(cfg.OutputDir, "gallery"))
		}

		if resetOverlays && ask("⚠️  Are you sure you want to delete all saved overlays?") {
			fmt.Fprintln(out, "🗑️  Clearing Overlays...")
			removeDir(filepath.Join(cfg.OutputDir, "overlays"))
		}

		if resetUploads && ask("⚠️  Are you sure you want to delete all uploaded videos?") {
			fmt.Fprintln(out, "🗑️  Clearing Uploads...")
			removeDir(cfg.UploadDir)
		}

		fmt.Fprintln(out, "✨ Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetGallery, "gallery", false, "Clear exported gallery thumbnails")
	resetCmd.Flags().BoolVar(&resetOverlays, "overlays", false, "Clear saved overlay images")
	resetCmd.Flags().BoolVar(&resetUploads, "uploads", false, "Clear videos uploaded through serve")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
