package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/faceframe/internal/utils"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe <video>",
	Short: "Print a video's intrinsic size, frame rate and frame count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := utils.ProbeVideo(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("cannot probe %s: %w", args[0], err)
		}
		if info.TotalFrames <= 0 {
			// Container did not record it; count packets instead
			info.TotalFrames = utils.GetTotalFrames(cmd.Context(), args[0])
		}
		id, err := utils.GenerateAssetID(args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Video ID:   %s\n", id[:12])
		fmt.Fprintf(os.Stdout, "Intrinsic:  %dx%d\n", info.Width, info.Height)
		fmt.Fprintf(os.Stdout, "Frame rate: %.3f fps\n", info.FPS)
		if info.TotalFrames > 0 {
			fmt.Fprintf(os.Stdout, "Frames:     %d\n", info.TotalFrames)
			if info.FPS > 0 {
				fmt.Fprintf(os.Stdout, "Duration:   %s\n", fmtTime(float64(info.TotalFrames)/info.FPS))
			}
		} else {
			fmt.Fprintf(os.Stdout, "Frames:     unknown\n")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
