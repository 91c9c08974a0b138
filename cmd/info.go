package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"vidfetch/internal"
	"vidfetch/resolver"
	"vidfetch/utils"
)

var infoJSON bool

var infoCmd = &cobra.Command{
	Use:   "info <URL>",
	Short: "List the renditions available for a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		chain, err := resolver.New(config)
		if err != nil {
			return err
		}

		info, err := chain.List(ctx, args[0])
		if err != nil {
			if me, ok := internal.AsMediaError(err); ok {
				internal.LogMediaError(me)
			}
			return err
		}

		if infoJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}
		printInfo(info)
		return nil
	},
}

func printInfo(info *internal.MediaInfo) {
	fmt.Printf("Title:    %s\n", info.Title)
	if info.Uploader != "" {
		fmt.Printf("Uploader: %s\n", info.Uploader)
	}
	if info.Platform != "" {
		fmt.Printf("Platform: %s\n", info.Platform)
	}
	if info.Duration > 0 {
		fmt.Printf("Duration: %v\n", time.Duration(info.Duration*float64(time.Second)).Round(time.Second))
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FORMAT\tEXT\tRESOLUTION\tAUDIO\tSIZE\tNOTE")
	for _, f := range info.Formats {
		resolution := "-"
		if f.Height > 0 {
			resolution = fmt.Sprintf("%dx%d", f.Width, f.Height)
		}
		size := "-"
		if f.Filesize > 0 {
			size = utils.FormatBytes(f.Filesize)
		}
		audio := "no"
		if f.HasAudio {
			audio = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", f.FormatID, f.Ext, resolution, audio, size, f.FormatNote)
	}
	w.Flush()
}

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Print the raw JSON listing")
}
