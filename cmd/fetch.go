package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vidfetch/internal"
	"vidfetch/utils"
)

const pollInterval = 250 * time.Millisecond

var (
	fetchFormat string
	fetchTitle  string
	outputPath  string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <URL>",
	Short: "Download one video in the foreground",
	Long: `Download one video without starting the server. The session runs exactly
like one started through the API and the finished file is copied to the
output path.

Examples:
  vidfetch fetch https://example.com/watch/42
  vidfetch fetch -f audio -o song.m4a https://example.com/watch/42
  vidfetch fetch -f 137 -o clips/ https://www.youtube.com/watch?v=abc`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(config)
		if err != nil {
			return err
		}
		defer a.close()

		return runFetch(ctx, a, args[0])
	},
}

func runFetch(ctx context.Context, a *app, rawURL string) error {
	id, err := a.orch.Start(rawURL, fetchFormat, fetchTitle)
	if err != nil {
		return err
	}
	internal.ForSession(id).Debug("fetching %s", rawURL)

	tracker := utils.NewProgressTracker(os.Stderr, config.QuietMode)
	state, err := pollSession(ctx, a, id, tracker)
	if err != nil {
		tracker.Abort()
		return err
	}
	if state.State == internal.StateFailed {
		tracker.Abort()
		return errors.New(state.Error)
	}

	artifact, ok := a.registry.Get(id)
	if !ok {
		tracker.Abort()
		return fmt.Errorf("download finished but its file is gone")
	}
	defer a.reaper.Purge(id)

	dest, err := resolveOutputPath(outputPath, artifact.Filename)
	if err != nil {
		tracker.Abort()
		return err
	}
	if err := copyFile(artifact.Path, dest); err != nil {
		tracker.Abort()
		return fmt.Errorf("cannot write %s: %w", dest, err)
	}

	artifact.Path = dest
	tracker.Finish(&artifact)
	return nil
}

// pollSession feeds the progress store into the terminal tracker until the
// session is terminal. Interrupting ctx cancels the session and waits for it
// to clean up.
func pollSession(ctx context.Context, a *app, id string, tracker *utils.ProgressTracker) (internal.ProgressState, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		state, ok := a.progress.Get(id)
		if !ok {
			return state, internal.NewNotFoundError("Download not found")
		}
		tracker.Update(state)
		if state.State.Terminal() {
			return state, nil
		}

		select {
		case <-ctx.Done():
			internal.LogInfo("Interrupted, cancelling download...")
			if err := a.orch.Cancel(id); err == nil {
				waitCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
				a.orch.Wait(waitCtx, id)
				cancel()
			}
			return state, fmt.Errorf("download cancelled by user")
		case <-ticker.C:
		}
	}
}

// resolveOutputPath picks the destination. An empty path means the download
// filename in the working directory, a directory gets the filename appended.
func resolveOutputPath(path, filename string) (string, error) {
	if path == "" {
		return filename, nil
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, filename), nil
	}
	dir := filepath.Dir(path)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("output directory does not exist: %s", dir)
	}
	return path, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchFormat, "format", "f", "best", "best, video, audio, video_only or a format id from 'info'")
	fetchCmd.Flags().StringVarP(&fetchTitle, "title", "t", "", "Title used for the file name (default: the source title)")
	fetchCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file or directory (default: current directory)")
}
