package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

var captureKinds = map[string]crawler.CaptureKind{
	"pdf":        crawler.CapturePDF,
	"screenshot": crawler.CaptureScreenshot,
	"image":      crawler.CapturePageImage,
}

// newCaptureCmd creates the 'capture' subcommand for manual captures that
// bypass the address catalogue.
func newCaptureCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "capture <pdf|screenshot|image> <url> <path>",
		Short:     "Save a PDF, screenshot or full-page image of a URL",
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{"pdf", "screenshot", "image"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := captureKinds[strings.ToLower(args[0])]
			if !ok {
				return fmt.Errorf("unknown capture kind %q: want pdf, screenshot or image", args[0])
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Capture(cmd.Context(), kind, args[1], args[2]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s of %s to %s\n", args[0], args[1], args[2])
			return nil
		},
	}
}

// newAskCmd creates the 'ask' subcommand, a free-text question to the vision
// model about an image file.
func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <image> <question...>",
		Short: "Ask the AI model a question about an image",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			answer, err := a.Ask(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
}
