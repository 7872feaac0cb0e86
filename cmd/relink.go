package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/relink"
)

// newRelinkCmd creates the 'relink' subcommand, the chunked link backfill
// over every stored page.
func newRelinkCmd() *cobra.Command {
	var (
		fromID  int64
		restart bool
		quiet   bool
	)
	cmd := &cobra.Command{
		Use:   "relink",
		Short: "Re-extract links from every stored page",
		Long: `Walks stored pages in ascending id order, in chunks, adding the links they
contain as Fresh addresses. Progress is checkpointed after every chunk, so an
interrupted run resumes from the last completed chunk unless --from or
--restart is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := a.Logger()

			var from relink.Checkpoint
			switch {
			case fromID > 0:
				from.LastID = fromID - 1
			case !restart:
				if from, err = relink.LoadCheckpoint(a.CheckpointPath()); err != nil {
					return err
				}
			}
			if from.LastID > 0 {
				logger.Info("resuming relink", zap.Int64("after_page_id", from.LastID))
			}

			total, err := a.Store().CountPages(cmd.Context())
			if err != nil {
				return fmt.Errorf("count pages: %w", err)
			}
			bar := progressbar.NewOptions64(total,
				progressbar.OptionSetDescription("Relinking pages"),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionShowCount(),
				progressbar.OptionSetVisibility(!quiet),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "=",
					SaucerHead:    ">",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)
			done, created := from.Processed, from.Created
			_ = bar.Set64(min(done, total))

			cp, err := a.Relinker().Run(cmd.Context(), from, func(cp relink.Checkpoint) {
				_ = bar.Set64(min(cp.Processed, total))
			})
			_ = bar.Finish()
			fmt.Fprintln(cmd.ErrOrStderr())
			fmt.Fprintf(cmd.OutOrStdout(), "relinked %d pages up to page %d, created %d addresses\n",
				cp.Processed-done, cp.LastID, cp.Created-created)
			if errors.Is(err, context.Canceled) {
				logger.Info("relink interrupted; rerun to resume", zap.Int64("last_page_id", cp.LastID))
				return nil
			}
			return err
		},
	}
	cmd.Flags().Int64Var(&fromID, "from", 0, "start at this page id instead of the checkpoint")
	cmd.Flags().BoolVar(&restart, "restart", false, "ignore the checkpoint and start from the first page")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "hide the progress bar")
	return cmd
}

// newRelinkPageCmd creates the 'relink-page' subcommand, extraction for one
// stored page.
func newRelinkPageCmd() *cobra.Command {
	var sameDomain bool
	cmd := &cobra.Command{
		Use:   "relink-page <page-id>",
		Short: "Extract links from one stored page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid page id %q", args[0])
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			created, err := a.Extractor().Populate(cmd.Context(), id, sameDomain)
			out := cmd.OutOrStdout()
			for _, addr := range created {
				fmt.Fprintf(out, "%d\t%s\n", addr.ID, addr.URL())
			}
			fmt.Fprintf(out, "created %d addresses from page %d\n", len(created), id)
			return err
		},
	}
	cmd.Flags().BoolVar(&sameDomain, "domain", false, "only keep links on the page's own domain")
	return cmd
}
