package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/frontier"
	"github.com/JakeFAU/sitescraper/internal/triage"
)

// newCrawlCmd creates the 'crawl' subcommand, which works through every
// Fresh address until none remain.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Visit every Fresh address until none remain",
		Long: `Repeatedly claims the lowest-id Fresh address, acquires it and adds the
links found on stored HTML pages as new Fresh addresses. Interrupting the
command stops after the address in progress; running it again resumes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := a.Frontier().CrawlAll(cmd.Context())
			return reportRun(cmd, a.Logger(), "crawl", summary, err)
		},
	}
}

// newDomainCmd creates the 'domain' subcommand, the frontier loop restricted
// to the domain of a start URL.
func newDomainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "domain <url>",
		Short: "Crawl one domain starting from a URL",
		Long: `Registers the start URL, then visits Fresh addresses of its domain only,
adding same-domain links as they are found.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := a.Frontier().CrawlDomain(cmd.Context(), args[0])
			return reportRun(cmd, a.Logger(), "domain crawl", summary, err)
		},
	}
}

// newDownloadCmd creates the 'download' subcommand, which acquires one
// address by id regardless of its status.
func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <address-id>",
		Short: "Acquire one address by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid address id %q", args[0])
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Frontier().Download(cmd.Context(), id)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

// newOpenCmd creates the 'open' subcommand, which registers a URL as entered
// by the user and acquires it.
func newOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <url>",
		Short: "Register a URL and acquire it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Frontier().Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func reportRun(cmd *cobra.Command, logger *zap.Logger, name string, summary frontier.Summary, err error) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s: visited %d addresses, stored %d pages, created %d addresses\n",
		name, summary.RunID, summary.Visited, len(summary.PageIDs), summary.Created)
	if errors.Is(err, context.Canceled) {
		logger.Info(name+" interrupted", zap.Int("visited", summary.Visited))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func printResult(out io.Writer, res triage.Result) {
	fmt.Fprintf(out, "address %d %s: %s\n", res.Address.ID, res.Address.URL(), res.Outcome)
	if res.ClaimedID != 0 && res.ClaimedID != res.Address.ID {
		fmt.Fprintf(out, "  redirected from address %d\n", res.ClaimedID)
	}
	fmt.Fprintf(out, "  status: %s\n", res.Address.Status)
	if res.Page != nil {
		fmt.Fprintf(out, "  page %d (%s)", res.Page.ID, res.Page.ContentType)
		if res.Page.ContentPath != "" {
			fmt.Fprintf(out, " saved to %s", res.Page.ContentPath)
		}
		fmt.Fprintln(out)
	}
}
