package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/reviewbridge/internal/adapter/driving/http"
	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
)

func historyCmd(opts *rootOptions) *cobra.Command {
	var (
		repo       string
		pr         int
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent review runs",
		Long: `List review attempts from the daemon's run log, newest first.

Examples:
  reviewbridge history
  reviewbridge history --repo acme/widgets --limit 5
  reviewbridge history --repo acme/widgets --pr 7 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if repo != "" {
				if _, _, err := model.SplitRepoName(repo); err != nil {
					return err
				}
				q.Set("repo", repo)
			}
			if pr > 0 {
				q.Set("pr", strconv.Itoa(pr))
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}

			var runs []httphandler.RunResponse
			client := newAPIClient(resolveServer(opts))
			if err := client.do(cmd.Context(), http.MethodGet, "/api/v1/runs", q, &runs); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			_, err := fmt.Fprint(out, renderRuns(runs))
			return err
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "only runs of this repository (owner/name)")
	cmd.Flags().IntVar(&pr, "pr", 0, "only runs of this pull request")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
