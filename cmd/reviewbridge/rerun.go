package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/reviewbridge/internal/adapter/driving/http"
	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
)

func rerunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rerun owner/name#N",
		Short: "Review a pull request again on the next poll",
		Long: `Ask the running daemon to review a pull request again, even when its
last attempt on the current head commit failed.

Example:
  reviewbridge rerun acme/widgets#7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, number, err := parsePRRef(args[0])
			if err != nil {
				return err
			}

			owner, name, _ := strings.Cut(repo, "/")
			path := fmt.Sprintf("/api/v1/repos/%s/%s/pulls/%d/rerun", owner, name, number)

			var resp httphandler.RerunResponse
			client := newAPIClient(resolveServer(opts))
			if err := client.do(cmd.Context(), http.MethodPost, path, nil, &resp); err != nil {
				var apiErr *apiError
				if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
					return fmt.Errorf("%s#%d has never been reviewed; it is picked up by the next poll anyway", repo, number)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s#%d queued for review\n", resp.Repo, resp.Number)
			return nil
		},
	}
}

// parsePRRef parses "owner/name#N".
func parsePRRef(ref string) (string, int, error) {
	repo, num, ok := strings.Cut(strings.TrimSpace(ref), "#")
	if !ok {
		return "", 0, fmt.Errorf("invalid pull request %q (expected owner/name#N)", ref)
	}
	if _, _, err := model.SplitRepoName(repo); err != nil {
		return "", 0, err
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("invalid pull request number %q", num)
	}
	return repo, n, nil
}
