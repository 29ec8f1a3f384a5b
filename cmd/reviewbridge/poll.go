package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/reviewbridge/internal/adapter/driving/http"
)

func pollCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run a poll cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp httphandler.PollResponse
			client := newAPIClient(resolveServer(opts))
			if err := client.do(cmd.Context(), http.MethodPost, "/api/v1/poll", nil, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if c := resp.Cycle; c != nil {
				fmt.Fprintf(out, "repos: %d  not modified: %d  dispatched: %d  deferred: %d  pruned: %d  errors: %d\n",
					c.Repos, c.NotModified, c.Dispatched, c.Deferred, c.Pruned, c.Errors)
			}
			if resp.Error != "" {
				return fmt.Errorf("poll finished with errors: %s", resp.Error)
			}
			return nil
		},
	}
}
