package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/reviewbridge/internal/adapter/driven/statefile"
	"github.com/ericfisherdev/reviewbridge/internal/config"
)

func statusCmd(opts *rootOptions) *cobra.Command {
	var (
		statePath  string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the review ledger",
		Long: `Show the last review of every tracked pull request, read directly from
the state file. Works whether or not the daemon is running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if statePath == "" {
				cfg, err := config.Load(opts.configPath)
				if err != nil {
					return fmt.Errorf("%w (or pass --state)", err)
				}
				statePath = cfg.Paths.StateFile
			}

			doc, err := statefile.Load(statePath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}
			_, err = fmt.Fprint(out, renderState(doc, time.Now()))
			return err
		},
	}

	cmd.Flags().StringVar(&statePath, "state", "", "state file (default from config paths.state_file)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the raw state document")
	return cmd
}
