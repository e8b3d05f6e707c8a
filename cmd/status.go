package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"syncdash/internal/daemon"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View the state of all watched connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(daemonURL("/connections"))
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		var result struct {
			Connections []daemon.ConnectionView `json:"connections"`
		}

		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to decode status response: %w", err)
		}

		if len(result.Connections) == 0 {
			fmt.Println("no watched connections")
			return nil
		}

		fmt.Printf("%-24s %-20s %-12s %-12s %-6s %s\n",
			"CONNECTION", "NAME", "STATUS", "JOB", "AUTH", "ENTITIES")

		for _, view := range result.Connections {
			jobStatus := string(view.DerivedStatus)
			if view.Reconnecting {
				jobStatus += " (reconnecting)"
			}

			auth := "ok"
			if !view.IsAuthenticated {
				auth = "FAIL"
			}

			total := 0
			for _, es := range view.EntityStates {
				total += es.TotalCount
			}

			name := view.Name
			if name == "" {
				name = view.ShortName
			}

			fmt.Printf("%-24s %-20s %-12s %-12s %-6s %d\n",
				view.ID, name, view.Status, jobStatus, auth, total)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
