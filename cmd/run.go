package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [connection-id]",
	Short: "Trigger a sync run for a connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Post(daemonURL("/connections/"+args[0]+"/run"), "application/json", nil)
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		var result map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to decode run response: %w", err)
		}

		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("run rejected: %s", result["error"])
		}

		fmt.Printf("started job %s\n", result["job_id"])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
