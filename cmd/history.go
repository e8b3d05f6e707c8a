package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"syncdash/internal/model"

	"github.com/spf13/cobra"
)

var historyN int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recently finished sync jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := fmt.Sprintf("%s?n=%d", daemonURL("/history"), historyN)
		resp, err := http.Get(url)
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		var histories []model.History
		if err := json.NewDecoder(resp.Body).Decode(&histories); err != nil {
			return err
		}

		if len(histories) == 0 {
			fmt.Println("no finished jobs yet")
			return nil
		}

		for _, h := range histories {
			status := "✓"
			if h.Status == model.JobStatusFailed {
				status = "✗"
			}

			fmt.Printf("%s [%s] %-24s job %s  +%d ~%d -%d !%d\n",
				status,
				h.CompletedAt.Format("2006-01-02 15:04:05"),
				h.ConnectionID,
				h.JobID,
				h.EntitiesInserted,
				h.EntitiesUpdated,
				h.EntitiesDeleted,
				h.EntitiesFailed,
			)

			if h.ErrMsg != "" {
				fmt.Printf("    error: %s\n", h.ErrMsg)
			}
		}

		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyN, "n", 20, "number of history entries to show")
	rootCmd.AddCommand(historyCmd)
}
