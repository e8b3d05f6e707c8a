package cmd

import (
	"fmt"
	"syncdash/internal/backend"
	"syncdash/internal/logger"

	"github.com/spf13/cobra"
)

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "List all source connections on the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()

		client := backend.NewClient(cfg.BackendURL, cfg.APIToken)
		states, err := client.ListSourceConnections(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list connections: %w", err)
		}

		if len(states) == 0 {
			fmt.Println("no source connections configured")
			return nil
		}

		fmt.Printf("%-24s %-20s %-16s %s\n",
			"CONNECTION", "NAME", "COLLECTION", "STATUS")

		for _, st := range states {
			name := st.Name
			if name == "" {
				name = st.ShortName
			}

			fmt.Printf("%-24s %-20s %-16s %s\n",
				st.ID, name, st.CollectionRef, st.Status)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(connectionsCmd)
}
