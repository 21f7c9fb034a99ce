package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quotepulse-backend/internal/dashboard"
	"quotepulse-backend/internal/logging"
)

var viewersCmd = &cobra.Command{
	Use:   "viewers <documentId...>",
	Short: "Poll current viewers of one or more quotes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, _ := cmd.Flags().GetString("api")
		token, _ := cmd.Flags().GetString("token")

		consumer, err := dashboard.New(dashboard.Config{BaseURL: api, Token: token},
			dashboard.WithLogger(logging.WithComponent("dashboard")))
		if err != nil {
			return err
		}
		defer consumer.Close()

		fetchErr := consumer.RefreshViewers(cmd.Context(), args...)

		now := time.Now()
		for _, id := range args {
			fmt.Println(id)
			fmt.Println(renderViewers(consumer.Viewers(id), now))
		}
		return fetchErr
	},
}
