package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quotepulse-backend/internal/dashboard"
	"quotepulse-backend/internal/logging"
)

var watchCmd = &cobra.Command{
	Use:   "watch <documentId> [otherDocumentId...]",
	Short: "Follow live viewers and activity on a quote",
	Long: `Follow a quote like the team dashboard: backfill recent activity, then
stream viewer presence and activity live. Extra document ids are polled for
viewer counts only.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, _ := cmd.Flags().GetString("api")
		token, _ := cmd.Flags().GetString("token")
		name, _ := cmd.Flags().GetString("name")
		limit, _ := cmd.Flags().GetInt("limit")
		poll, _ := cmd.Flags().GetDuration("poll")
		rows, _ := cmd.Flags().GetInt("rows")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		consumer, err := dashboard.New(dashboard.Config{
			BaseURL:       api,
			Token:         token,
			UserName:      name,
			BackfillLimit: limit,
		}, dashboard.WithLogger(logging.WithComponent("dashboard")))
		if err != nil {
			return err
		}
		defer consumer.Close()

		documentID := args[0]
		if err := consumer.Select(ctx, documentID); err != nil {
			fmt.Fprintf(os.Stderr, "Backfill failed: %v\n", err)
		}

		others := args[1:]
		if len(others) > 0 {
			if err := consumer.RefreshViewers(ctx, others...); err != nil {
				fmt.Fprintf(os.Stderr, "Viewer poll failed: %v\n", err)
			}
		}

		pollTicker := time.NewTicker(poll)
		defer pollTicker.Stop()

		// Coalesce bursts of updates into one redraw.
		redraw := time.NewTicker(250 * time.Millisecond)
		defer redraw.Stop()
		dirty := true

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-consumer.Updates():
				dirty = true
			case <-pollTicker.C:
				if len(others) > 0 {
					if err := consumer.RefreshViewers(ctx, others...); err != nil {
						fmt.Fprintf(os.Stderr, "Viewer poll failed: %v\n", err)
					}
				}
			case <-redraw.C:
				if !dirty {
					continue
				}
				dirty = false
				fmt.Print("\033[H\033[2J")
				fmt.Println(renderWatch(consumer, documentID, rows, time.Now()))
			}
		}
	},
}

func init() {
	watchCmd.Flags().String("name", envOr("USER", "team"), "Name shown to other team members")
	watchCmd.Flags().Int("limit", 50, "Number of activities to backfill")
	watchCmd.Flags().Duration("poll", 15*time.Second, "Viewer poll interval for extra documents")
	watchCmd.Flags().Int("rows", 20, "Feed rows to display")
}

func renderWatch(c *dashboard.Consumer, documentID string, rows int, now time.Time) string {
	status := "connected"
	if !c.Connected() {
		status = "not connected"
	}
	feed := c.Feed()
	if rows > 0 && len(feed) > rows {
		feed = feed[:rows]
	}
	return fmt.Sprintf("Quote %s (%s)\n\n%s\n\n%s\n\n%s\n",
		documentID, status,
		renderViewers(c.Viewers(documentID), now),
		renderFeed(feed, now),
		renderCounts(c.ViewerCounts()),
	)
}
