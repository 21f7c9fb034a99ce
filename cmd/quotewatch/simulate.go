package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quotepulse-backend/internal/logging"
	"quotepulse-backend/internal/models"
	"quotepulse-backend/internal/tracker"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <documentId>",
	Short: "Drive a simulated customer session against a quote",
	Long: `Run a scripted customer visit through the activity tracker: open the
quote, scroll through it, view sections, toggle an option, copy some text,
and close. Reusing --tab resumes the same session across runs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, _ := cmd.Flags().GetString("api")
		tab, _ := cmd.Flags().GetString("tab")
		state, _ := cmd.Flags().GetString("state")
		step, _ := cmd.Flags().GetDuration("step")
		device, _ := cmd.Flags().GetString("device")
		sections, _ := cmd.Flags().GetStringSlice("sections")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := os.MkdirAll(filepath.Dir(state), 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
		store, err := tracker.OpenBoltStore(state)
		if err != nil {
			return err
		}
		defer store.Close()

		t, err := tracker.New(tracker.Config{
			DocumentID:   args[0],
			TabID:        tab,
			BaseURL:      api,
			DeviceType:   models.DeviceType(device),
			BrowserName:  "quotewatch",
			OSName:       "cli",
			PageLoadTime: 640 * time.Millisecond,
		}, tracker.WithSessionStore(store), tracker.WithLogger(logging.WithComponent("tracker")))
		if err != nil {
			return err
		}

		t.Init()
		fmt.Printf("Session %s opened %s\n", t.SessionID(), args[0])
		defer func() {
			t.Destroy()
			t.Wait()
			fmt.Println("Session closed")
		}()

		pause := func() bool {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(step):
				return true
			}
		}

		const docHeight, viewport = 4000.0, 800.0
		for i, section := range sections {
			if !pause() {
				return nil
			}
			top := (docHeight - viewport) * float64(i+1) / float64(len(sections))
			t.Scroll(tracker.Position{Top: top, DocumentHeight: docHeight, ViewportHeight: viewport})
			t.Activity(tracker.SignalScroll)
			t.TrackSectionView(fmt.Sprintf("section-%d", i+1), section)
			fmt.Printf("Viewed %q\n", section)
		}

		if !pause() {
			return nil
		}
		t.TrackOptionToggle("support-plan", "Premium support", true)
		t.Copy("Total: 12,400 EUR per year, billed annually")
		fmt.Println("Toggled an option and copied the total")

		if !pause() {
			return nil
		}
		t.VisibilityChange(true)
		if !pause() {
			return nil
		}
		t.VisibilityChange(false)
		t.TrackSignatureStart()
		fmt.Println("Started signing")
		return nil
	},
}

func init() {
	home, _ := os.UserHomeDir()
	simulateCmd.Flags().String("tab", "cli", "Tab id; reuse it to resume the session")
	simulateCmd.Flags().String("state", filepath.Join(home, ".quotewatch", "sessions.db"), "Session store path")
	simulateCmd.Flags().Duration("step", 2*time.Second, "Pause between scripted actions")
	simulateCmd.Flags().String("device", string(models.DeviceDesktop), "Device type reported to the backend")
	simulateCmd.Flags().StringSlice("sections", []string{"Overview", "Scope", "Pricing", "Terms"}, "Sections to view in order")
}
