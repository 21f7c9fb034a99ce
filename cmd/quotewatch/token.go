package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"quotepulse-backend/internal/middleware"
)

var tokenCmd = &cobra.Command{
	Use:   "token <userId>",
	Short: "Issue a team token for the activity read API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		name, _ := cmd.Flags().GetString("name")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := middleware.NewJWTAuth(secret).GenerateTeamToken(args[0], name, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("secret", os.Getenv("JWT_SECRET"), "Signing secret (defaults to JWT_SECRET)")
	tokenCmd.Flags().String("name", "", "Display name embedded in the token")
	tokenCmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
}
