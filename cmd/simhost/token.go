package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/citysim/intersection-core/internal/opauth"
)

var tokenViper = viper.New()

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an operator bearer token for the gateway's control endpoints",
	RunE:  runToken,
}

func init() {
	bindViper(tokenViper)

	flags := tokenCmd.Flags()
	flags.String("jwt-secret", "", "HMAC secret matching the running gateway's --jwt-secret")
	flags.String("operator-id", "", "identity embedded in the token, logged by the gateway on use")
	flags.Duration("ttl", time.Hour, "how long the token remains valid")

	if err := tokenViper.BindPFlags(flags); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	secret := tokenViper.GetString("jwt-secret")
	operatorID := tokenViper.GetString("operator-id")
	ttl := tokenViper.GetDuration("ttl")

	if secret == "" {
		return fmt.Errorf("--jwt-secret is required")
	}
	if operatorID == "" {
		return fmt.Errorf("--operator-id is required")
	}

	token, err := opauth.IssueToken(secret, operatorID, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}
