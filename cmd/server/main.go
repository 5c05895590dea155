package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/blazealert/internal/api/auth"
	"github.com/good-yellow-bee/blazealert/pkg/config"
)

var (
	configFile string
	verbose    bool

	tokenSubject  string
	tokenName     string
	tokenTTL      time.Duration
	tokenReadOnly bool
)

var rootCmd = &cobra.Command{
	Use:   "blazealert-server",
	Short: "BlazeAlert Server - alert rules and notification delivery",
	Long: `BlazeAlert Server accepts triggers from monitoring collaborators,
turns them into alerts under each rule's suppression policy, and delivers
notifications over email, SMS, push, in-app and webhook channels.`,
	SilenceUsage: true,
	RunE:         runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.VersionString("blazealert-server"))
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token signed with api.jwt_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.API.JWTSecret == "" {
			return fmt.Errorf("api.jwt_secret is not configured")
		}
		ttl := cfg.API.TokenTTL
		if tokenTTL > 0 {
			ttl = tokenTTL
		}
		token, err := auth.NewJWTService([]byte(cfg.API.JWTSecret), ttl).Issue(auth.TokenRequest{
			Subject:  tokenSubject,
			Name:     tokenName,
			ReadOnly: tokenReadOnly,
		})
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "user the token acts as (required)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default api.token_ttl)")
	tokenCmd.Flags().BoolVar(&tokenReadOnly, "read-only", false, "token may only query")
	_ = tokenCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(versionCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
