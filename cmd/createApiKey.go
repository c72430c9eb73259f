package cmd

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/auth"
)

type apiKeyOptions struct {
	Subject string
	Roles   []string
	TTL     time.Duration
}

var (
	apiKeyOption = apiKeyOptions{}
	createApiKey = &cobra.Command{
		Use:   "create-api-key",
		Short: "Create a JWT to call the HTTP API",
		Long: `Create a JWT signed with the configured jwt_secret. The subject is the wallet address the
key acts for; --role admin additionally unlocks reports and settlement maintenance.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadOfflineConfig(config)
			if err != nil {
				return err
			}
			if !common.IsHexAddress(apiKeyOption.Subject) {
				return fmt.Errorf("subject %q is not a wallet address", apiKeyOption.Subject)
			}

			roles := make([]auth.ApiRole, 0, len(apiKeyOption.Roles))
			for _, r := range apiKeyOption.Roles {
				roles = append(roles, auth.ApiRole(r))
			}
			token, err := auth.IssueToken(c.JwtSecret, common.HexToAddress(apiKeyOption.Subject), apiKeyOption.TTL, roles...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
)

func init() {
	createApiKey.Flags().StringArrayVar(&apiKeyOption.Roles, "role", []string{}, "Role for API Key")
	createApiKey.Flags().StringVarP(&apiKeyOption.Subject, "subject", "s", "", "wallet address the key acts for")
	createApiKey.Flags().DurationVar(&apiKeyOption.TTL, "ttl", 24*time.Hour, "how long the key stays valid")
	createApiKey.MarkFlagRequired("subject")
	rootCmd.AddCommand(createApiKey)
}
