package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sentinelgate/gateway/internal/domain/auth"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [operator-token]",
	Short: "Generate an Argon2id hash for the admin operator bearer token",
	Long: `Generate an Argon2id hash of the admin operator token for use in config.

The output is a PHC-formatted Argon2id hash, used directly in the
admin.token_hash config field. The admin surface verifies incoming
Authorization: Bearer tokens against this hash; the raw token is never
stored.

Example:
  gateway hash-token "my-operator-token"

Security note: the raw token will appear in shell history. Consider
clearing history after use, or pipe it in via an environment variable:
  gateway hash-token "$GATEWAY_ADMIN_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashTokenArgon2id(args[0])
		if err != nil {
			return fmt.Errorf("failed to hash token: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}
