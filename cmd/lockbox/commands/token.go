package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	jwtauth "github.com/lockboxhq/lockbox/internal/api/auth"
	"github.com/lockboxhq/lockbox/pkg/api"
	"github.com/lockboxhq/lockbox/pkg/config"
)

var (
	tokenRole   string
	tokenGroups []string
)

var tokenCmd = &cobra.Command{
	Use:   "token <username>",
	Short: "Mint a JWT for the management API",
	Long: `Mint a signed JWT for the management API using the configured secret.

The token carries the username, a role, and the group memberships used
for box ownership and grant checks.

Examples:
  # Token for a regular user in two groups
  lockbox token alice --groups app-team,qa-team

  # Admin token
  lockbox token root --role admin`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", "user", "Role claim (user or admin)")
	tokenCmd.Flags().StringSliceVar(&tokenGroups, "groups", nil, "Comma-separated group memberships")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	secret := cfg.API.GetJWTSecret()
	if secret == "" {
		return fmt.Errorf("no JWT secret configured: set api.jwt.secret or %s", api.EnvJWTSecret)
	}

	svc, err := jwtauth.NewJWTService(jwtauth.JWTConfig{
		Secret:        secret,
		TokenDuration: cfg.API.JWT.TokenDuration,
	})
	if err != nil {
		return err
	}

	token, err := svc.GenerateToken(args[0], tokenRole, tokenGroups)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	fmt.Println(token)
	return nil
}
