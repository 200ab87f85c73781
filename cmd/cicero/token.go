package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cicero-client/internal/constant"
	"cicero-client/internal/pkg/logger"
	"cicero-client/internal/pkg/serverutils"
	"cicero-client/internal/repository/contract"
	"cicero-client/internal/repository/redisstore"

	"github.com/spf13/cobra"
)

var (
	tokenUser   string
	tokenTTL    time.Duration
	tokenSecret string
	tokenSave   bool
)

var errNoSecret = errors.New("no signing secret: pass --secret or set JWT_SECRET")

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development token for the mock backend",
	Long: `Sign an HS256 bearer token accepted by the mock backend.

With --save the token is written to the configured token store so later
commands pick it up without --token. Saving only persists across runs when
TOKEN_STORE=redis.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = cfg.Mock.JWTSecret
		}

		var store contract.KeyValueRepository
		if tokenSave {
			if cfg.Storage.TokenStore != "redis" {
				warningColor.Fprintln(cmd.ErrOrStderr(), "TOKEN_STORE is not redis; the saved token only lives for this process.")
			} else {
				store = redisstore.NewKeyValueRepository(redisstore.NewClient(cfg.Storage.RedisURL), logger.NewNopLogger())
			}
		}
		return mintToken(cmd.Context(), cmd.OutOrStdout(), secret, tokenUser, tokenTTL, store)
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "dev-user", "user_id claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "Signing secret (defaults to JWT_SECRET)")
	tokenCmd.Flags().BoolVar(&tokenSave, "save", false, "Store the token as the default auth token")
	rootCmd.AddCommand(tokenCmd)
}

// mintToken prints a signed token and, when store is set, saves it under
// the auth token key.
func mintToken(ctx context.Context, out io.Writer, secret, user string, ttl time.Duration, store contract.KeyValueRepository) error {
	if secret == "" {
		return errNoSecret
	}
	signed, err := serverutils.MintToken(secret, user, ttl)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.Set(ctx, constant.AuthTokenStorageKey, signed); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}
	}
	fmt.Fprintln(out, signed)
	return nil
}
