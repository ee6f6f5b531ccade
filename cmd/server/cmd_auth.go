package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/auth"
)

// newHashPasswordCmd prints the hash for auth.users[].password_hash.
func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Hash a password for the config file",
		Long:  "Hash a password with Argon2id. Without an argument the password is read\nfrom the first line of stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("hash-password: read stdin: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return fmt.Errorf("hash-password: empty password")
			}

			hash, err := auth.NewPasswordHasher().HashPassword(password)
			if err != nil {
				return fmt.Errorf("hash-password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// newTokenCmd creates an API token. Only the hash goes into the config.
func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Generate an API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, hash, err := auth.GenerateAPIToken()
			if err != nil {
				return fmt.Errorf("token: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "token:      %s\n", token)
			fmt.Fprintf(out, "token_hash: %s\n", hash)
			return nil
		},
	}
}
