package command

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/frantjc/renpack"
	"github.com/frantjc/renpack/apksign"
	"github.com/frantjc/renpack/internal/renregexp"
	"github.com/spf13/cobra"
)

func newKeys() *cobra.Command {
	var (
		cmd = &cobra.Command{
			Use:           "keys",
			Version:       renpack.SemVer(),
			SilenceErrors: true,
			SilenceUsage:  true,
		}
	)

	cmd.AddCommand(newKeysCreate(), newKeysList())

	return cmd
}

func newKeysCreate() *cobra.Command {
	var (
		keystoreURL string
		passphrase  string
		cmd         = &cobra.Command{
			Use:           "create",
			Version:       renpack.SemVer(),
			Args:          cobra.ExactArgs(1),
			SilenceErrors: true,
			SilenceUsage:  true,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()

				if !renregexp.IsKeyName(args[0]) {
					return fmt.Errorf("invalid key name %s", args[0])
				}

				if passphrase == "" {
					passphrase = os.Getenv("RENPACK_PASSPHRASE")
				}

				keystore, err := openKeystore(ctx, keystoreURL)
				if err != nil {
					return err
				}
				defer keystore.Close()

				identity, err := apksign.NewIdentity(args[0])
				if err != nil {
					return err
				}

				if err = keystore.Store(ctx, args[0], passphrase, identity); err != nil {
					return err
				}

				fingerprint := sha256.Sum256(identity.Certificate.Raw)
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], hex.EncodeToString(fingerprint[:]))

				return nil
			},
		}
	)

	cmd.Flags().StringVar(&keystoreURL, "keystore", "", "keystore URL for renpack")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase for the signing key")

	return cmd
}

func newKeysList() *cobra.Command {
	var (
		keystoreURL string
		cmd         = &cobra.Command{
			Use:           "list",
			Version:       renpack.SemVer(),
			SilenceErrors: true,
			SilenceUsage:  true,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()

				keystore, err := openKeystore(ctx, keystoreURL)
				if err != nil {
					return err
				}
				defer keystore.Close()

				names, err := keystore.List(ctx)
				if err != nil {
					return err
				}

				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}

				return nil
			},
		}
	)

	cmd.Flags().StringVar(&keystoreURL, "keystore", "", "keystore URL for renpack")

	return cmd
}
