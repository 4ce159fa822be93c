package command

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/avast/apkverifier"
	"github.com/frantjc/renpack"
	"github.com/frantjc/renpack/zipalign"
	"github.com/spf13/cobra"
)

func newVerify() *cobra.Command {
	var (
		cmd = &cobra.Command{
			Use:           "verify",
			Version:       renpack.SemVer(),
			Args:          cobra.ExactArgs(1),
			SilenceErrors: true,
			SilenceUsage:  true,
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := apkverifier.Verify(args[0], nil)
				if err != nil {
					return fmt.Errorf("verify %s: %w", args[0], err)
				}

				_, cert := apkverifier.PickBestApkCert(res.SignerCerts)
				if cert == nil {
					return fmt.Errorf("no signer certificate in %s", args[0])
				}

				var (
					w           = cmd.OutOrStdout()
					fingerprint = sha256.Sum256(cert.Raw)
				)

				fmt.Fprintf(w, "Scheme:    v%d\n", res.SigningSchemeId)
				fmt.Fprintf(w, "Subject:   %s\n", cert.Subject)
				fmt.Fprintf(w, "SHA-256:   %s\n", hex.EncodeToString(fingerprint[:]))

				misaligned, err := zipalign.Check(args[0])
				if err != nil {
					return err
				}

				if len(misaligned) > 0 {
					return fmt.Errorf("%d misaligned entries", len(misaligned))
				}

				fmt.Fprintln(w, "Alignment: ok")

				return nil
			},
		}
	)

	return cmd
}
