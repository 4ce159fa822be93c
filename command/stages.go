package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/frantjc/renpack"
	"github.com/frantjc/renpack/apk"
	"github.com/frantjc/renpack/apksign"
	"github.com/frantjc/renpack/zipalign"
	"github.com/spf13/cobra"
)

func newExtract() *cobra.Command {
	var (
		output string
		cmd    = &cobra.Command{
			Use:           "extract",
			Version:       renpack.SemVer(),
			Args:          cobra.ExactArgs(1),
			SilenceErrors: true,
			SilenceUsage:  true,
			RunE: func(cmd *cobra.Command, args []string) error {
				var (
					ctx = cmd.Context()
					log = renpack.LoggerFrom(ctx)
				)

				if output == "" {
					output = strings.TrimSuffix(args[0], filepath.Ext(args[0]))
				}

				assets, err := apk.Extract(ctx, args[0], output, &apk.ExtractOpts{
					OnAsset: func(name string, processed, total int) {
						log.V(1).Info("extracted", "asset", name, "processed", processed, "total", total)
					},
				})
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Extracted %d assets to %s\n", len(assets), output)

				return nil
			},
		}
	)

	cmd.Flags().StringVarP(&output, "output", "o", "", "staging directory")

	return cmd
}

func newRepack() *cobra.Command {
	var (
		output string
		cmd    = &cobra.Command{
			Use:           "repack",
			Version:       renpack.SemVer(),
			Args:          cobra.ExactArgs(2),
			SilenceErrors: true,
			SilenceUsage:  true,
			RunE: func(cmd *cobra.Command, args []string) error {
				var (
					ctx = cmd.Context()
					log = renpack.LoggerFrom(ctx)
				)

				if output == "" {
					ext := filepath.Ext(args[0])
					output = strings.TrimSuffix(args[0], ext) + "-repacked" + ext
				}

				if err := apk.Repack(ctx, args[0], args[1], output, &apk.RepackOpts{
					OnEntry: func(name string, processed, total int) {
						log.V(1).Info("repacked", "entry", name, "processed", processed, "total", total)
					},
				}); err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), output)

				return nil
			},
		}
	)

	cmd.Flags().StringVarP(&output, "output", "o", "", "output package path")

	return cmd
}

func newAlign() *cobra.Command {
	var (
		output string
		check  bool
		cmd    = &cobra.Command{
			Use:           "align",
			Version:       renpack.SemVer(),
			Args:          cobra.ExactArgs(1),
			SilenceErrors: true,
			SilenceUsage:  true,
			RunE: func(cmd *cobra.Command, args []string) error {
				var (
					ctx = cmd.Context()
					log = renpack.LoggerFrom(ctx)
				)

				if check {
					misaligned, err := zipalign.Check(args[0])
					if err != nil {
						return err
					}

					for _, name := range misaligned {
						fmt.Fprintln(cmd.OutOrStdout(), name)
					}

					if len(misaligned) > 0 {
						return fmt.Errorf("%d misaligned entries", len(misaligned))
					}

					return nil
				}

				if output == "" {
					ext := filepath.Ext(args[0])
					output = strings.TrimSuffix(args[0], ext) + "-aligned" + ext
				}

				if err := zipalign.Align(ctx, args[0], output, &zipalign.AlignOpts{
					OnEntry: func(name string, processed, total int) {
						log.V(1).Info("aligned", "entry", name, "processed", processed, "total", total)
					},
				}); err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), output)

				return nil
			},
		}
	)

	cmd.Flags().StringVarP(&output, "output", "o", "", "output package path")
	cmd.Flags().BoolVar(&check, "check", false, "check alignment instead of rewriting")

	return cmd
}

func newSign() *cobra.Command {
	var (
		output      string
		keystoreURL string
		keyName     string
		newKey      bool
		passphrase  string
		skipV1      bool
		skipV2      bool
		skipV3      bool
		minSDK      int
		cmd         = &cobra.Command{
			Use:           "sign",
			Version:       renpack.SemVer(),
			Args:          cobra.ExactArgs(1),
			SilenceErrors: true,
			SilenceUsage:  true,
			RunE: func(cmd *cobra.Command, args []string) error {
				var (
					ctx = cmd.Context()
					log = renpack.LoggerFrom(ctx)
				)

				if output == "" {
					ext := filepath.Ext(args[0])
					output = strings.TrimSuffix(args[0], ext) + "-signed" + ext
				}

				if passphrase == "" {
					passphrase = os.Getenv("RENPACK_PASSPHRASE")
				}

				var identity *apksign.Identity
				if keyName == "" {
					var err error
					if identity, err = apksign.NewIdentity("renpack"); err != nil {
						return err
					}
				} else {
					keystore, err := openKeystore(ctx, keystoreURL)
					if err != nil {
						return err
					}
					defer keystore.Close()

					if newKey {
						if identity, err = apksign.NewIdentity(keyName); err != nil {
							return err
						}

						if err = keystore.Store(ctx, keyName, passphrase, identity); err != nil {
							return err
						}
					} else if identity, err = keystore.Load(ctx, keyName, passphrase); err != nil {
						return err
					}
				}

				if err := apksign.Sign(ctx, args[0], output, identity, &apksign.SignOpts{
					SkipV1: skipV1,
					SkipV2: skipV2,
					SkipV3: skipV3,
					MinSDK: minSDK,
					OnEntry: func(name string, processed, total int) {
						log.V(1).Info("signed", "entry", name, "processed", processed, "total", total)
					},
				}); err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), output)

				return nil
			},
		}
	)

	cmd.Flags().StringVarP(&output, "output", "o", "", "output package path")
	cmd.Flags().StringVar(&keystoreURL, "keystore", "", "keystore URL for renpack")
	cmd.Flags().StringVar(&keyName, "key", "", "signing key name in the keystore")
	cmd.Flags().BoolVar(&newKey, "new-key", false, "generate the signing key and store it under --key")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase for the signing key")
	cmd.Flags().BoolVar(&skipV1, "skip-v1", false, "skip the JAR signature")
	cmd.Flags().BoolVar(&skipV2, "skip-v2", false, "skip the v2 signature")
	cmd.Flags().BoolVar(&skipV3, "skip-v3", false, "skip the v3 signature")
	cmd.Flags().IntVar(&minSDK, "min-sdk", 0, "minimum SDK version for the v3 signature")

	return cmd
}
