package command

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/frantjc/renpack"
	"github.com/frantjc/renpack/apk"
	"github.com/frantjc/renpack/renpy"
	"github.com/spf13/cobra"
)

func newInspect() *cobra.Command {
	var (
		cmd = &cobra.Command{
			Use:           "inspect",
			Version:       renpack.SemVer(),
			Args:          cobra.ExactArgs(1),
			SilenceErrors: true,
			SilenceUsage:  true,
			RunE: func(cmd *cobra.Command, args []string) error {
				w := cmd.OutOrStdout()

				// The manifest is best effort, the census is not.
				if info, err := apk.ReadInfo(args[0]); err == nil {
					fmt.Fprintf(w, "Package: %s\n", info.PackageID)
					if info.VersionName != "" {
						fmt.Fprintf(w, "Version: %s (%d)\n", info.VersionName, info.VersionCode)
					}
					if info.Label != "" {
						fmt.Fprintf(w, "Label:   %s\n", info.Label)
					}
					fmt.Fprintln(w)
				}

				r, err := apk.OpenReader(args[0])
				if err != nil {
					return err
				}
				defer r.Close()

				type census struct {
					files int
					bytes int64
				}

				var (
					categories = map[renpack.Category]*census{
						renpack.CategoryImage: {},
						renpack.CategoryAudio: {},
						renpack.CategoryVideo: {},
					}
					other = &census{}
					total = 0
				)

				for _, f := range r.File {
					if strings.HasSuffix(f.Name, "/") || !renpy.IsMarkedAsset(f.Name) {
						continue
					}

					name, err := renpy.NormalizeAssetPath(f.Name)
					if err != nil {
						return err
					}

					c := other
					if category, ok := renpack.CategoryOf(name); ok {
						c = categories[category]
					}

					c.files++
					c.bytes += int64(f.UncompressedSize64)
					total++
				}

				if total == 0 {
					fmt.Fprintln(w, "no marked game assets")

					return nil
				}

				tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
				fmt.Fprintf(tw, "CATEGORY\tFILES\tBYTES\n")
				for _, category := range []renpack.Category{renpack.CategoryImage, renpack.CategoryAudio, renpack.CategoryVideo} {
					c := categories[category]
					fmt.Fprintf(tw, "%s\t%d\t%s\n", category, c.files, fmtSize(c.bytes))
				}
				fmt.Fprintf(tw, "other\t%d\t%s\n", other.files, fmtSize(other.bytes))

				return tw.Flush()
			},
		}
	)

	return cmd
}
