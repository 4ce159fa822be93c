package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/frantjc/renpack"
	"github.com/frantjc/renpack/cwebp"
	"github.com/frantjc/renpack/ffmpeg"
	"github.com/frantjc/renpack/internal/renerr"
	"github.com/frantjc/renpack/internal/renregexp"
	"github.com/frantjc/renpack/internal/rensink"
	"github.com/spf13/cobra"
)

func newCompress() *cobra.Command {
	var (
		output       string
		configFile   string
		quality      int
		lossless     bool
		speed        string
		skipImages   bool
		audioTier    string
		skipAudio    bool
		videoTier    string
		skipVideo    bool
		threads      int
		archive      bool
		progressFile string
		keystoreURL  string
		keyName      string
		newKey       bool
		passphrase   string
		cwebpPath    string
		ffmpegPath   string
		cmd          = &cobra.Command{
			Use:           "compress",
			Version:       renpack.SemVer(),
			Args:          cobra.ExactArgs(1),
			SilenceErrors: true,
			SilenceUsage:  true,
			RunE: func(cmd *cobra.Command, args []string) error {
				var (
					ctx = cmd.Context()
					src = args[0]
				)

				if !renregexp.IsAPK(src) {
					return fmt.Errorf("invalid package %s", src)
				}

				config := renpack.DefaultConfig()
				if configFile != "" {
					var err error
					if config, err = renpack.ReadConfig(configFile); err != nil {
						return err
					}
				}

				// Flags override the config file.
				flags := cmd.Flags()
				if flags.Changed("quality") {
					config.ImageQuality = quality
				}
				if flags.Changed("lossless") {
					config.ImageLossless = lossless
				}
				if flags.Changed("speed") {
					config.ImageSpeed = renpack.Speed(speed)
				}
				if flags.Changed("skip-images") {
					config.SkipImages = skipImages
				}
				if flags.Changed("audio-tier") {
					config.AudioTier = renpack.Tier(audioTier)
				}
				if flags.Changed("skip-audio") {
					config.SkipAudio = skipAudio
				}
				if flags.Changed("video-tier") {
					config.VideoTier = renpack.Tier(videoTier)
				}
				if flags.Changed("skip-video") {
					config.SkipVideo = skipVideo
				}
				if flags.Changed("threads") {
					config.Threads = threads
				}
				if flags.Changed("archive") {
					config.CreateArchive = archive
				}

				if output == "" {
					ext := filepath.Ext(src)
					output = strings.TrimSuffix(src, ext) + "-compressed" + ext
				}

				if passphrase == "" {
					passphrase = os.Getenv("RENPACK_PASSPHRASE")
				}

				var identity renpack.IdentitySource = renpack.EphemeralKey{}
				switch {
				case keyName != "" && newKey:
					identity = renpack.NewKey{Name: keyName, Passphrase: passphrase}
				case keyName != "":
					identity = renpack.StoredKey{Name: keyName, Passphrase: passphrase}
				}

				opts := []renpack.PipelineOpt{}

				if keyName != "" {
					keystore, err := openKeystore(ctx, keystoreURL)
					if err != nil {
						return err
					}
					defer keystore.Close()

					opts = append(opts, renpack.WithKeystore(keystore))
				}

				var (
					done renpack.Event
					sink = rensink.Multi(
						rensink.NewLogSink(renpack.LoggerFrom(ctx)),
						renpack.SinkFunc(func(e renpack.Event) {
							if e.Stage == renpack.StageDone {
								done = e
							}
						}),
					)
				)
				if progressFile != "" {
					sink = rensink.Multi(sink, rensink.NewFileSink(progressFile))
				}
				opts = append(opts, renpack.WithSink(sink))

				codecs := renpack.Codecs{}
				if !config.SkipImages {
					codecs.Image = imageCodec(cwebp.Command(cwebpPath), config.ImageQuality, config.ImageLossless, config.ImageSpeed)
				}
				if !config.SkipAudio {
					codecs.Audio = audioCodec(ffmpeg.Command(ffmpegPath), config.AudioTier)
				}
				if !config.SkipVideo {
					codecs.Video = videoCodec(ffmpeg.Command(ffmpegPath), config.VideoTier)
				}

				outcome, err := renpack.NewPipeline(config, codecs, identity, opts...).Run(ctx, src, output)
				if err != nil {
					if stage := renerr.Stage(err); stage != "" {
						return fmt.Errorf("%s: %w", stage, err)
					}

					return err
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Package:   %s\n", output)
				fmt.Fprintf(w, "Digest:    %s\n", done.Digest)
				fmt.Fprintf(w, "Processed: %d\n", outcome.FilesProcessed)
				fmt.Fprintf(w, "Failed:    %d\n", outcome.FilesFailed)
				fmt.Fprintf(w, "Size:      %s -> %s (%.1f%% smaller)\n",
					fmtSize(outcome.OriginalBytes), fmtSize(outcome.ResultBytes), outcome.Reduction())

				return nil
			},
		}
	)

	cmd.Flags().StringVarP(&output, "output", "o", "", "output package path")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	cmd.Flags().IntVarP(&quality, "quality", "q", 80, "image quality 1-100")
	cmd.Flags().BoolVar(&lossless, "lossless", false, "lossless image compression")
	cmd.Flags().StringVar(&speed, "speed", string(renpack.SpeedAverage), "image speed (fast, average, slow)")
	cmd.Flags().BoolVar(&skipImages, "skip-images", false, "skip image compression")
	cmd.Flags().StringVar(&audioTier, "audio-tier", string(renpack.TierMedium), "audio tier (lowest, low, medium, high)")
	cmd.Flags().BoolVar(&skipAudio, "skip-audio", false, "skip audio compression")
	cmd.Flags().StringVar(&videoTier, "video-tier", string(renpack.TierMedium), "video tier (lowest, low, medium, high)")
	cmd.Flags().BoolVar(&skipVideo, "skip-video", false, "skip video compression")
	cmd.Flags().IntVar(&threads, "threads", 4, "parallel image compression bound")
	cmd.Flags().BoolVar(&archive, "archive", false, "also write a ZIP archive of the compressed assets")
	cmd.Flags().StringVar(&progressFile, "progress-file", "", "JSON progress file to write")
	cmd.Flags().StringVar(&keystoreURL, "keystore", "", "keystore URL for renpack")
	cmd.Flags().StringVar(&keyName, "key", "", "signing key name in the keystore")
	cmd.Flags().BoolVar(&newKey, "new-key", false, "generate the signing key and store it under --key")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase for the signing key")
	cmd.Flags().StringVar(&cwebpPath, "cwebp", "cwebp", "path to the cwebp executable")
	cmd.Flags().StringVar(&ffmpegPath, "ffmpeg", "ffmpeg", "path to the ffmpeg executable")

	return cmd
}
