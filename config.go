package renpack

import (
	"errors"
	"fmt"
	"io"
	"os"

	xslice "github.com/frantjc/x/slice"
	"gopkg.in/yaml.v3"
)

// Tier orders the quality presets for audio and video compression,
// lowest quality and smallest output first.
type Tier string

const (
	TierLowest Tier = "lowest"
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Tiers lists every Tier in order.
func Tiers() []Tier {
	return []Tier{TierLowest, TierLow, TierMedium, TierHigh}
}

// Speed selects how much work the image encoder puts into each file.
type Speed string

const (
	SpeedFast    Speed = "fast"
	SpeedAverage Speed = "average"
	SpeedSlow    Speed = "slow"
)

// Speeds lists every Speed in order.
func Speeds() []Speed {
	return []Speed{SpeedFast, SpeedAverage, SpeedSlow}
}

// Config holds the compression settings for one pipeline run.
type Config struct {
	ImageQuality  int   `yaml:"imageQuality"`
	ImageLossless bool  `yaml:"imageLossless"`
	ImageSpeed    Speed `yaml:"imageSpeed"`
	SkipImages    bool  `yaml:"skipImages"`

	AudioTier Tier `yaml:"audioTier"`
	SkipAudio bool `yaml:"skipAudio"`

	VideoTier Tier `yaml:"videoTier"`
	SkipVideo bool `yaml:"skipVideo"`

	// Threads bounds parallel image compression. Audio and video are
	// always sequential.
	Threads int `yaml:"threads"`

	// CreateArchive also writes a ZIP archive of the compressed assets
	// next to the output package.
	CreateArchive bool `yaml:"createArchive"`
}

// DefaultConfig returns the settings a run uses when given nothing
// else.
func DefaultConfig() *Config {
	return &Config{
		ImageQuality: 80,
		ImageSpeed:   SpeedAverage,
		AudioTier:    TierMedium,
		VideoTier:    TierMedium,
		Threads:      4,
	}
}

// ReadConfig decodes the YAML config file at name over the defaults.
// An empty file yields the defaults.
func ReadConfig(name string) (*Config, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	config := DefaultConfig()
	if err = yaml.NewDecoder(f).Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return config, nil
}

// Validate rejects configurations no run could honor. It runs before
// any I/O.
func (c *Config) Validate() error {
	errs := []error{}

	if c.SkipImages && c.SkipAudio && c.SkipVideo {
		errs = append(errs, errors.New("every media category is skipped"))
	}

	if !c.SkipImages {
		if c.ImageQuality < 1 || c.ImageQuality > 100 {
			errs = append(errs, fmt.Errorf("image quality %d out of range 1-100", c.ImageQuality))
		}

		if !xslice.Includes(Speeds(), c.ImageSpeed) {
			errs = append(errs, fmt.Errorf("unknown image speed %q", c.ImageSpeed))
		}
	}

	if !c.SkipAudio && !xslice.Includes(Tiers(), c.AudioTier) {
		errs = append(errs, fmt.Errorf("unknown audio tier %q", c.AudioTier))
	}

	if !c.SkipVideo && !xslice.Includes(Tiers(), c.VideoTier) {
		errs = append(errs, fmt.Errorf("unknown video tier %q", c.VideoTier))
	}

	if c.Threads < 1 {
		errs = append(errs, fmt.Errorf("thread count %d is not positive", c.Threads))
	}

	return errors.Join(errs...)
}
