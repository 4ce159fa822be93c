package renpack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/frantjc/renpack/apk"
	"github.com/frantjc/renpack/apksign"
	"github.com/frantjc/renpack/internal/renerr"
	"github.com/frantjc/renpack/zipalign"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

// Pipeline runs the whole flow over one package: stage the marked game
// assets out of the container, compress them, rebuild the container
// around the results, align it and sign it.
type Pipeline struct {
	config   *Config
	codecs   Codecs
	identity IdentitySource
	keystore Keystore
	sink     Sink
	dir      string
	archive  ArchiveStep
}

// ArchiveStep archives the compressed asset tree for a run whose
// configuration asks for one. It receives the tree and the run's
// destination package path to derive a sibling path from.
type ArchiveStep func(ctx context.Context, assets, dst string) error

type PipelineOpt func(*Pipeline)

// WithSink directs progress events to sink.
func WithSink(sink Sink) PipelineOpt {
	return func(p *Pipeline) {
		p.sink = sink
	}
}

// WithKeystore supplies the keystore backing the NewKey and StoredKey
// identity sources.
func WithKeystore(keystore Keystore) PipelineOpt {
	return func(p *Pipeline) {
		p.keystore = keystore
	}
}

// WithDir places the pipeline's scratch directory under dir instead of
// the default temporary directory.
func WithDir(dir string) PipelineOpt {
	return func(p *Pipeline) {
		p.dir = dir
	}
}

// WithArchiveStep replaces how a run archives its compressed assets.
// The default writes a ZIP archive next to the output package.
func WithArchiveStep(step ArchiveStep) PipelineOpt {
	return func(p *Pipeline) {
		p.archive = step
	}
}

func NewPipeline(config *Config, codecs Codecs, identity IdentitySource, opts ...PipelineOpt) *Pipeline {
	p := &Pipeline{
		config:   config,
		codecs:   codecs,
		identity: identity,
		sink:     SinkFunc(func(Event) {}),
		dir:      os.TempDir(),
		archive: func(ctx context.Context, assets, dst string) error {
			return ArchiveAssets(ctx, assets, AssetsArchivePath(dst))
		},
	}

	if p.config == nil {
		p.config = DefaultConfig()
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run processes the package at src into a compressed, aligned, signed
// package at dst and returns the accounting for the run. Failure
// before signing completes leaves dst untouched, and every run ends
// with exactly one terminal event on the sink. Errors carry the stage
// they arose in, recoverable with renerr.Stage.
func (p *Pipeline) Run(ctx context.Context, src, dst string) (outcome *Outcome, err error) {
	defer func() {
		if err != nil {
			p.sink.Report(Event{Stage: StageFailed, Err: err})
		}
	}()

	log := LoggerFrom(ctx)

	p.sink.Report(Event{Stage: StageIdle, Item: src})

	if err = p.config.Validate(); err != nil {
		return nil, renerr.StageError(err, string(StageIdle))
	}

	// Resolving the identity first means a bad key reference fails
	// before any staging work happens.
	identity, err := p.resolveIdentity(ctx)
	if err != nil {
		return nil, renerr.StageError(err, string(StageSigning))
	}

	if info, ierr := apk.ReadInfo(src); ierr == nil {
		log = log.WithValues("package", info.PackageID, "version", info.VersionName)
	}

	scratch := filepath.Join(p.dir, "renpack-"+uuid.NewString())
	if err = os.MkdirAll(scratch, 0o755); err != nil {
		return nil, renerr.StageError(err, string(StageIdle))
	}
	defer func() {
		if rerr := os.RemoveAll(scratch); rerr != nil {
			log.Error(rerr, "removing scratch directory", "dir", scratch)
		}
	}()

	var (
		staged     = filepath.Join(scratch, "extracted")
		compressed = filepath.Join(scratch, "compressed")
		repacked   = filepath.Join(scratch, "repacked.apk")
		aligned    = filepath.Join(scratch, "aligned.apk")
	)

	p.sink.Report(Event{Stage: StageExtracting, Item: src})

	assets, err := apk.Extract(ctx, src, staged, &apk.ExtractOpts{
		OnAsset: func(name string, processed, total int) {
			p.sink.Report(Event{Stage: StageExtracting, Item: name, Processed: processed, Total: total})
		},
	})
	if err != nil {
		return nil, renerr.StageError(err, string(StageExtracting))
	}

	log.V(1).Info("staged assets", "count", len(assets))

	p.sink.Report(Event{Stage: StageCompressing, Total: len(assets)})

	outcome, err = Compress(ctx, p.config, p.codecs, staged, compressed, &CompressOpts{
		OnFile: func(name string, processed, total int) {
			p.sink.Report(Event{Stage: StageCompressing, Item: name, Processed: processed, Total: total})
		},
	})
	if err != nil {
		return nil, renerr.StageError(err, string(StageCompressing))
	}

	if p.config.CreateArchive {
		if err = p.archive(ctx, compressed, dst); err != nil {
			return nil, renerr.StageError(err, string(StageCompressing))
		}
	}

	p.sink.Report(Event{Stage: StageRepackaging, Item: src})

	if err = apk.Repack(ctx, src, compressed, repacked, &apk.RepackOpts{
		OnEntry: func(name string, processed, total int) {
			p.sink.Report(Event{Stage: StageRepackaging, Item: name, Processed: processed, Total: total})
		},
	}); err != nil {
		return nil, renerr.StageError(err, string(StageRepackaging))
	}

	p.sink.Report(Event{Stage: StageAligning, Item: repacked})

	if err = zipalign.Align(ctx, repacked, aligned, &zipalign.AlignOpts{
		OnEntry: func(name string, processed, total int) {
			p.sink.Report(Event{Stage: StageAligning, Item: name, Processed: processed, Total: total})
		},
	}); err != nil {
		return nil, renerr.StageError(err, string(StageAligning))
	}

	p.sink.Report(Event{Stage: StageSigning, Item: aligned})

	if err = apksign.Sign(ctx, aligned, dst, identity, &apksign.SignOpts{
		OnEntry: func(name string, processed, total int) {
			p.sink.Report(Event{Stage: StageSigning, Item: name, Processed: processed, Total: total})
		},
	}); err != nil {
		return nil, renerr.StageError(err, string(StageSigning))
	}

	dgst, err := digestFile(dst)
	if err != nil {
		return nil, renerr.StageError(err, string(StageSigning))
	}

	log.Info("repackaged", "digest", dgst, "reduction", fmt.Sprintf("%.1f%%", outcome.Reduction()))

	p.sink.Report(Event{Stage: StageDone, Outcome: outcome, Digest: dgst.String()})

	return outcome, nil
}

func (p *Pipeline) resolveIdentity(ctx context.Context) (*apksign.Identity, error) {
	switch source := p.identity.(type) {
	case nil:
		return apksign.NewIdentity("renpack")
	case EphemeralKey:
		return apksign.NewIdentity("renpack")
	case NewKey:
		if p.keystore == nil {
			return nil, fmt.Errorf("identity source requires a keystore")
		}

		identity, err := apksign.NewIdentity(source.Name)
		if err != nil {
			return nil, err
		}

		if err = p.keystore.Store(ctx, source.Name, source.Passphrase, identity); err != nil {
			return nil, err
		}

		return identity, nil
	case StoredKey:
		if p.keystore == nil {
			return nil, fmt.Errorf("identity source requires a keystore")
		}

		return p.keystore.Load(ctx, source.Name, source.Passphrase)
	default:
		return nil, fmt.Errorf("unknown identity source %T", source)
	}
}

// AssetsArchivePath returns where a run writes the compressed asset
// archive relative to its output package.
func AssetsArchivePath(dst string) string {
	return strings.TrimSuffix(dst, filepath.Ext(dst)) + "-assets.zip"
}

func digestFile(name string) (digest.Digest, error) {
	f, err := os.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return digest.FromReader(f)
}
