package renpack

import "context"

// Codec re-encodes one media file. dst carries the same extension as
// src so the entry keeps its name inside the package. A failed attempt
// may leave a partial dst behind; callers discard it.
type Codec interface {
	Compress(ctx context.Context, src, dst string) error
}

// CodecFunc adapts a function to a Codec.
type CodecFunc func(ctx context.Context, src, dst string) error

func (f CodecFunc) Compress(ctx context.Context, src, dst string) error {
	return f(ctx, src, dst)
}

// Codecs carries one codec per media category.
type Codecs struct {
	Image Codec
	Audio Codec
	Video Codec
}
