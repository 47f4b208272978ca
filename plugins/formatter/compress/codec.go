package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses whole payloads
type Codec interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// NewCodec returns the codec for algorithm. level 0 selects the codec default.
func NewCodec(algorithm string, level int) (Codec, error) {
	switch algorithm {
	case "gzip":
		if level == 0 {
			level = gzip.DefaultCompression
		}
		if level < gzip.HuffmanOnly || level > gzip.BestCompression {
			return nil, fmt.Errorf("gzip level %d out of range", level)
		}
		return gzipCodec{level: level}, nil
	case "zstd":
		return newZstdCodec(level)
	case "s2":
		return s2Codec{best: level > 1}, nil
	case "lz4":
		return lz4Codec{level: lz4Level(level)}, nil
	case "brotli":
		if level == 0 {
			level = brotli.DefaultCompression
		}
		if level < brotli.BestSpeed || level > brotli.BestCompression {
			return nil, fmt.Errorf("brotli level %d out of range", level)
		}
		return brotliCodec{level: level}, nil
	}
	return nil, fmt.Errorf("unknown compression algorithm %q", algorithm)
}

// Algorithms lists the supported algorithm names
func Algorithms() []string {
	return []string{"gzip", "zstd", "s2", "lz4", "brotli"}
}

type gzipCodec struct {
	level int
}

func (gzipCodec) Name() string { return "gzip" }

func (c gzipCodec) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decompress(src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec(level int) (*zstdCodec, error) {
	encLevel := zstd.SpeedDefault
	if level != 0 {
		encLevel = zstd.EncoderLevelFromZstd(level)
	}
	// EncodeAll and DecodeAll are safe for concurrent use
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel), zstd.WithZeroFrames(true))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (*zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Compress(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, nil), nil
}

func (c *zstdCodec) Decompress(src []byte) ([]byte, error) {
	return c.dec.DecodeAll(src, nil)
}

type s2Codec struct {
	best bool
}

func (s2Codec) Name() string { return "s2" }

func (c s2Codec) Compress(src []byte) ([]byte, error) {
	if c.best {
		return s2.EncodeBetter(nil, src), nil
	}
	return s2.Encode(nil, src), nil
}

func (s2Codec) Decompress(src []byte) ([]byte, error) {
	return s2.Decode(nil, src)
}

type lz4Codec struct {
	level lz4.CompressionLevel
}

func lz4Level(level int) lz4.CompressionLevel {
	switch {
	case level <= 0:
		return lz4.Fast
	case level >= 9:
		return lz4.Level9
	}
	return lz4.CompressionLevel(1 << (8 + level))
}

func (lz4Codec) Name() string { return "lz4" }

func (c lz4Codec) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(c.level)); err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decompress(src []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(src)))
}

type brotliCodec struct {
	level int
}

func (brotliCodec) Name() string { return "brotli" }

func (c brotliCodec) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, c.level)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (brotliCodec) Decompress(src []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(src)))
}
