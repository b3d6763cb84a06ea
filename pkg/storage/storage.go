// Package storage opens the sources and sinks of CLI transfers: local
// files, standard streams and S3 objects, addressed by a single string.
//
//	-                     stdin or stdout
//	path/to/file          local file
//	s3://bucket/key       S3 object
//
// S3 sinks stream through a bounded body channel into a background
// PutObject, so a slow upload applies backpressure to the writer.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoS3 is returned when an s3:// reference is used without an S3 client.
var ErrNoS3 = errors.New("storage: s3 is not configured")

// Kind is the backend a Ref points to.
type Kind int

const (
	KindFile Kind = iota
	KindStdio
	KindS3
)

// Ref is a parsed transfer location.
type Ref struct {
	Kind   Kind
	Path   string // KindFile
	Bucket string // KindS3
	Key    string // KindS3
}

// Parse parses a transfer location.
func Parse(s string) (Ref, error) {
	switch {
	case s == "-":
		return Ref{Kind: KindStdio}, nil
	case strings.HasPrefix(s, "s3://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(s, "s3://"), "/")
		if !ok || bucket == "" || key == "" {
			return Ref{}, fmt.Errorf("storage: invalid s3 reference %q, want s3://bucket/key", s)
		}
		return Ref{Kind: KindS3, Bucket: bucket, Key: key}, nil
	case s == "":
		return Ref{}, errors.New("storage: empty reference")
	default:
		return Ref{Kind: KindFile, Path: s}, nil
	}
}

func (r Ref) String() string {
	switch r.Kind {
	case KindStdio:
		return "-"
	case KindS3:
		return "s3://" + r.Bucket + "/" + r.Key
	default:
		return r.Path
	}
}

// Opener opens refs for reading and writing. The zero value handles files
// and standard streams only.
type Opener struct {
	S3 S3Client

	Stdin  io.Reader
	Stdout io.Writer
}

// Open opens ref for reading. size is -1 when unknown. If the object does
// not exist, an error wrapping os.ErrNotExist is returned.
func (o *Opener) Open(ctx context.Context, ref Ref) (rc io.ReadCloser, size int64, err error) {
	switch ref.Kind {
	case KindStdio:
		in := o.Stdin
		if in == nil {
			in = os.Stdin
		}
		return io.NopCloser(in), -1, nil
	case KindS3:
		if o.S3 == nil {
			return nil, 0, ErrNoS3
		}
		return openS3(ctx, o.S3, ref.Bucket, ref.Key)
	default:
		f, err := os.Open(ref.Path)
		if err != nil {
			return nil, 0, err
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, err
		}
		return f, st.Size(), nil
	}
}

// Create opens ref for writing, truncating what is there. The caller must
// close the writer; for S3 Close waits for the upload and returns its
// error.
func (o *Opener) Create(ctx context.Context, ref Ref) (io.WriteCloser, error) {
	switch ref.Kind {
	case KindStdio:
		out := o.Stdout
		if out == nil {
			out = os.Stdout
		}
		return nopWriteCloser{out}, nil
	case KindS3:
		if o.S3 == nil {
			return nil, ErrNoS3
		}
		return createS3(ctx, o.S3, ref.Bucket, ref.Key), nil
	default:
		return os.Create(ref.Path)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
