package dataset

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Source yields cases one at a time; Next returns io.EOF when exhausted.
type Source interface {
	Next(ctx context.Context) (*Case, error)
	Close() error
}

// S3Options are only used for s3:// locations. Empty keys fall back to the
// default AWS credential chain.
type S3Options struct {
	Region    string
	AccessKey string
	SecretKey string
}

// RecordError reports one line that could not be decoded. Reading can
// continue past it.
type RecordError struct {
	Line int
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("decode dataset line %d failed: %v", e.Line, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// JSONLSource decodes one JSON case per line. A ".gz" location is gunzipped.
// Blank lines are ignored.
type JSONLSource struct {
	closers []io.Closer
	r       *bufio.Reader
	line    int
}

// NewJSONLSource reads cases from r. The caller keeps ownership of r.
func NewJSONLSource(r io.Reader) *JSONLSource {
	return &JSONLSource{r: bufio.NewReaderSize(r, 1<<20)}
}

// Open resolves a local path or an s3://bucket/key location.
func Open(ctx context.Context, location string, opts S3Options) (*JSONLSource, error) {
	var (
		body io.ReadCloser
		err  error
	)
	if strings.HasPrefix(location, "s3://") {
		body, err = openS3(ctx, location, opts)
	} else {
		body, err = os.Open(location)
	}
	if err != nil {
		return nil, fmt.Errorf("open dataset %s failed: %w", location, err)
	}

	src := &JSONLSource{closers: []io.Closer{body}}
	var r io.Reader = body
	if strings.HasSuffix(location, ".gz") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			_ = body.Close()
			return nil, fmt.Errorf("open gzip dataset %s failed: %w", location, err)
		}
		src.closers = append([]io.Closer{gz}, src.closers...)
		r = gz
	}
	src.r = bufio.NewReaderSize(r, 1<<20)
	return src, nil
}

// Next returns the next case. A malformed line yields a *RecordError and the
// following call moves on to the next line; any other error comes from the
// underlying reader and ends the stream.
func (s *JSONLSource) Next(ctx context.Context) (*Case, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, readErr := s.r.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read dataset line %d failed: %w", s.line+1, readErr)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			if readErr != nil {
				return nil, io.EOF
			}
			s.line++
			continue
		}
		s.line++

		var c Case
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, &RecordError{Line: s.line, Err: err}
		}
		return &c, nil
	}
}

func (s *JSONLSource) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func parseS3Location(location string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(location, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 location %q, want s3://bucket/key", location)
	}
	return bucket, key, nil
}

func openS3(ctx context.Context, location string, opts S3Options) (io.ReadCloser, error) {
	bucket, key, err := parseS3Location(location)
	if err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	out, err := s3.NewFromConfig(awsCfg).GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return out.Body, nil
}
