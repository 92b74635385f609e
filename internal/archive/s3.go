// Package archive optionally ships closed run artifacts (benchmark
// results, baselines) to S3 for durable storage beyond the local output
// directory. Grounded on the pack's aws-sdk-go-v2 Bedrock adapters' client
// construction idiom (config.LoadDefaultConfig with an explicit region),
// generalized here to the S3 service client instead of bedrockruntime.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/forgebench/forgebench/internal/security"
)

// Archiver uploads local files to a fixed S3 bucket/prefix. A nil
// *Archiver (via NewArchiver returning an error, or simply not
// constructing one) means archival is disabled — callers should treat it
// as optional and skip silently, matching the "HUD senders ignore
// delivery failures" spirit of the streaming package.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string

	// encryptor, when set, AES-256-GCM-encrypts each artifact before
	// upload — results.json and baselines.jsonl can carry task
	// descriptions and transcript excerpts that the bucket owner may not
	// be the only reader of.
	encryptor *security.Encryptor
}

// NewArchiver builds an S3-backed archiver for bucket, loading credentials
// and region from the standard AWS environment/config chain.
func NewArchiver(ctx context.Context, bucket, prefix, region string) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	return &Archiver{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

// WithEncryption enables at-rest encryption of uploaded artifacts using
// passphrase as the AES key material. An empty passphrase is a no-op so
// callers can wire an optional env var straight through.
func (a *Archiver) WithEncryption(passphrase string) (*Archiver, error) {
	if passphrase == "" {
		return a, nil
	}
	enc, err := security.NewEncryptor(passphrase)
	if err != nil {
		return nil, fmt.Errorf("archive: encryption: %w", err)
	}
	a.encryptor = enc
	return a, nil
}

// UploadFile archives the file at localPath under <prefix>/<runID>/<basename>.
// Failures are returned (not swallowed) so the CLI can log them, but the
// run itself never depends on this succeeding.
func (a *Archiver) UploadFile(ctx context.Context, runID, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", localPath, err)
	}

	var body io.Reader = bytes.NewReader(data)
	if a.encryptor != nil {
		ciphertext, err := a.encryptor.Encrypt(string(data))
		if err != nil {
			return fmt.Errorf("archive: encrypt %s: %w", localPath, err)
		}
		body = bytes.NewReader([]byte(ciphertext))
	}

	key := archiveKey(a.prefix, runID, localPath)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}

// archiveKey computes the object key a local file is stored under:
// <prefix>/<runID>/<basename>, slash-normalized for S3.
func archiveKey(prefix, runID, localPath string) string {
	return filepath.ToSlash(filepath.Join(prefix, runID, filepath.Base(localPath)))
}

// UploadRunArtifacts archives the run's results.json and, if present, its
// baselines.jsonl from outputDir. Each file is uploaded independently; a
// failure on one does not prevent the other from being attempted.
func (a *Archiver) UploadRunArtifacts(ctx context.Context, runID, outputDir string) []error {
	var errs []error
	for _, name := range []string{"results.json", "baselines.jsonl"} {
		path := filepath.Join(outputDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := a.UploadFile(ctx, runID, path); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
