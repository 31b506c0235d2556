package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/hubcap/pkg/host"
	"github.com/platinummonkey/hubcap/pkg/observability"
	"github.com/platinummonkey/hubcap/pkg/repository"
	"github.com/platinummonkey/hubcap/pkg/settings"
)

// KindS3 is the repository kind backed by an S3 bucket prefix.
const KindS3 = "s3"

// Settings keys understood by the s3 kind, next to the directory kind's timeout and
// parallelism and the remote kinds' cache_dir.
const (
	SettingBucket    = "bucket"
	SettingPrefix    = "prefix"
	SettingRegion    = "region"
	SettingEndpoint  = "endpoint"
	SettingPathStyle = "path_style"
	SettingAccessKey = "access_key"
	SettingSecretKey = "secret_key"
)

// DefaultRegion is used when the region setting is absent.
const DefaultRegion = "us-east-1"

func init() {
	repository.RegisterKind(KindS3, repository.RemoteKind(KindS3, NewS3Fetcher))
	settings.RegisterSensitive(SettingAccessKey, SettingSecretKey)
}

// S3API is the part of the S3 client the fetcher uses.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher mirrors the module files directly under a bucket prefix.
type S3Fetcher struct {
	client   S3API
	bucket   string
	prefix   string
	endpoint string
	tracer   trace.Tracer
}

// NewS3Fetcher creates a fetcher from s3 repository settings.
func NewS3Fetcher(ctx context.Context, bag settings.Bag) (repository.Fetcher, error) {
	bucket, err := bag.String(SettingBucket)
	if err != nil || bucket == "" {
		return nil, fmt.Errorf("%w: %q is required", repository.ErrInvalidSettings, SettingBucket)
	}
	region := bag.StringOr(SettingRegion, DefaultRegion)
	endpoint := bag.StringOr(SettingEndpoint, "")
	pathStyle := false
	if _, ok := bag.Get(SettingPathStyle); ok {
		if pathStyle, err = bag.Bool(SettingPathStyle); err != nil {
			return nil, fmt.Errorf("%w: %w", repository.ErrInvalidSettings, err)
		}
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	accessKey := bag.StringOr(SettingAccessKey, "")
	secretKey := bag.StringOr(SettingSecretKey, "")
	if accessKey != "" && secretKey != "" {
		// Static credentials, for MinIO or explicit keys; otherwise the default chain.
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})

	f := NewS3FetcherWithClient(client, bucket, bag.StringOr(SettingPrefix, ""))
	f.endpoint = endpoint
	return f, nil
}

// NewS3FetcherWithClient creates a fetcher over an existing client.
func NewS3FetcherWithClient(client S3API, bucket, prefix string) *S3Fetcher {
	return &S3Fetcher{
		client: client,
		bucket: bucket,
		prefix: prefix,
		tracer: otel.Tracer(observability.TracerName),
	}
}

// Source returns "s3://bucket/prefix".
func (f *S3Fetcher) Source() string {
	return "s3://" + f.bucket + "/" + f.prefix
}

// EqualsTo compares bucket, prefix and endpoint.
func (f *S3Fetcher) EqualsTo(bag settings.Bag) bool {
	bucket, err := bag.String(SettingBucket)
	if err != nil {
		return false
	}
	return bucket == f.bucket &&
		bag.StringOr(SettingPrefix, "") == f.prefix &&
		bag.StringOr(SettingEndpoint, "") == f.endpoint
}

// Fetch downloads new and changed module files into dir and removes module files that are
// gone from the bucket. A file is unchanged when its size and modification time match the
// object's.
func (f *S3Fetcher) Fetch(ctx context.Context, dir string) (err error) {
	ctx, span := f.tracer.Start(ctx, "S3.Fetch",
		trace.WithAttributes(
			attribute.String("s3.bucket", f.bucket),
			attribute.String("s3.prefix", f.prefix),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch modules")
		}
		span.End()
	}()

	objects, err := f.list(ctx)
	if err != nil {
		return err
	}

	downloaded := 0
	for name, obj := range objects {
		local := filepath.Join(dir, name)
		if upToDate(local, obj) {
			continue
		}
		if err := f.download(ctx, aws.ToString(obj.Key), local, obj); err != nil {
			return err
		}
		downloaded++
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !host.Loadable(e.Name()) {
			continue
		}
		if _, ok := objects[e.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
		removed++
	}

	span.SetAttributes(
		attribute.Int("s3.objects", len(objects)),
		attribute.Int("s3.downloaded", downloaded),
		attribute.Int("s3.removed", removed),
	)
	return nil
}

// list returns the loadable objects directly under the prefix, keyed by file name.
func (f *S3Fetcher) list(ctx context.Context) (map[string]types.Object, error) {
	objects := make(map[string]types.Object)
	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(f.bucket),
		Prefix:    aws.String(f.prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", f.bucket, f.prefix, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), f.prefix)
			if name == "" || strings.Contains(name, "/") || !host.Loadable(name) {
				continue
			}
			objects[name] = obj
		}
	}
	return objects, nil
}

func (f *S3Fetcher) download(ctx context.Context, key, local string, obj types.Object) error {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to get s3://%s/%s: %w", f.bucket, key, err)
	}
	defer out.Body.Close()

	// The temporary name is never loadable, so a concurrent inspection cannot pick it up.
	tmp, err := os.CreateTemp(filepath.Dir(local), ".fetch-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to download s3://%s/%s: %w", f.bucket, key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if obj.LastModified != nil {
		if err := os.Chtimes(tmp.Name(), *obj.LastModified, *obj.LastModified); err != nil {
			return err
		}
	}
	return os.Rename(tmp.Name(), local)
}

func upToDate(local string, obj types.Object) bool {
	info, err := os.Stat(local)
	if err != nil || obj.LastModified == nil {
		return false
	}
	return info.Size() == aws.ToInt64(obj.Size) && info.ModTime().Equal(*obj.LastModified)
}
