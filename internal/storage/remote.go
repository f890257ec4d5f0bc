package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/roguecord/hub/internal/models"
)

// RemoteProvider backs the remote_object_store storage type with any
// S3-compatible endpoint (AWS S3, MinIO, Garage, Hetzner Object Storage).
type RemoteProvider struct {
	client *minio.Client
	bucket string
}

// NewRemoteProvider builds a client using the given (already-sanitized)
// config and the addressing/region combination chosen by Validate.
func NewRemoteProvider(cfg models.S3Config, lookup minio.BucketLookupType, region string) (*RemoteProvider, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: creating remote client: %w", err)
	}
	return &RemoteProvider{client: client, bucket: cfg.Bucket}, nil
}

func (r *RemoteProvider) Put(ctx context.Context, key string, data io.Reader, size int64, mime string) error {
	_, err := r.client.PutObject(ctx, r.bucket, key, data, size, minio.PutObjectOptions{ContentType: mime})
	if err != nil {
		return fmt.Errorf("storage: remote put %q: %w", key, err)
	}
	return nil
}

func (r *RemoteProvider) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := r.client.GetObject(ctx, r.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: remote get %q: %w", key, err)
	}
	return obj, nil
}

func (r *RemoteProvider) Delete(ctx context.Context, key string) error {
	if err := r.client.RemoveObject(ctx, r.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: remote delete %q: %w", key, err)
	}
	return nil
}

func (r *RemoteProvider) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for obj := range r.client.ListObjects(ctx, r.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("storage: remote list %q: %w", prefix, obj.Err)
		}
		out = append(out, obj.Key)
	}
	return out, nil
}

func (r *RemoteProvider) Head(ctx context.Context) error {
	ok, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("storage: head bucket %q: %w", r.bucket, err)
	}
	if !ok {
		return fmt.Errorf("storage: bucket %q does not exist", r.bucket)
	}
	return nil
}

// hetznerEndpoint matches "<bucket>.<region>.your-objectstorage.com".
var hetznerEndpoint = regexp.MustCompile(`^([a-z0-9][a-z0-9.-]*)\.([a-z0-9-]+)\.your-objectstorage\.com$`)

// ValidationError is the diagnostic shape returned when Validate exhausts
// every host/addressing/region combination it tries.
type ValidationError struct {
	Attempts []ValidationAttempt
}

type ValidationAttempt struct {
	Host         string
	Addressing   string
	SignerRegion string
	Code         string
	Message      string
	RequestID    string
	HostID       string
}

func (v *ValidationError) Error() string {
	var b strings.Builder
	for _, a := range v.Attempts {
		fmt.Fprintf(&b, "[host=%s addressing=%s region=%s code=%s message=%s requestId=%s hostId=%s] ",
			a.Host, a.Addressing, a.SignerRegion, a.Code, a.Message, a.RequestID, a.HostID)
	}
	return strings.TrimSpace(b.String())
}

// SanitizeConfig normalizes the key prefix, derives a missing bucket or
// region from a Hetzner endpoint, and then rejects empty required fields.
// UseSSL is used as given: a config with UseSSL false connects over plain
// http, including one whose JSON omitted use_ssl.
func SanitizeConfig(cfg models.S3Config) (models.S3Config, error) {
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	if hetznerEndpoint.MatchString(cfg.Endpoint) {
		m := hetznerEndpoint.FindStringSubmatch(cfg.Endpoint)
		parsedBucket, parsedRegion := m[1], m[2]
		if cfg.Bucket == "" {
			cfg.Bucket = parsedBucket
		}
		if cfg.Region == "" {
			cfg.Region = parsedRegion
		}
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return cfg, fmt.Errorf("storage: endpoint, bucket, access key, and secret key are all required")
	}
	return cfg, nil
}

type addressingAttempt struct {
	name   string
	lookup minio.BucketLookupType
	host   string
}

// Validate probes the bucket with a sequence of client configurations: for
// Hetzner endpoints, only the normalized direct-bucket-endpoint and the
// path-style base-endpoint; for everything else, path-style, then
// virtual-host/base, then virtual-host/direct, each retried with the
// configured region and then with a us-east-1 signer-region fallback.
func Validate(ctx context.Context, cfg models.S3Config) (*RemoteProvider, error) {
	cfg, err := SanitizeConfig(cfg)
	if err != nil {
		return nil, err
	}

	isHetzner := hetznerEndpoint.MatchString(cfg.Endpoint)
	baseHost := stripScheme(cfg.Endpoint)
	if isHetzner {
		m := hetznerEndpoint.FindStringSubmatch(cfg.Endpoint)
		baseHost = m[2] + ".your-objectstorage.com"
	}
	directHost := fmt.Sprintf("%s.%s", cfg.Bucket, baseHost)

	var attempts []addressingAttempt
	if isHetzner {
		attempts = []addressingAttempt{
			{name: "virtual-host/direct-endpoint", lookup: minio.BucketLookupDNS, host: directHost},
			{name: "path-style/base-endpoint", lookup: minio.BucketLookupPath, host: baseHost},
		}
	} else {
		attempts = []addressingAttempt{
			{name: "path-style/base-endpoint", lookup: minio.BucketLookupPath, host: baseHost},
			{name: "virtual-host/base-endpoint", lookup: minio.BucketLookupDNS, host: baseHost},
			{name: "virtual-host/direct-endpoint", lookup: minio.BucketLookupDNS, host: directHost},
		}
	}

	regions := []string{cfg.Region, "us-east-1"}
	verr := &ValidationError{}

	for _, at := range attempts {
		for _, region := range uniqueNonEmpty(regions) {
			client, err := minio.New(at.host, &minio.Options{
				Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
				Secure:       cfg.UseSSL,
				Region:       region,
				BucketLookup: at.lookup,
			})
			if err != nil {
				verr.Attempts = append(verr.Attempts, ValidationAttempt{Host: at.host, Addressing: at.name, SignerRegion: region, Message: err.Error()})
				continue
			}
			ok, err := client.BucketExists(ctx, cfg.Bucket)
			if err != nil {
				resp := minio.ToErrorResponse(err)
				verr.Attempts = append(verr.Attempts, ValidationAttempt{
					Host: at.host, Addressing: at.name, SignerRegion: region,
					Code: resp.Code, Message: resp.Message, RequestID: resp.RequestID, HostID: resp.HostID,
				})
				continue
			}
			if !ok {
				verr.Attempts = append(verr.Attempts, ValidationAttempt{Host: at.host, Addressing: at.name, SignerRegion: region, Code: "NoSuchBucket", Message: "bucket does not exist"})
				continue
			}
			return &RemoteProvider{client: client, bucket: cfg.Bucket}, nil
		}
	}

	return nil, verr
}

func stripScheme(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return endpoint
}

func uniqueNonEmpty(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
