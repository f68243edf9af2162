// Package s3 stores workspace contexts and files in an S3 (or MinIO) bucket.
//
// Layout:
//
//	<context>/_context.json          context manifest and members
//	<context>/files/<contentId>      file or folder archive
//	<context>/shares/<contentId>.json share list of one file
//
// File objects carry name, is-file and owner user metadata.
package s3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fruitsalade/fruitsalade/workspace/internal/logging"
	"github.com/fruitsalade/fruitsalade/workspace/internal/metrics"
)

var (
	// ErrNotFound is returned for an unknown context or content id.
	ErrNotFound = errors.New("not found")
	// ErrNotOwned is returned when the principal does not own a file.
	ErrNotOwned = errors.New("not owned by you")
	// ErrForbidden is returned for a wrong context secret.
	ErrForbidden = errors.New("wrong context name or secret")
)

const (
	metaName   = "name"
	metaIsFile = "is-file"
	metaOwner  = "owner"
)

// API is the part of the S3 client the store uses.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Config holds the bucket connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Store implements the workspace remote store and context directory on
// one bucket, acting as a single principal.
type Store struct {
	api        API
	bucket     string
	principal  string
	now        func() time.Time
	bcryptCost int

	mu    sync.Mutex
	index map[string]string // content id -> context id
}

// New connects to the bucket described by cfg, creating it if needed.
func New(ctx context.Context, cfg Config, principal string) (*Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		scheme := "http://"
		if cfg.UseSSL {
			scheme = "https://"
		}
		endpoint = scheme + endpoint
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	store := NewWithAPI(client, cfg.Bucket, principal)
	if err := store.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.Error(err))
	}
	return store, nil
}

// NewWithAPI creates a store on an existing client.
func NewWithAPI(api API, bucket, principal string) *Store {
	return &Store{
		api:        api,
		bucket:     bucket,
		principal:  strings.ToLower(principal),
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
		index:      make(map[string]string),
	}
}

func (s *Store) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	_, err = s.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	metrics.RecordS3Operation("create_bucket", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", s.bucket, err)
	}
	logging.Info("created S3 bucket", zap.String("bucket", s.bucket))
	return nil
}

func manifestKey(contextID string) string  { return contextID + "/_context.json" }
func filesPrefix(contextID string) string  { return contextID + "/files/" }
func sharesPrefix(contextID string) string { return contextID + "/shares/" }

func fileKey(contextID, contentID string) string {
	return filesPrefix(contextID) + contentID
}

func shareKey(contextID, contentID string) string {
	return sharesPrefix(contextID) + contentID + ".json"
}

func observe(op string, start time.Time, err error) {
	metrics.RecordS3Operation(op, time.Since(start), err == nil)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	start := time.Now()
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	observe("get_object", start, err)
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()
	if err := json.NewDecoder(out.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          strings.NewReader(string(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	observe("put_object", start, err)
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// keys lists every key under prefix.
func (s *Store) keys(ctx context.Context, prefix string) ([]types.Object, error) {
	var objects []types.Object
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		start := time.Now()
		page, err := p.NextPage(ctx)
		observe("list_objects", start, err)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		objects = append(objects, page.Contents...)
	}
	return objects, nil
}

// fileMeta is the user metadata of one file object.
type fileMeta struct {
	contextID string
	contentID string
	name      string
	isFile    bool
	owner     string
	size      int64
	modified  time.Time
}

func encodeMeta(name, owner string, isFile bool) map[string]string {
	return map[string]string{
		metaName:   url.PathEscape(name),
		metaIsFile: fmt.Sprintf("%t", isFile),
		metaOwner:  owner,
	}
}

func decodeMeta(contextID, contentID string, out *s3.HeadObjectOutput) fileMeta {
	m := fileMeta{
		contextID: contextID,
		contentID: contentID,
		name:      contentID,
		isFile:    out.Metadata[metaIsFile] != "false",
		owner:     out.Metadata[metaOwner],
	}
	if raw, ok := out.Metadata[metaName]; ok {
		if name, err := url.PathUnescape(raw); err == nil {
			m.name = name
		}
	}
	if out.ContentLength != nil {
		m.size = *out.ContentLength
	}
	if out.LastModified != nil {
		m.modified = *out.LastModified
	}
	return m
}

func (s *Store) head(ctx context.Context, contextID, contentID string) (fileMeta, error) {
	start := time.Now()
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fileKey(contextID, contentID)),
	})
	observe("head_object", start, err)
	if err != nil {
		if isNotFound(err) {
			return fileMeta{}, ErrNotFound
		}
		return fileMeta{}, fmt.Errorf("head %s: %w", contentID, err)
	}
	return decodeMeta(contextID, contentID, out), nil
}

func (s *Store) remember(contentID, contextID string) {
	s.mu.Lock()
	s.index[contentID] = contextID
	s.mu.Unlock()
}

func (s *Store) forget(contentID string) {
	s.mu.Lock()
	delete(s.index, contentID)
	s.mu.Unlock()
}

// locate finds the file object for contentID among the principal's contexts.
func (s *Store) locate(ctx context.Context, contentID string) (fileMeta, error) {
	s.mu.Lock()
	contextID, ok := s.index[contentID]
	s.mu.Unlock()
	if ok {
		m, err := s.head(ctx, contextID, contentID)
		if !errors.Is(err, ErrNotFound) {
			return m, err
		}
		s.forget(contentID)
	}

	contexts, err := s.ListContexts(ctx)
	if err != nil {
		return fileMeta{}, err
	}
	for _, c := range contexts {
		m, err := s.head(ctx, c.ID, contentID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return fileMeta{}, err
		}
		s.remember(contentID, c.ID)
		return m, nil
	}
	return fileMeta{}, fmt.Errorf("content %s: %w", contentID, ErrNotFound)
}

func (s *Store) owned(ctx context.Context, contentID string) (fileMeta, error) {
	m, err := s.locate(ctx, contentID)
	if err != nil {
		return fileMeta{}, err
	}
	if m.owner != s.principal {
		return fileMeta{}, fmt.Errorf("%s: %w", m.name, ErrNotOwned)
	}
	return m, nil
}

func (s *Store) open(ctx context.Context, m fileMeta) (io.ReadCloser, error) {
	start := time.Now()
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fileKey(m.contextID, m.contentID)),
	})
	observe("get_object", start, err)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", m.name, err)
	}
	return out.Body, nil
}
