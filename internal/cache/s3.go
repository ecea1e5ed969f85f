package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	updatedAtMetaKey = "updated_at"
	statusMetaKey    = "status"
	generationMarker = ".generation"

	// DeleteObjects accepts at most this many keys per call.
	maxDeleteBatch = 1000
)

type S3Store struct {
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Store stores generations under prefix in bucket. Each generation is a
// directory-like key prefix holding a marker object plus one object per entry.
func NewS3Store(bucket, prefix string, client *s3.Client) *S3Store {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Store{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (s *S3Store) Open(ctx context.Context, generation string) error {
	ok, err := s.hasGeneration(ctx, generation)
	if err != nil || ok {
		return err
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.generationPrefix(generation) + generationMarker),
		Body:   bytes.NewReader(nil),
		Metadata: map[string]string{
			updatedAtMetaKey: strconv.FormatInt(time.Now().Unix(), 10),
		},
	})
	return err
}

func (s *S3Store) Generations(ctx context.Context) ([]string, error) {
	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), s.prefix), "/")
			if name == "" {
				continue
			}
			// Only prefixes carrying a marker are generations; anything else
			// sharing the bucket prefix is left alone.
			ok, err := s.hasGeneration(ctx, name)
			if err != nil {
				return nil, err
			}
			if ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func (s *S3Store) DropGeneration(ctx context.Context, generation string) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.generationPrefix(generation)),
	})
	var batch []types.ObjectIdentifier
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		batch = batch[:0]
		return err
	}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			batch = append(batch, types.ObjectIdentifier{Key: obj.Key})
			if len(batch) == maxDeleteBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

func (s *S3Store) Get(ctx context.Context, generation, key string) (Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(generation, key)),
	})
	if err != nil {
		if isNotFound(err) {
			return Object{}, ErrNotFound
		}
		return Object{}, err
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return Object{}, err
	}

	return Object{
		Status:      parseStatus(out.Metadata),
		Body:        body,
		ContentType: aws.ToString(out.ContentType),
		Encoding:    aws.ToString(out.ContentEncoding),
		UpdatedAt:   parseUpdatedAt(out.Metadata),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, generation, key string, obj Object) error {
	ok, err := s.hasGeneration(ctx, generation)
	if err != nil {
		return err
	}
	if !ok {
		return ErrGenerationNotFound
	}

	meta := map[string]string{
		statusMetaKey: strconv.Itoa(obj.StatusCode()),
	}
	if !obj.UpdatedAt.IsZero() {
		meta[updatedAtMetaKey] = strconv.FormatInt(obj.UpdatedAt.Unix(), 10)
	}

	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.objectKey(generation, key)),
		Body:     bytes.NewReader(obj.Body),
		Metadata: meta,
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}
	if obj.Encoding != "" {
		input.ContentEncoding = aws.String(obj.Encoding)
	}

	_, err = s.uploader.Upload(ctx, input)
	return err
}

func (s *S3Store) Delete(ctx context.Context, generation, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(generation, key)),
	})
	return err
}

func (s *S3Store) hasGeneration(ctx context.Context, generation string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.generationPrefix(generation) + generationMarker),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3Store) generationPrefix(generation string) string {
	return s.prefix + generation + "/"
}

// objectKey escapes the whole entry key, query included, so every entry is a
// single object directly under the generation prefix.
func (s *S3Store) objectKey(generation, key string) string {
	return s.generationPrefix(generation) + "entries/" + url.PathEscape(key)
}

func parseUpdatedAt(meta map[string]string) time.Time {
	if meta == nil {
		return time.Time{}
	}
	val, ok := meta[updatedAtMetaKey]
	if !ok {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func parseStatus(meta map[string]string) int {
	n, err := strconv.Atoi(meta[statusMetaKey])
	if err != nil {
		return 0
	}
	return n
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}
