package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/goccy/go-json"
)

// S3Configuration configures the S3 backend.
type S3Configuration struct {
	AccessID      string
	AccessKey     string
	AWSRegion     string
	AWSBucketName string
	// KeyPrefix is prepended to every object key, so several deployments
	// can share one bucket.
	KeyPrefix string
}

// S3Backend keeps each collection under a bucket prefix, one JSON object
// per key. Stores are direct and there are no atomic counters.
type S3Backend struct {
	config aws.Config
	bucket string
	prefix string
}

// NewS3Backend returns a backend for the configured bucket.
func NewS3Backend(s3Config S3Configuration) (*S3Backend, error) {
	if s3Config.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}
	awsConfig, err := config.LoadDefaultConfig(
		context.TODO(),
		config.WithRegion(s3Config.AWSRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s3Config.AccessID, s3Config.AccessKey, "")),
	)
	if err != nil {
		return nil, err
	}
	return &S3Backend{config: awsConfig, bucket: s3Config.AWSBucketName, prefix: s3Config.KeyPrefix}, nil
}

// Open returns the store for the collection prefix.
func (b *S3Backend) Open(collection string) (Store, error) {
	if strings.ContainsRune(collection, '/') {
		return nil, fmt.Errorf("collection name `%s` contains a /", collection)
	}
	return &S3Store{backend: b, prefix: b.prefix + collection + "/"}, nil
}

// Stores lists the collection prefixes of the bucket.
func (b *S3Backend) Stores() ([]string, error) {
	client := s3.NewFromConfig(b.config)
	names := []string{}
	var continuationToken *string
	for {
		out, err := client.ListObjectsV2(context.TODO(), &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(b.prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, err
		}
		for _, common := range out.CommonPrefixes {
			name := strings.TrimPrefix(*common.Prefix, b.prefix)
			names = append(names, strings.TrimSuffix(name, "/"))
		}
		continuationToken = out.NextContinuationToken
		if continuationToken == nil {
			return names, nil
		}
	}
}

// S3Store is a direct store with one bucket object per key.
type S3Store struct {
	backend *S3Backend
	prefix  string
}

func (s *S3Store) keyName(key string) (string, error) {
	if key == "" || strings.ContainsRune(key, '/') {
		return "", fmt.Errorf("key `%s` is not a valid object name", key)
	}
	return s.prefix + key, nil
}

// Get fetches and decodes the key object.
func (s *S3Store) Get(key string) (interface{}, error) {
	name, err := s.keyName(key)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(s.backend.config)
	out, err := client.GetObject(context.TODO(), &s3.GetObjectInput{
		Bucket: aws.String(s.backend.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, &KeyError{Key: key}
		}
		return nil, err
	}
	defer out.Body.Close()
	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("key `%s` is corrupted: %w", key, err)
	}
	return value, nil
}

// Set encodes and uploads the value as the key object.
func (s *S3Store) Set(key string, value interface{}) error {
	name, err := s.keyName(key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	client := s3.NewFromConfig(s.backend.config)
	_, err = client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket: aws.String(s.backend.bucket),
		Key:    aws.String(name),
		Body:   bytes.NewReader(raw),
	})
	if err != nil {
		return fmt.Errorf("failed to upload key `%s`: %w", key, err)
	}
	return nil
}

// Delete removes the key object. S3 deletions are idempotent, so the
// object is checked first to report missing keys.
func (s *S3Store) Delete(key string) error {
	name, err := s.keyName(key)
	if err != nil {
		return err
	}
	client := s3.NewFromConfig(s.backend.config)
	_, err = client.HeadObject(context.TODO(), &s3.HeadObjectInput{
		Bucket: aws.String(s.backend.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return &KeyError{Key: key}
		}
		return err
	}
	_, err = client.DeleteObject(context.TODO(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.backend.bucket),
		Key:    aws.String(name),
	})
	return err
}

// Keys lists the object names under the collection prefix, following
// the pagination.
func (s *S3Store) Keys() ([]string, error) {
	client := s3.NewFromConfig(s.backend.config)
	keys := []string{}
	var continuationToken *string
	for {
		out, err := client.ListObjectsV2(context.TODO(), &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.backend.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, err
		}
		for _, object := range out.Contents {
			keys = append(keys, strings.TrimPrefix(*object.Key, s.prefix))
		}
		continuationToken = out.NextContinuationToken
		if continuationToken == nil {
			return keys, nil
		}
	}
}

// Save is a no-op; every Set already uploaded.
func (s *S3Store) Save() error {
	return nil
}

// Drop deletes every object under the collection prefix.
func (s *S3Store) Drop() error {
	keys, err := s.Keys()
	if err != nil {
		return err
	}
	client := s3.NewFromConfig(s.backend.config)
	for _, key := range keys {
		_, err := client.DeleteObject(context.TODO(), &s3.DeleteObjectInput{
			Bucket: aws.String(s.backend.bucket),
			Key:    aws.String(s.prefix + key),
		})
		if err != nil {
			return err
		}
	}
	return nil
}
