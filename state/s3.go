package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/trendcast/go-mediautils/uploaderr"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Params ...
type S3Params struct {
	Bucket          string
	Region          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store keeps one JSON object per upload in a bucket, so a resume can happen on another machine.
type S3Store struct {
	client S3API
	bucket string
	prefix string
	logger log.Logger
}

// NewS3StoreFromParams builds the S3 client from params and the default AWS credential chain.
func NewS3StoreFromParams(ctx context.Context, params S3Params, logger log.Logger) (*S3Store, error) {
	if params.Bucket == "" {
		return nil, &uploaderr.ConfigurationError{Field: "state s3 bucket", Reason: "must not be empty"}
	}

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return NewS3Store(s3.NewFromConfig(*cfg), params.Bucket, params.Prefix, logger), nil
}

// NewS3Store ...
func NewS3Store(client S3API, bucket, prefix string, logger log.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

// Key returns the object key of the upload state.
func (s *S3Store) Key(uploadID string) string {
	return path.Join(s.prefix, stateFilePrefix+escapeID(uploadID)+".json")
}

// Load ...
func (s *S3Store) Load(ctx context.Context, uploadID string) (*State, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(uploadID)),
	})
	if err != nil {
		if isNotFound(err) {
			return New(uploadID), nil
		}
		return nil, &uploaderr.StateError{UploadID: uploadID, Op: "read", Err: err}
	}
	defer out.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &uploaderr.StateError{UploadID: uploadID, Op: "read", Err: err}
	}

	st, err := decode(uploadID, data)
	if err != nil {
		s.logger.Warnf("Ignoring unreadable upload state s3://%s/%s: %s", s.bucket, s.Key(uploadID), err)
		return New(uploadID), nil
	}
	return st, nil
}

// Record ...
func (s *S3Store) Record(ctx context.Context, st *State, partNumber int, checksum string, ack json.RawMessage) error {
	rec := Record{MD5: checksum, Resp: normalizeAck(ack)}
	err := st.apply(partNumber, rec, func(data []byte) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(s.Key(st.UploadID)),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String("application/json"),
		})
		return err
	})
	if err != nil {
		return &uploaderr.StateError{UploadID: st.UploadID, Op: "write", Err: err}
	}
	return nil
}

// Remove ...
func (s *S3Store) Remove(ctx context.Context, uploadID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(uploadID)),
	})
	if err != nil && !isNotFound(err) {
		return &uploaderr.StateError{UploadID: uploadID, Op: "remove", Err: err}
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, &uploaderr.ConfigurationError{Field: "state s3 region", Reason: "must not be empty"}
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
