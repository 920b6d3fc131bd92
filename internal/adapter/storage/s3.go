package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/dustin/go-humanize"

	"github.com/semmidev/snapvault/internal/adapter/checksum"
	appconfig "github.com/semmidev/snapvault/internal/config"
	"github.com/semmidev/snapvault/internal/domain"
)

const archiveContentType = "application/gzip"

// BucketAPI is the subset of the S3 client used for the pre-flight check and
// for single-request uploads.
type BucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectUploader streams an object, switching to multipart for large bodies.
type ObjectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

type S3Storage struct {
	client   BucketAPI
	uploader ObjectUploader
	logger   Logger
	cfg      appconfig.StorageConfig
}

// NewS3 creates an S3Storage using AWS SDK v2. A custom endpoint and
// path-style addressing are applied when configured, as S3-compatible
// services usually need both.
func NewS3(ctx context.Context, cfg *appconfig.StorageConfig, logger Logger) (*S3Storage, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		// One attempt per run; the next scheduled run is the retry.
		config.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	if cfg.Endpoint != "" {
		logger.Infof("Using custom endpoint: %s", cfg.Endpoint)
	}

	return NewS3WithClient(client, s3manager.NewUploader(client), cfg, logger), nil
}

func NewS3WithClient(client BucketAPI, uploader ObjectUploader, cfg *appconfig.StorageConfig, logger Logger) *S3Storage {
	return &S3Storage{
		client:   client,
		uploader: uploader,
		logger:   logger,
		cfg:      *cfg,
	}
}

// CheckBucket verifies the bucket exists and the credentials may use it.
func (s *S3Storage) CheckBucket(ctx context.Context) error {
	s.logger.Infof("Testing S3 connection...")

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)})
	if err == nil {
		s.logger.Infof("S3 connection successful - bucket exists and is accessible")
		return nil
	}

	unreachable := classifyBucketError(s.cfg.Bucket, err)
	s.logger.Errorf("S3 connection test failed: code=%s message=%v", unreachable.Code, err)

	switch unreachable.Kind {
	case domain.UnreachableBucketMissing:
		s.logger.Errorf("Bucket %q does not exist or is not accessible", s.cfg.Bucket)
	case domain.UnreachableAccessDenied:
		s.logger.Errorf("Access denied - check your AWS credentials and permissions")
	case domain.UnreachableMalformedResponse:
		s.logger.Errorf("The endpoint is not returning proper S3 responses; custom endpoints often return HTML error pages")
	}

	return unreachable
}

// Upload checks the bucket, then streams the artifact to the identity's key.
// Nothing is sent when the pre-flight check fails.
func (s *S3Storage) Upload(ctx context.Context, artifact domain.DumpArtifact, identity domain.BackupIdentity) (domain.UploadDescriptor, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	if err := s.CheckBucket(ctx); err != nil {
		return domain.UploadDescriptor{}, err
	}

	desc := domain.UploadDescriptor{Bucket: s.cfg.Bucket, Key: identity.Key()}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(desc.Bucket),
		Key:         aws.String(desc.Key),
		ContentType: aws.String(archiveContentType),
	}

	if s.cfg.Checksum {
		s.logger.Infof("MD5 hashing file...")
		digest, err := checksum.MD5File(artifact.Path)
		if err != nil {
			return domain.UploadDescriptor{}, fmt.Errorf("checksum %s: %w", artifact.Path, err)
		}
		encoded, err := checksum.Base64FromHex(digest)
		if err != nil {
			return domain.UploadDescriptor{}, fmt.Errorf("checksum %s: %w", artifact.Path, err)
		}
		s.logger.Infof("Done hashing file: %s", digest)

		desc.Checksum = digest
		input.ContentMD5 = aws.String(encoded)
	}

	file, err := os.Open(artifact.Path)
	if err != nil {
		return domain.UploadDescriptor{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()
	input.Body = file

	s.logger.Infof("Uploading backup to s3://%s/%s (%s)...", desc.Bucket, desc.Key, humanize.Bytes(uint64(artifact.Size)))

	if err := s.put(ctx, input); err != nil {
		transferErr := newTransferError(desc, err)
		s.logger.Errorf("S3 upload failed: code=%s message=%s request_id=%s http_status=%d",
			transferErr.Code, transferErr.Message, transferErr.RequestID, transferErr.StatusCode)
		if s.cfg.Endpoint != "" {
			s.logger.Errorf("Custom endpoint detected; check that the endpoint URL is correct, " +
				"that it returns S3 responses rather than HTML pages, " +
				"that the bucket exists at this endpoint and that authentication succeeds there")
		}
		return domain.UploadDescriptor{}, transferErr
	}

	s.logger.Infof("Backup uploaded to S3")
	return desc, nil
}

// put sends the object. Multipart parts cannot carry a whole-object
// Content-MD5, so a checksummed upload is always a single PutObject request.
func (s *S3Storage) put(ctx context.Context, input *s3.PutObjectInput) error {
	if input.ContentMD5 != nil {
		_, err := s.client.PutObject(ctx, input)
		return err
	}
	_, err := s.uploader.Upload(ctx, input)
	return err
}

func classifyBucketError(bucket string, err error) *domain.StorageUnreachableError {
	unreachable := &domain.StorageUnreachableError{
		Kind:   domain.UnreachableUnknown,
		Bucket: bucket,
		Err:    err,
	}

	var deserializeErr *smithy.DeserializationError
	if errors.As(err, &deserializeErr) {
		unreachable.Kind = domain.UnreachableMalformedResponse
		unreachable.Code = "DeserializationError"
		return unreachable
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		unreachable.Code = apiErr.ErrorCode()
		switch unreachable.Code {
		case "NoSuchBucket", "NotFound":
			unreachable.Kind = domain.UnreachableBucketMissing
			return unreachable
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			unreachable.Kind = domain.UnreachableAccessDenied
			return unreachable
		case "MalformedXML":
			unreachable.Kind = domain.UnreachableMalformedResponse
			return unreachable
		}
	}

	// HeadBucket has no response body, so the status code is often all there is.
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			unreachable.Kind = domain.UnreachableBucketMissing
		case http.StatusForbidden, http.StatusUnauthorized:
			unreachable.Kind = domain.UnreachableAccessDenied
		}
	}

	return unreachable
}

func newTransferError(desc domain.UploadDescriptor, err error) *domain.StorageTransferError {
	transferErr := &domain.StorageTransferError{
		Bucket:  desc.Bucket,
		Key:     desc.Key,
		Message: err.Error(),
		Err:     err,
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		transferErr.Code = apiErr.ErrorCode()
		transferErr.Message = apiErr.ErrorMessage()
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		transferErr.RequestID = respErr.ServiceRequestID()
		transferErr.StatusCode = respErr.HTTPStatusCode()
	}

	return transferErr
}
