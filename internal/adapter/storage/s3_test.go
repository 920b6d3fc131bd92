package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	. "github.com/smartystreets/goconvey/convey"

	appconfig "github.com/semmidev/snapvault/internal/config"
	"github.com/semmidev/snapvault/internal/domain"
)

type fakeBucketAPI struct {
	err    error
	calls  int
	putErr error
	puts   int
	input  *s3.PutObjectInput
	body   []byte
}

func (f *fakeBucketAPI) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeBucketAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts++
	f.input = params
	if params.Body != nil {
		f.body, _ = io.ReadAll(params.Body)
	}
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &s3.PutObjectOutput{}, nil
}

type fakeUploader struct {
	err   error
	calls int
	input *s3.PutObjectInput
	body  []byte
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	f.calls++
	f.input = input
	if input.Body != nil {
		f.body, _ = io.ReadAll(input.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3manager.UploadOutput{Key: input.Key}, nil
}

type recordingLogger struct {
	infos, warns, errors []string
}

func (r *recordingLogger) Infof(template string, args ...interface{}) {
	r.infos = append(r.infos, fmt.Sprintf(template, args...))
}

func (r *recordingLogger) Warnf(template string, args ...interface{}) {
	r.warns = append(r.warns, fmt.Sprintf(template, args...))
}

func (r *recordingLogger) Errorf(template string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(template, args...))
}

func responseError(status int, requestID string, err error) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      err,
		},
		RequestID: requestID,
	}
}

func TestS3Storage(t *testing.T) {
	Convey("Given an S3Storage with fake collaborators", t, func() {
		tempDir := t.TempDir()
		artifactPath := filepath.Join(tempDir, "acme-corp-prod-2024-01-01T00-00-00-000Z.tar.gz")
		So(os.WriteFile(artifactPath, []byte("hello world"), 0644), ShouldBeNil)
		artifact := domain.DumpArtifact{Path: artifactPath, Size: 11}

		identity, err := domain.NewIdentity("Acme Corp", "prod", "daily", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		So(err, ShouldBeNil)

		bucketAPI := &fakeBucketAPI{}
		uploader := &fakeUploader{}
		logger := &recordingLogger{}
		cfg := &appconfig.StorageConfig{Bucket: "backups", Region: "us-east-1"}
		ctx := context.Background()

		Convey("When the bucket is reachable", func() {
			store := NewS3WithClient(bucketAPI, uploader, cfg, logger)
			desc, err := store.Upload(ctx, artifact, identity)

			Convey("It should stream the file under the structured key", func() {
				So(err, ShouldBeNil)
				So(bucketAPI.calls, ShouldEqual, 1)
				So(uploader.calls, ShouldEqual, 1)
				So(*uploader.input.Bucket, ShouldEqual, "backups")
				So(*uploader.input.Key, ShouldEqual, "acme-corp/prod/daily/acme-corp-prod-2024-01-01T00-00-00-000Z.tar.gz")
				So(*uploader.input.ContentType, ShouldEqual, "application/gzip")
				So(uploader.input.ContentMD5, ShouldBeNil)
				So(string(uploader.body), ShouldEqual, "hello world")
				So(desc.Key, ShouldEqual, identity.Key())
				So(desc.Checksum, ShouldBeEmpty)
			})
		})

		Convey("When checksums are enabled", func() {
			cfg.Checksum = true
			store := NewS3WithClient(bucketAPI, uploader, cfg, logger)
			desc, err := store.Upload(ctx, artifact, identity)

			Convey("It should send one PutObject carrying the base64 Content-MD5", func() {
				So(err, ShouldBeNil)
				So(uploader.calls, ShouldEqual, 0)
				So(bucketAPI.puts, ShouldEqual, 1)
				So(*bucketAPI.input.ContentMD5, ShouldEqual, "XrY7u+Ae7tCTyyK7j1rNww==")
				So(*bucketAPI.input.Key, ShouldEqual, identity.Key())
				So(string(bucketAPI.body), ShouldEqual, "hello world")
				So(desc.Checksum, ShouldEqual, "5eb63bbbe01eeed093cb22bb8f5acdc3")
			})
		})

		Convey("When a checksummed transfer is rejected", func() {
			cfg.Checksum = true
			bucketAPI.putErr = &smithy.OperationError{
				ServiceID:     "S3",
				OperationName: "PutObject",
				Err: responseError(http.StatusBadRequest, "REQ456",
					&smithy.GenericAPIError{Code: "BadDigest", Message: "The Content-MD5 you specified did not match what we received."}),
			}
			store := NewS3WithClient(bucketAPI, uploader, cfg, logger)

			_, err := store.Upload(ctx, artifact, identity)

			Convey("It should report the store's digest error", func() {
				var transferErr *domain.StorageTransferError
				So(errors.As(err, &transferErr), ShouldBeTrue)
				So(transferErr.Code, ShouldEqual, "BadDigest")
				So(transferErr.RequestID, ShouldEqual, "REQ456")
				So(transferErr.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the pre-flight check fails", func() {
			cases := []struct {
				name string
				err  error
				kind domain.UnreachableKind
				code string
			}{
				{"missing bucket", &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "gone"}, domain.UnreachableBucketMissing, "NoSuchBucket"},
				{"head not found", &smithy.GenericAPIError{Code: "NotFound"}, domain.UnreachableBucketMissing, "NotFound"},
				{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, domain.UnreachableAccessDenied, "AccessDenied"},
				{"malformed xml", &smithy.GenericAPIError{Code: "MalformedXML"}, domain.UnreachableMalformedResponse, "MalformedXML"},
				{"html page", &smithy.DeserializationError{Err: errors.New("unexpected <html>")}, domain.UnreachableMalformedResponse, "DeserializationError"},
				{"bare 404", responseError(http.StatusNotFound, "req-1", errors.New("not found")), domain.UnreachableBucketMissing, ""},
				{"bare 403", responseError(http.StatusForbidden, "req-2", errors.New("forbidden")), domain.UnreachableAccessDenied, ""},
				{"network", errors.New("dial tcp: connection refused"), domain.UnreachableUnknown, ""},
			}

			for _, tc := range cases {
				bucketAPI := &fakeBucketAPI{err: tc.err}
				uploader := &fakeUploader{}
				store := NewS3WithClient(bucketAPI, uploader, cfg, logger)

				_, err := store.Upload(ctx, artifact, identity)

				var unreachable *domain.StorageUnreachableError
				So(errors.As(err, &unreachable), ShouldBeTrue)
				So(unreachable.Kind, ShouldEqual, tc.kind)
				So(unreachable.Code, ShouldEqual, tc.code)
				So(unreachable.Bucket, ShouldEqual, "backups")
				So(uploader.calls, ShouldEqual, 0)
			}
		})

		Convey("When the transfer fails", func() {
			uploader.err = fmt.Errorf("upload multipart failed: %w", &smithy.OperationError{
				ServiceID:     "S3",
				OperationName: "UploadPart",
				Err: responseError(http.StatusInternalServerError, "REQ123",
					&smithy.GenericAPIError{Code: "InternalError", Message: "We encountered an internal error"}),
			})
			cfg.Endpoint = "https://minio.internal:9000"
			store := NewS3WithClient(bucketAPI, uploader, cfg, logger)

			_, err := store.Upload(ctx, artifact, identity)

			Convey("It should surface the provider diagnostics", func() {
				var transferErr *domain.StorageTransferError
				So(errors.As(err, &transferErr), ShouldBeTrue)
				So(transferErr.Code, ShouldEqual, "InternalError")
				So(transferErr.Message, ShouldEqual, "We encountered an internal error")
				So(transferErr.RequestID, ShouldEqual, "REQ123")
				So(transferErr.StatusCode, ShouldEqual, http.StatusInternalServerError)
				So(transferErr.Key, ShouldEqual, identity.Key())
				So(uploader.calls, ShouldEqual, 1)
			})

			Convey("It should log the custom endpoint hints", func() {
				So(len(logger.errors), ShouldBeGreaterThanOrEqualTo, 2)
				So(logger.errors[len(logger.errors)-1], ShouldContainSubstring, "Custom endpoint detected")
			})
		})

		Convey("When the artifact is missing", func() {
			store := NewS3WithClient(bucketAPI, uploader, cfg, logger)
			_, err := store.Upload(ctx, domain.DumpArtifact{Path: filepath.Join(tempDir, "gone")}, identity)

			So(err, ShouldNotBeNil)
			So(uploader.calls, ShouldEqual, 0)
		})
	})
}

func TestNewS3(t *testing.T) {
	Convey("Given NewS3", t, func() {
		logger := &recordingLogger{}
		cfg := &appconfig.StorageConfig{
			Bucket:         "backups",
			Region:         "us-east-1",
			Endpoint:       "http://localhost:9000",
			ForcePathStyle: true,
			AccessKey:      "minio",
			SecretKey:      "minio123",
		}

		store, err := NewS3(context.Background(), cfg, logger)

		Convey("It should build a client without contacting the endpoint", func() {
			So(err, ShouldBeNil)
			So(store, ShouldNotBeNil)
			So(logger.infos, ShouldContain, "Using custom endpoint: http://localhost:9000")
		})
	})
}

type recordedRequest struct {
	method     string
	path       string
	query      string
	contentMD5 string
}

// fakeS3Server answers just enough of the S3 REST API for HeadBucket,
// PutObject and a multipart upload. A PutObject whose Content-MD5 does not
// match the body is rejected with BadDigest, as S3 does.
type fakeS3Server struct {
	mu       sync.Mutex
	requests []recordedRequest
	stored   []byte
}

func (f *fakeS3Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		method:     r.Method,
		path:       r.URL.Path,
		query:      r.URL.RawQuery,
		contentMD5: r.Header.Get("Content-MD5"),
	})
	f.mu.Unlock()

	query := r.URL.Query()
	switch {
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && query.Has("uploads"):
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>`+
			`<InitiateMultipartUploadResult><Bucket>backups</Bucket><Key>k</Key><UploadId>U1</UploadId></InitiateMultipartUploadResult>`)
	case r.Method == http.MethodPut && query.Has("partNumber"):
		w.Header().Set("ETag", `"part"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && query.Has("uploadId"):
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>`+
			`<CompleteMultipartUploadResult><Bucket>backups</Bucket><Key>k</Key><ETag>"done"</ETag></CompleteMultipartUploadResult>`)
	case r.Method == http.MethodPut:
		if header := r.Header.Get("Content-MD5"); header != "" {
			sum := md5.Sum(body)
			if header != base64.StdEncoding.EncodeToString(sum[:]) {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>`+
					`<Error><Code>BadDigest</Code><Message>digest mismatch</Message><RequestId>R1</RequestId></Error>`)
				return
			}
		}
		f.mu.Lock()
		f.stored = body
		f.mu.Unlock()
		w.Header().Set("ETag", `"object"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (f *fakeS3Server) uploads() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []recordedRequest
	for _, req := range f.requests {
		if req.method != http.MethodHead {
			out = append(out, req)
		}
	}
	return out
}

func TestS3StorageAgainstEndpoint(t *testing.T) {
	Convey("Given an S3Storage pointed at an S3-compatible endpoint", t, func() {
		fake := &fakeS3Server{}
		server := httptest.NewServer(fake)
		Reset(server.Close)

		// Larger than the uploader's 5 MiB part size.
		payload := bytes.Repeat([]byte("snapvault-archive-"), 6*1024*1024/18+1)
		artifactPath := filepath.Join(t.TempDir(), "acme-corp-prod.tar.gz")
		So(os.WriteFile(artifactPath, payload, 0644), ShouldBeNil)
		artifact := domain.DumpArtifact{Path: artifactPath, Size: int64(len(payload))}

		identity, err := domain.NewIdentity("Acme Corp", "prod", "daily", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		So(err, ShouldBeNil)

		cfg := &appconfig.StorageConfig{
			Bucket:         "backups",
			Region:         "us-east-1",
			Endpoint:       server.URL,
			ForcePathStyle: true,
			AccessKey:      "minio",
			SecretKey:      "minio123",
		}
		sum := md5.Sum(payload)
		wantMD5 := base64.StdEncoding.EncodeToString(sum[:])

		Convey("When checksums are enabled for a large archive", func() {
			cfg.Checksum = true
			store, err := NewS3(context.Background(), cfg, &recordingLogger{})
			So(err, ShouldBeNil)

			desc, err := store.Upload(context.Background(), artifact, identity)

			Convey("The store should receive a single request carrying Content-MD5", func() {
				So(err, ShouldBeNil)
				So(desc.Checksum, ShouldEqual, fmt.Sprintf("%x", sum))

				uploads := fake.uploads()
				So(len(uploads), ShouldEqual, 1)
				So(uploads[0].method, ShouldEqual, http.MethodPut)
				So(uploads[0].path, ShouldEqual, "/backups/"+identity.Key())
				So(uploads[0].query, ShouldNotContainSubstring, "partNumber")
				So(uploads[0].contentMD5, ShouldEqual, wantMD5)
				So(bytes.Equal(fake.stored, payload), ShouldBeTrue)
			})
		})

		Convey("When checksums are disabled for a large archive", func() {
			store, err := NewS3(context.Background(), cfg, &recordingLogger{})
			So(err, ShouldBeNil)

			_, err = store.Upload(context.Background(), artifact, identity)

			Convey("It should use a multipart upload", func() {
				So(err, ShouldBeNil)

				uploads := fake.uploads()
				So(len(uploads), ShouldBeGreaterThan, 1)
				So(uploads[0].method, ShouldEqual, http.MethodPost)
				So(strings.Contains(uploads[0].query, "uploads"), ShouldBeTrue)
			})
		})
	})
}
