package s3

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
)

// checksumKey is the object metadata entry holding the package SHA-256.
const checksumKey = "sha256"

type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Client struct {
	api      API
	recorder *plan.Recorder
	logger   logging.LogManager
}

// NewS3Client uses path style addressing when an endpoint override (LocalStack) is set.
func NewS3Client(cfg aws.Config, recorder *plan.Recorder, pathStyle bool) *S3Client {
	return NewS3ClientWithAPI(s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
	}), recorder)
}

func NewS3ClientWithAPI(api API, recorder *plan.Recorder) *S3Client {
	return &S3Client{api: api, recorder: recorder, logger: logging.GetLogManager()}
}

// UploadPackage puts the file at bucket/key unless the object already carries the
// same checksum. It reports whether an upload happened.
func (sc *S3Client) UploadPackage(ctx context.Context, bucket, key, path, checksum string) (bool, error) {
	head, err := sc.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	switch {
	case err == nil:
		if head.Metadata[checksumKey] == checksum {
			sc.logger.Info("Package already uploaded", "bucket", bucket, "key", key)
			return false, nil
		}
	case sc.recorder.Absent(err):
	default:
		return false, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}

	params := map[string]string{"Bucket": bucket, "Key": key, "Checksum": checksum}
	err = sc.recorder.Do("s3", "PutObject", "s3://"+bucket+"/"+key, params, func() error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = sc.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String("application/zip"),
			Metadata:    map[string]string{checksumKey: checksum},
		})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}
	sc.logger.Info("Uploaded package", "bucket", bucket, "key", key)
	return true, nil
}
