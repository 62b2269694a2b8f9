package s3

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/primait/lambda-deploy/pkg/connector/fakeaws"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadPackage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lambda-package.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK-archive"), 0o644))

	cloud := fakeaws.New("123456789012", "eu-west-1")
	client := NewS3ClientWithAPI(cloud.S3, plan.NewRecorder(false, logging.New(io.Discard)))
	ctx := context.Background()

	uploaded, err := client.UploadPackage(ctx, "code-bucket", "fn/lambda-package.zip", path, "sum-1")
	require.NoError(t, err)
	assert.True(t, uploaded)
	data, ok := cloud.S3.Object("code-bucket", "fn/lambda-package.zip")
	require.True(t, ok)
	assert.Equal(t, "PK-archive", string(data))

	uploaded, err = client.UploadPackage(ctx, "code-bucket", "fn/lambda-package.zip", path, "sum-1")
	require.NoError(t, err)
	assert.False(t, uploaded)

	uploaded, err = client.UploadPackage(ctx, "code-bucket", "fn/lambda-package.zip", path, "sum-2")
	require.NoError(t, err)
	assert.True(t, uploaded)
	assert.Equal(t, 2, cloud.Count("PutObject"))
}

func TestUploadPackageDryRun(t *testing.T) {
	cloud := fakeaws.New("123456789012", "eu-west-1")
	rec := plan.NewRecorder(true, logging.New(io.Discard))
	client := NewS3ClientWithAPI(cloud.S3, rec)

	uploaded, err := client.UploadPackage(context.Background(), "code-bucket", "fn.zip", "/does/not/exist.zip", "sum")
	require.NoError(t, err)
	assert.True(t, uploaded)
	assert.Empty(t, cloud.Mutations())
	require.Len(t, rec.Calls(), 1)
	assert.Equal(t, "s3://code-bucket/fn.zip", rec.Calls()[0].Target)
}

func TestUploadPackageHeadError(t *testing.T) {
	cloud := fakeaws.New("123456789012", "eu-west-1")
	cloud.Fail["HeadObject"] = fakeaws.APIError("AccessDenied", "Access Denied")
	client := NewS3ClientWithAPI(cloud.S3, plan.NewRecorder(false, logging.New(io.Discard)))

	_, err := client.UploadPackage(context.Background(), "code-bucket", "fn.zip", "x.zip", "sum")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://code-bucket/fn.zip")
}
