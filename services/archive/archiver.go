// Package archive persists completed-scrape screenshots and page content to
// S3 so SPEC_FULL.md's optional persistence surface has somewhere to land;
// the pool itself never blocks on it.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/apxor/browserpool/logger"
	"github.com/apxor/browserpool/models/scraperesult"
	"go.uber.org/zap"
)

// Archiver streams scrape artifacts (content, screenshot) to S3, gzip
// compressed, keyed by context id and timestamp.
type Archiver struct {
	uploader *s3manager.Uploader
	bucket   string
}

// New builds an Archiver bound to bucket in the given AWS region.
func New(bucket, region string) (*Archiver, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("archive: creating aws session: %w", err)
	}
	return &Archiver{
		uploader: s3manager.NewUploader(sess),
		bucket:   bucket,
	}, nil
}

// Store uploads the content and screenshot payloads of result, if present.
// Errors are logged, not returned, so a flaky archive backend never fails a
// scrape that otherwise succeeded.
func (a *Archiver) Store(ctx context.Context, result *scraperesult.Result) {
	if a == nil || result == nil || result.ContextID == "" {
		return
	}
	if result.Content != nil {
		a.upload(ctx, result.ContextID, "content.html.gz", []byte(*result.Content))
	}
	if result.Screenshot != nil {
		a.upload(ctx, result.ContextID, "screenshot.png.gz", []byte(*result.Screenshot))
	}
}

func (a *Archiver) upload(ctx context.Context, contextID, name string, payload []byte) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		logger.Error("archive: gzip failed", zap.Error(err))
		return
	}
	if err := gz.Close(); err != nil {
		logger.Error("archive: gzip close failed", zap.Error(err))
		return
	}

	key := fmt.Sprintf("contexts/%s/%s/%s", contextID, time.Now().UTC().Format("2006-01-02T15-04-05"), name)
	_, err := a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		logger.Error("archive: s3 upload failed", zap.String("key", key), zap.Error(err))
		return
	}
	logger.Debug("archive: uploaded", zap.String("key", key))
}

// Close satisfies the shutdown coordinator's archiveCloser interface; S3
// uploads have no persistent connection to drain.
func (a *Archiver) Close(ctx context.Context) error {
	return nil
}
