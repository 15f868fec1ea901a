package aws_s3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"time"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/IliaW/content-overlay/config"
	"github.com/IliaW/content-overlay/internal"
)

// BucketClient archives export artifacts downloaded from the service.
type BucketClient interface {
	WriteExport(ctx context.Context, id string, body []byte, contentType string) (string, error)
}

type S3BucketClient struct {
	client *s3.Client
	cfg    *config.Config
}

func NewS3BucketClient(cfg *config.Config) *S3BucketClient {
	slog.Info("connecting to s3...")

	c, err := connect(cfg)
	if err != nil {
		slog.Error("failed to connect to s3.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &S3BucketClient{
		client: c,
		cfg:    cfg,
	}
}

func (bc *S3BucketClient) WriteExport(ctx context.Context, id string, body []byte, contentType string) (string, error) {
	s3Key := ExportKey(bc.cfg.S3Settings.KeyPrefix, id, contentType, time.Now().UTC())
	input := &s3.PutObjectInput{
		Bucket: &bc.cfg.S3Settings.BucketName,
		Key:    &s3Key,
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = &contentType
	}

	_, err := bc.client.PutObject(ctx, input)
	if err != nil {
		slog.Error("failed to save export to s3.", slog.String("id", id), slog.String("err", err.Error()))
		return "", err
	}
	slog.Debug("export saved to s3.", slog.String("key", s3Key))

	return s3Key, nil
}

// ExportKey is {prefix}/{hash of id}/{id}/{timestamp}{ext}. The extension is
// derived from the content type, with .bin when none is known.
func ExportKey(prefix, id, contentType string, at time.Time) string {
	ext := ".bin"
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "text/csv":
			ext = ".csv"
		case "application/json":
			ext = ".json"
		default:
			if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
				ext = exts[0]
			}
		}
	}
	return fmt.Sprintf("%s/%s/%s/%s%s", prefix, internal.HashURL(id)[:12], id, at.Format("20060102T150405Z"), ext)
}

func connect(cfg *config.Config) (*s3.Client, error) {
	s3Config, err := awsCfg.LoadDefaultConfig(context.Background(), awsCfg.WithRegion(cfg.S3Settings.Region))
	if err != nil {
		slog.Error("failed to load s3 config.", slog.String("err", err.Error()))
		return nil, err
	}

	if cfg.Env == "local" {
		s3Config.BaseEndpoint = &cfg.S3Settings.AwsBaseEndpoint // for LocalStack
		s3Config.Credentials = crd.NewStaticCredentialsProvider("test", "test", "")
		// LocalStack needs path-style addressing.
		slog.Warn("test configuration for S3")
		return s3.NewFromConfig(s3Config, func(o *s3.Options) {
			o.UsePathStyle = true
		}), nil
	}

	return s3.NewFromConfig(s3Config), nil
}
