package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/park285/chess-wager/internal/game"
)

// Archiver stores a finished game.
type Archiver interface {
	Archive(ctx context.Context, g *game.Game) error
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads PGN files to an S3-compatible bucket (AWS, R2, MinIO).
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

type S3Options struct {
	Bucket    string
	Endpoint  string // empty uses the AWS default resolver
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

func NewS3Archiver(ctx context.Context, o S3Options) (*S3Archiver, error) {
	if strings.TrimSpace(o.Bucket) == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(o.Region)}
	if o.AccessKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load archive config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	})
	return newS3Archiver(client, o.Bucket, o.Prefix), nil
}

func newS3Archiver(c objectPutter, bucket, prefix string) *S3Archiver {
	if prefix == "" {
		prefix = "games/"
	}
	return &S3Archiver{client: c, bucket: bucket, prefix: prefix}
}

// Key is the object key for g: <prefix>YYYY/MM/<id>.pgn, dated by the game end.
func (a *S3Archiver) Key(g *game.Game) string {
	at := g.CreatedAt
	if g.EndTime != nil {
		at = *g.EndTime
	}
	return fmt.Sprintf("%s%s/%s.pgn", a.prefix, at.UTC().Format("2006/01"), g.ID)
}

func (a *S3Archiver) Archive(ctx context.Context, g *game.Game) error {
	if g == nil || !g.Status.Terminal() {
		return fmt.Errorf("archive: game not finished")
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(g)),
		Body:        strings.NewReader(PGN(g)),
		ContentType: aws.String("application/x-chess-pgn"),
		Metadata: map[string]string{
			"outcome": g.Outcome.String(),
			"white":   g.WhiteID,
			"black":   g.BlackID,
		},
	})
	if err != nil {
		return fmt.Errorf("upload pgn %s: %w", g.ID, err)
	}
	return nil
}
