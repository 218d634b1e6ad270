// utils/archive.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var archiveClient *s3.Client
var archiveBucket string

// InitArchive wires the R2 bucket that receives settlement audit records.
// The archive is optional: with no R2 env configured the service runs with
// archival disabled.
func InitArchive() error {
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("R2_ACCESS_KEY_SECRET")
	archiveBucket = os.Getenv("R2_ARCHIVE_BUCKET")

	if accountID == "" || accessKeyID == "" || archiveBucket == "" {
		log.Println("⚠️  R2 archive not configured — settlement archival disabled")
		return nil
	}

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
		config.WithEndpointResolver(aws.EndpointResolverFunc(
			func(service, region string) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
				}, nil
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to load R2 config: %w", err)
	}

	archiveClient = s3.NewFromConfig(cfg)
	return nil
}

// ArchiveSettlementRecord stores a concluded match's audit record under
// settlements/<matchID>.json. No-op when the archive is disabled.
func ArchiveSettlementRecord(matchID string, record []byte) error {
	if archiveClient == nil {
		return nil
	}

	key := fmt.Sprintf("settlements/%s.json", matchID)
	_, err := archiveClient.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket:      aws.String(archiveBucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(record),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive record: %w", err)
	}
	return nil
}
