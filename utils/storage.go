package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client.
// Prefers ADC (service account / GOOGLE_APPLICATION_CREDENTIALS);
// set GCS_CREDENTIALS_JSON to provide explicit JSON locally.
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// UploadFileToGCS streams the given reader into GCS_BUCKET under objectName.
func UploadFileToGCS(ctx context.Context, objectName string, file io.Reader) error {
	bucketName := os.Getenv("GCS_BUCKET")
	if bucketName == "" {
		return errors.New("GCS_BUCKET is required")
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(wc, file); err != nil {
		wc.Close()
		return fmt.Errorf("failed to write object %q: %v", objectName, err)
	}
	return wc.Close()
}

// GenerateUniqueFilename returns a timestamped unique name fragment for
// archived import files.
func GenerateUniqueFilename() string {
	return fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102T150405"), uuid.NewString())
}
