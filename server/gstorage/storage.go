package gstorage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Daskott/safeline/colors"
	"github.com/Daskott/safeline/server/logger"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

const transferTimeout = 50 * time.Second

var (
	ErrObjectNotExist = storage.ErrObjectNotExist

	logg = logger.NewLogger()
)

type GStorage struct {
	storageClient *storage.Client
}

func NewGStorage(credentialsFilePath string) (*GStorage, error) {
	var client *storage.Client
	var err error

	if credentialsFilePath != "" {
		client, err = storage.NewClient(context.Background(), option.WithCredentialsFile(credentialsFilePath))
	} else {
		client, err = storage.NewClient(context.Background())
	}

	if err != nil {
		return nil, errors.Wrap(err, "NewGStorage")
	}

	return &GStorage{storageClient: client}, nil
}

// ObjectName is the name backups of filePath are stored under, e.g
// "prod-safeline.db"
func ObjectName(prefix, filePath string) string {
	name := filepath.Base(filePath)

	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return name
	}
	return fmt.Sprintf("%v-%v", prefix, name)
}

// UploadFile uploads filePath to bucket as 'object'
func (gs *GStorage) UploadFile(ctx context.Context, bucket, object, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrap(err, "os.Open")
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	wc := gs.storageClient.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err = io.Copy(wc, f); err != nil {
		wc.Close()
		return errors.Wrap(err, "io.Copy")
	}
	if err := wc.Close(); err != nil {
		return errors.Wrap(err, "Writer.Close")
	}

	logg.Infof(colors.Prefix("gstorage", colors.Blue)+"blob %v uploaded to %v", object, bucket)
	return nil
}

// DownloadFile downloads 'object' to destFileName. The file is written next to
// the destination first so a failed download never leaves a partial file behind.
func (gs *GStorage) DownloadFile(ctx context.Context, bucket, object, destFileName string) error {
	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	rc, err := gs.storageClient.Bucket(bucket).Object(object).NewReader(ctx)
	if err == storage.ErrObjectNotExist {
		return err
	}
	if err != nil {
		return errors.Wrapf(err, "Object(%q).NewReader", object)
	}
	defer rc.Close()

	tmpFileName := destFileName + ".download"
	f, err := os.OpenFile(tmpFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "os.OpenFile")
	}

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(tmpFileName)
		return errors.Wrap(err, "io.Copy")
	}

	if err = f.Close(); err != nil {
		os.Remove(tmpFileName)
		return errors.Wrap(err, "f.Close")
	}

	if err = os.Rename(tmpFileName, destFileName); err != nil {
		return errors.Wrap(err, "os.Rename")
	}

	logg.Infof(colors.Prefix("gstorage", colors.Blue)+"blob %v downloaded to local file %v", object, destFileName)
	return nil
}

func (gs *GStorage) Close() error {
	return gs.storageClient.Close()
}
