package server

import (
	"context"
	"errors"

	"github.com/Daskott/safeline/colors"
	"github.com/Daskott/safeline/server/gstorage"
	"github.com/Daskott/safeline/server/models"
	"github.com/Daskott/safeline/server/work"
	"github.com/Daskott/safeline/shared"
	"github.com/Daskott/safeline/utils"
)

const (
	BACKUP_SQLITE_DB_JOB      = "backupSqliteDb"
	EXPIRE_INVITATIONS_JOB    = "expireInvitations"
	SWEEP_STALE_LOCATIONS_JOB = "sweepStaleLocations"
)

type backupStorage interface {
	UploadFile(ctx context.Context, bucket, object, filePath string) error
	DownloadFile(ctx context.Context, bucket, object, destFileName string) error
}

// sqliteBackup copies the db file to & from google storage
type sqliteBackup struct {
	storage    backupStorage
	config     shared.StorageConfig
	dbFilePath string
}

func (backup *sqliteBackup) objectName() string {
	return gstorage.ObjectName(backup.config.Prefix, backup.dbFilePath)
}

// backupSqliteDb is the job handler uploading the db file
func (backup *sqliteBackup) backupSqliteDb(map[string]interface{}) error {
	err := models.CheckpointDB()
	if err != nil {
		return err
	}

	return backup.storage.UploadFile(context.Background(), backup.config.Bucket, backup.objectName(), backup.dbFilePath)
}

// restoreSqliteDb pulls the last backup when there's no local db yet, so a new
// host starts from the latest data
func (backup *sqliteBackup) restoreSqliteDb() error {
	if utils.FileExist(backup.dbFilePath) {
		return nil
	}

	err := backup.storage.DownloadFile(context.Background(), backup.config.Bucket, backup.objectName(), backup.dbFilePath)
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		logg.Infof(colors.Prefix("jobs", colors.Blue)+"no backup named %v yet, starting with an empty db", backup.objectName())
		return nil
	}
	return err
}

func expireInvitations(map[string]interface{}) error {
	count, err := models.ExpireInvitations()
	if err != nil {
		return err
	}

	if count > 0 {
		logg.Infof(colors.Prefix("jobs", colors.Blue)+"%v invitation(s) expired", count)
	}
	return nil
}

func registerJobHandlers(wpa *work.WorkerPoolAdapter, backup *sqliteBackup) error {
	handlers := map[string]work.Handler{
		EXPIRE_INVITATIONS_JOB:    expireInvitations,
		SWEEP_STALE_LOCATIONS_JOB: tracker.SweepStale,
	}

	if backup != nil {
		handlers[BACKUP_SQLITE_DB_JOB] = backup.backupSqliteDb
	}

	for name, handler := range handlers {
		if err := wpa.Register(name, handler); err != nil {
			return err
		}
	}

	if err := sosDispatcher.RegisterJobs(wpa); err != nil {
		return err
	}

	return fakeCallScheduler.RegisterJobs(wpa)
}

func enqueueJobs(wpa *work.WorkerPoolAdapter, backup *sqliteBackup) error {
	err := wpa.PeriodicallyPerformEvery("5m", work.JobParams{
		Name:    EXPIRE_INVITATIONS_JOB,
		Handler: EXPIRE_INVITATIONS_JOB,
		Args:    map[string]interface{}{},
	})
	if err != nil {
		return err
	}

	err = wpa.PeriodicallyPerformEvery("1m", work.JobParams{
		Name:    SWEEP_STALE_LOCATIONS_JOB,
		Handler: SWEEP_STALE_LOCATIONS_JOB,
		Args:    map[string]interface{}{},
	})
	if err != nil {
		return err
	}

	if backup == nil {
		return nil
	}

	return wpa.PeriodicallyPerform(backup.config.SqliteBackupSchedule, work.JobParams{
		Name:    BACKUP_SQLITE_DB_JOB,
		Handler: BACKUP_SQLITE_DB_JOB,
		Args:    map[string]interface{}{},
	})
}
