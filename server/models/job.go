package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const jobStatusJoin = "INNER JOIN job_statuses ON job_statuses.id = jobs.job_status_id AND job_statuses.name = ?"

type Job struct {
	BaseModel
	Fails       int        `json:"fails"`
	Name        string     `json:"name" gorm:"index"`
	Handler     string     `json:"handler"`
	Args        string     `json:"args"`
	LastError   string     `json:"last_error"`
	Claimed     bool       `json:"claimed" gorm:"default:false"`
	RunAt       *time.Time `json:"run_at,omitempty" gorm:"index"`
	EnqueuedAt  *time.Time `json:"enqueued_at,omitempty"`
	JobStatusID uint       `json:"job_status_id"`
	JobStatus   *JobStatus `json:"status,omitempty"`
}

func (job *Job) Update(data map[string]interface{}) error {
	return db.Model(job).Updates(data).Error
}

func UpdateJob(id uint, data map[string]interface{}) error {
	return db.Model(&Job{}).Where("id = ?", id).Updates(data).Error
}

// CreateJob adds an enqueued job. When unique is set and a job with the same name
// is already enqueued, in-progress or scheduled, ErrDuplicateJob is returned.
func CreateJob(name, handler, args string, unique bool) (*Job, error) {
	return createJob(name, handler, args, nil, unique)
}

// CreateScheduledJob adds a job which the scheduled requeuer moves to the queue
// once runAt is reached
func CreateScheduledJob(name, handler, args string, runAt time.Time, unique bool) (*Job, error) {
	runAt = runAt.UTC()
	return createJob(name, handler, args, &runAt, unique)
}

// ClaimJob marks the job as claimed & in-progress. It returns false if another
// worker got to it first.
func ClaimJob(id uint) (bool, error) {
	inProgressStatus, err := FindJobStatus(IN_PROGRESS_JOB)
	if err != nil {
		return false, err
	}

	res := db.Model(&Job{}).Where("id = ? AND claimed = ?", id, false).Updates(map[string]interface{}{
		"claimed":       true,
		"job_status_id": inProgressStatus.ID,
	})

	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

// FirstJob returns the oldest job with the given status & claimed flag
func FirstJob(status string, claimed bool) (*Job, error) {
	job := Job{}
	err := db.Joins(jobStatusJoin, status).Where("claimed = ?", claimed).
		Order("jobs.id asc").First(&job).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func FindJob(id interface{}) (*Job, error) {
	job := Job{}
	err := db.Preload("JobStatus").First(&job, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func FetchJobsByStatus(status string, page int) ([]Job, *Paging, error) {
	var total int64
	jobs := []Job{}

	err := db.Joins(jobStatusJoin, status).Model(&Job{}).Count(&total).Error
	if err != nil {
		return nil, nil, err
	}

	err = db.Scopes(paginate(page, MAX_PAGE_SIZE)).
		Preload("JobStatus").Order("jobs.id desc").
		Joins(jobStatusJoin, status).Find(&jobs).Error
	if err != nil {
		return nil, nil, err
	}

	return jobs, newPaging(page, MAX_PAGE_SIZE, total), nil
}

func FetchJobs(page int) ([]Job, *Paging, error) {
	var total int64
	jobs := []Job{}

	err := db.Model(&Job{}).Count(&total).Error
	if err != nil {
		return nil, nil, err
	}

	err = db.Scopes(paginate(page, MAX_PAGE_SIZE)).
		Preload("JobStatus").Order("jobs.id desc").Find(&jobs).Error
	if err != nil {
		return nil, nil, err
	}

	return jobs, newPaging(page, MAX_PAGE_SIZE, total), nil
}

func CurrentJobsStats() (*JobsStats, error) {
	stats := JobsStats{}

	counts := map[string]*int64{
		ENQUEUED_JOB:    &stats.EnqueuedJobCount,
		IN_PROGRESS_JOB: &stats.InProgressJobCount,
		SUCCESSFUL_JOB:  &stats.SuccessfulJobCount,
		DEAD_JOB:        &stats.DeadJobCount,
		SCHEDULED_JOB:   &stats.ScheduledJobCount,
	}

	for status, count := range counts {
		err := db.Joins(jobStatusJoin, status).Model(&Job{}).Count(count).Error
		if err != nil {
			return nil, err
		}
	}

	return &stats, nil
}

// LastJobLastUpdated returns the most recent job with the given status which
// hasn't been updated for at least 'olderThan'
func LastJobLastUpdated(olderThan time.Duration, status string) (*Job, error) {
	jobStatus, err := FindJobStatus(status)
	if err != nil {
		return nil, err
	}

	job := Job{}
	err = db.Where("job_status_id = ? AND updated_at <= ?", jobStatus.ID, now().Add(-olderThan)).
		Last(&job).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// FirstScheduledJobToBeQueued returns the scheduled job with the earliest run_at
// that is due
func FirstScheduledJobToBeQueued() (*Job, error) {
	job := Job{}
	err := db.Preload("JobStatus").Joins(jobStatusJoin, SCHEDULED_JOB).Where("jobs.run_at <= ?", now()).
		Order("jobs.run_at asc").First(&job).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func createJob(name, handler, args string, runAt *time.Time, unique bool) (*Job, error) {
	statusName := ENQUEUED_JOB
	if runAt != nil {
		statusName = SCHEDULED_JOB
	}

	job := &Job{Name: name, Handler: handler, Args: args, RunAt: runAt}

	err := db.Transaction(func(tx *gorm.DB) error {
		statuses := []JobStatus{}
		err := tx.Where("name IN ?", []string{ENQUEUED_JOB, IN_PROGRESS_JOB, SCHEDULED_JOB}).Find(&statuses).Error
		if err != nil {
			return err
		}

		statusIDs := []uint{}
		for _, status := range statuses {
			statusIDs = append(statusIDs, status.ID)
			if status.Name == statusName {
				job.JobStatusID = status.ID
			}
		}

		if job.JobStatusID == 0 {
			return gorm.ErrRecordNotFound
		}

		if unique {
			// A job with the same name which is waiting or running is a duplicate
			err = tx.Select("id").Where("name = ? AND job_status_id IN ?", name, statusIDs).First(&Job{}).Error
			if err == nil {
				return ErrDuplicateJob
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		if runAt == nil {
			enqueuedAt := now()
			job.EnqueuedAt = &enqueuedAt
		}

		return tx.Create(job).Error
	})
	if err != nil {
		return nil, err
	}

	return job, nil
}
