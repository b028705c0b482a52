package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSweeper struct {
	res SweepResult
	err error
}

func (s stubSweeper) RunOnce(context.Context) (SweepResult, error) {
	return s.res, s.err
}

func TestCronService_RunJob(t *testing.T) {
	f := newFixture(t)
	svc := NewCronService(f.inventory, f.ledger, stubSweeper{res: SweepResult{Expired: 4}}, CronSchedule{MaterializeDaysAhead: 2}, f.logger)

	run, err := svc.RunJob(f.ctx, JobMaterialize)
	require.NoError(t, err)
	assert.Equal(t, int64(2), run.Affected)
	assert.Equal(t, "manual", run.Trigger)

	// Within retention nothing is archived
	f.clock.Advance(4 * time.Hour)
	run, err = svc.RunJob(f.ctx, JobArchive)
	require.NoError(t, err)
	assert.Zero(t, run.Affected)

	f.clock.Advance(32 * 24 * time.Hour)
	run, err = svc.RunJob(f.ctx, JobArchive)
	require.NoError(t, err)
	assert.Equal(t, int64(2), run.Affected)

	run, err = svc.RunJob(f.ctx, JobSweep)
	require.NoError(t, err)
	assert.Equal(t, int64(4), run.Affected)

	_, err = svc.RunJob(f.ctx, "reindex")
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestCronService_RecordsFailures(t *testing.T) {
	f := newFixture(t)
	svc := NewCronService(f.inventory, f.ledger, stubSweeper{err: errors.New("locked")}, CronSchedule{}, f.logger)

	run, err := svc.RunJob(f.ctx, JobSweep)
	assert.Error(t, err)
	assert.Equal(t, "locked", run.Error)

	status := svc.GetJobStatus()
	assert.Equal(t, false, status["running"])
	jobs := status["jobs"].([]map[string]interface{})
	require.Len(t, jobs, 3)
	var sweep map[string]interface{}
	for _, j := range jobs {
		if j["job"] == JobSweep {
			sweep = j
		}
	}
	require.NotNil(t, sweep)
	assert.Equal(t, "locked", sweep["last_run"].(JobRun).Error)
}

func TestCronService_StartSchedulesJobs(t *testing.T) {
	f := newFixture(t)
	svc := NewCronService(f.inventory, f.ledger, nil, CronSchedule{}, f.logger)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	status := svc.GetJobStatus()
	assert.Equal(t, true, status["running"])
	assert.Equal(t, 2, status["job_count"])

	_, err := svc.RunJob(f.ctx, JobSweep)
	assert.Error(t, err)
}
