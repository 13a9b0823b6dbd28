//go:build e2e

package e2e

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeboard/pipeboard/client"
	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/platform/postgres"
	"github.com/pipeboard/pipeboard/internal/repo"
	repopg "github.com/pipeboard/pipeboard/internal/repo/postgres"
	"github.com/pipeboard/pipeboard/internal/service/lifecycle"
)

const racers = 8

var racingStages = []string{"applied", "interview", "pending", "offer", "rejected", "forgotten", "archived", "interested"}

func openMigratedDB(t *testing.T, infra infraConfig) *sql.DB {
	t.Helper()

	cfg, err := postgres.ConfigFromEnv()
	require.NoError(t, err)
	cfg.URL = infra.databaseURL
	cfg.MaxOpenConns = racers * 2
	db, err := postgres.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repopg.MigrateUp(db))
	return db
}

// newPostgresService runs without an in-process locker, so only the row
// lock and the locked compare-and-set keep concurrent calls apart.
func newPostgresService(db *sql.DB, lockTimeout time.Duration) *lifecycle.Service {
	store := repopg.NewStore(db,
		repopg.WithLockTimeout(lockTimeout),
		repopg.WithRetryWindow(2*time.Second),
	)
	return lifecycle.New(store, lifecycle.Options{})
}

func TestPostgres_ConcurrentTransformCreatesOneRelationship(t *testing.T) {
	db := openMigratedDB(t, ensureInfra(t))
	svc := newPostgresService(db, 5*time.Second)
	ctx := context.Background()
	info := domain.AuditInfo{Actor: uniqueOwner("race-transform")}

	job, err := svc.CreateJob(ctx, info, lifecycle.JobInput{Company: "Acme", ContactName: "Dana"})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		targets   []string
		rejected  int
		unexpects []error
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := svc.Transform(ctx, info, job.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				targets = append(targets, res.RelationshipID)
			case errors.Is(err, domain.ErrAlreadyTransformed):
				rejected++
			default:
				unexpects = append(unexpects, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, unexpects)
	require.Len(t, targets, 1)
	assert.Equal(t, racers-1, rejected)

	rels, err := svc.ListRelationships(ctx, repo.RelationshipFilter{OwnerID: info.Actor})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, job.ID, rels[0].SourceJobID)

	locked, err := svc.GetJob(ctx, info.Actor, job.ID)
	require.NoError(t, err)
	assert.True(t, locked.Locked)
}

func TestPostgres_ConcurrentTransitionsKeepChain(t *testing.T) {
	db := openMigratedDB(t, ensureInfra(t))
	svc := newPostgresService(db, 5*time.Second)
	ctx := context.Background()
	info := domain.AuditInfo{Actor: uniqueOwner("race-stage")}

	job, err := svc.CreateJob(ctx, info, lifecycle.JobInput{Company: "Acme"})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		recorded  int
		unexpects []error
	)
	for i := 0; i < racers; i++ {
		stage := racingStages[i%len(racingStages)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.RecordTransition(ctx, info, domain.KindJob, job.ID, stage)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				recorded++
			case errors.Is(err, domain.ErrNoOpTransition):
			default:
				unexpects = append(unexpects, err)
			}
		}()
	}
	close(start)
	wg.Wait()
	require.Empty(t, unexpects)

	events, err := svc.History(ctx, info.Actor, domain.KindJob, job.ID)
	require.NoError(t, err)
	require.Len(t, events, recorded)

	current, err := svc.GetJob(ctx, info.Actor, job.ID)
	require.NoError(t, err)
	require.NoError(t, domain.CheckHistory(events, current.Stage))
	for i := 1; i < len(events); i++ {
		require.NotNil(t, events[i].PreviousStage)
		assert.Equal(t, events[i-1].NewStage, *events[i].PreviousStage)
		assert.True(t, events[i].ChangedAt.After(events[i-1].ChangedAt))
		assert.Equal(t, events[i-1].Seq+1, events[i].Seq)
	}
}

func TestPostgres_RowLockTimeoutIsBusy(t *testing.T) {
	db := openMigratedDB(t, ensureInfra(t))
	svc := newPostgresService(db, 100*time.Millisecond)
	ctx := context.Background()
	info := domain.AuditInfo{Actor: uniqueOwner("race-busy")}

	job, err := svc.CreateJob(ctx, info, lifecycle.JobInput{Company: "Acme"})
	require.NoError(t, err)

	holder, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = holder.ExecContext(ctx, `SELECT job_id FROM job_records WHERE job_id = $1 FOR UPDATE`, job.ID)
	require.NoError(t, err)

	_, err = svc.RecordTransition(ctx, info, domain.KindJob, job.ID, "applied")
	assert.ErrorIs(t, err, domain.ErrBusy)
	_, err = svc.Transform(ctx, info, job.ID)
	assert.ErrorIs(t, err, domain.ErrBusy)

	require.NoError(t, holder.Rollback())

	_, err = svc.RecordTransition(ctx, info, domain.KindJob, job.ID, "applied")
	require.NoError(t, err)
	events, err := svc.History(ctx, info.Actor, domain.KindJob, job.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPipelineAPI_ConcurrentTransform(t *testing.T) {
	baseURL := startPipelineAPI(t, ensureInfra(t))
	ctx := context.Background()
	c := client.New(baseURL)

	jobID := createJob(t, baseURL, map[string]any{"company": "Acme", "position": "Engineer"})

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		targets   []string
		rejected  int
		unexpects []error
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := c.Transform(ctx, jobID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				targets = append(targets, res.TargetID)
			case errors.Is(err, client.ErrAlreadyTransformed):
				rejected++
			default:
				unexpects = append(unexpects, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, unexpects)
	require.Len(t, targets, 1)
	assert.Equal(t, racers-1, rejected)

	var list struct {
		Relationships []struct {
			ID          string `json:"id"`
			SourceJobID string `json:"source_job_id"`
		} `json:"relationships"`
	}
	getJSON(t, baseURL+"/relationships", &list)
	fromJob := 0
	for _, rel := range list.Relationships {
		if rel.SourceJobID == jobID {
			fromJob++
			assert.Equal(t, targets[0], rel.ID)
		}
	}
	assert.Equal(t, 1, fromJob)
}

func TestPipelineAPI_ConcurrentTransitionsKeepChain(t *testing.T) {
	baseURL := startPipelineAPI(t, ensureInfra(t))
	ctx := context.Background()
	c := client.New(baseURL)

	jobID := createJob(t, baseURL, map[string]any{"company": "Acme"})

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		unexpects []error
	)
	for i := 0; i < racers; i++ {
		stage := racingStages[i%len(racingStages)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := c.RecordTransition(ctx, client.KindJob, jobID, stage)
			if err == nil || errors.Is(err, client.ErrNoOpTransition) || errors.Is(err, client.ErrBusy) {
				return
			}
			mu.Lock()
			unexpects = append(unexpects, err)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()
	require.Empty(t, unexpects)

	events, err := c.History(ctx, client.KindJob, jobID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	require.NotNil(t, events[0].PreviousStage)
	assert.Equal(t, "interested", *events[0].PreviousStage)
	for i := 1; i < len(events); i++ {
		require.NotNil(t, events[i].PreviousStage)
		assert.Equal(t, events[i-1].NewStage, *events[i].PreviousStage)
	}

	var job struct {
		Stage string `json:"stage"`
	}
	getJSON(t, baseURL+"/jobs/"+jobID, &job)
	assert.Equal(t, events[len(events)-1].NewStage, job.Stage)
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// uniqueOwner keeps reruns against a shared database apart.
func uniqueOwner(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
