package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/studyforge/studyforge/internal/pipeline"
	"github.com/studyforge/studyforge/internal/server"
	"github.com/studyforge/studyforge/internal/store"
)

func startPostgres(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "studyforge",
			"POSTGRES_PASSWORD": "studyforge",
			"POSTGRES_DB":       "studyforge",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(1).WithStartupTimeout(60 * time.Second),
	}
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432")
	if err != nil {
		_ = pg.Terminate(ctx)
		t.Fatalf("failed to get mapped port: %v", err)
	}
	host, err := pg.Host(ctx)
	if err != nil {
		_ = pg.Terminate(ctx)
		t.Fatalf("failed to get host: %v", err)
	}
	dsn := fmt.Sprintf("postgres://studyforge:studyforge@%s:%s/studyforge?sslmode=disable", host, port.Port())
	return pg, dsn
}

func findMigrationsDir(t *testing.T) string {
	t.Helper()
	cwd, _ := os.Getwd()
	for i := 0; i < 6; i++ {
		candidate := filepath.Join(cwd, "migrations")
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return "file://" + candidate
		}
		cwd = filepath.Dir(cwd)
	}
	t.Fatalf("could not locate migrations directory from test cwd")
	return ""
}

func TestStoreRunLifecycle(t *testing.T) {
	if os.Getenv("STUDYFORGE_INTEGRATION") == "" {
		t.Skip("set STUDYFORGE_INTEGRATION=1 to run container-backed tests")
	}
	ctx := context.Background()
	pg, dsn := startPostgres(t, ctx)
	defer func() { _ = pg.Terminate(ctx) }()

	if err := server.Migrate(findMigrationsDir(t), dsn, "up", 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("NewWithDSN: %v", err)
	}
	defer st.Close()

	if err := st.CreateUser(ctx, "student@example.com", "hash"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	userID, hash, err := st.GetUserByEmail(ctx, "student@example.com")
	if err != nil || hash != "hash" {
		t.Fatalf("GetUserByEmail: %v (hash %q)", err, hash)
	}

	runID, err := st.CreateRun(ctx, userID, "bio.pdf")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	rec, err := st.GetRun(ctx, runID, userID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Status != store.RunStatusRunning || rec.Bundle != nil {
		t.Fatalf("fresh run in unexpected state %+v", rec)
	}

	bundle := &pipeline.StudyBundle{
		Summary: &pipeline.Summary{Sections: []pipeline.SummarySection{
			{Title: "Photosynthesis", Body: "Plants convert light into chemical energy."},
		}},
	}
	if err := st.FinishRun(ctx, runID, store.RunStatusSucceeded, "", "", bundle); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	rec, err = st.GetRun(ctx, runID, userID)
	if err != nil {
		t.Fatalf("GetRun after finish: %v", err)
	}
	if rec.Status != store.RunStatusSucceeded || rec.FinishedAt == nil {
		t.Fatalf("finished run in unexpected state %+v", rec)
	}
	if rec.Bundle == nil || len(rec.Bundle.Summary.Sections) != 1 {
		t.Fatalf("bundle did not round-trip: %+v", rec.Bundle)
	}

	// listing excludes bundles and other users' runs
	items, err := st.ListRuns(ctx, userID, 0)
	if err != nil || len(items) != 1 {
		t.Fatalf("ListRuns: %v (%d items)", err, len(items))
	}
	if items[0].Bundle != nil {
		t.Fatalf("list must not carry bundles")
	}
	if _, err := st.GetRun(ctx, runID, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign user must not see the run, got %v", err)
	}

	// failed run keeps its partial bundle and failure metadata
	failedID, err := st.CreateRun(ctx, userID, "broken.pdf")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	partial := &pipeline.StudyBundle{Summary: bundle.Summary, Incomplete: true}
	if err := st.FinishRun(ctx, failedID, store.RunStatusFailed, "quiz", "no valid questions", partial); err != nil {
		t.Fatalf("FinishRun failed run: %v", err)
	}
	rec, err = st.GetRun(ctx, failedID, userID)
	if err != nil {
		t.Fatalf("GetRun failed run: %v", err)
	}
	if rec.FailedStage != "quiz" || !rec.Incomplete || rec.Bundle == nil {
		t.Fatalf("failure metadata lost: %+v", rec)
	}

	// retention sweep
	if _, err := st.DB.ExecContext(ctx, `UPDATE runs SET created_at = now() - interval '40 days' WHERE id = $1`, failedID); err != nil {
		t.Fatalf("age run: %v", err)
	}
	deleted, err := st.DeleteRunsBefore(ctx, time.Now().Add(-30*24*time.Hour))
	if err != nil || deleted != 1 {
		t.Fatalf("DeleteRunsBefore: %v (deleted %d)", err, deleted)
	}

	if err := st.FinishRun(ctx, failedID, store.RunStatusFailed, "", "", nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("finishing a deleted run must report ErrNotFound, got %v", err)
	}
}

func TestStoreDuplicateEmail(t *testing.T) {
	if os.Getenv("STUDYFORGE_INTEGRATION") == "" {
		t.Skip("set STUDYFORGE_INTEGRATION=1 to run container-backed tests")
	}
	ctx := context.Background()
	pg, dsn := startPostgres(t, ctx)
	defer func() { _ = pg.Terminate(ctx) }()

	if err := server.Migrate(findMigrationsDir(t), dsn, "up", 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("NewWithDSN: %v", err)
	}
	defer st.Close()

	if err := st.CreateUser(ctx, "dup@example.com", "h1"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := st.CreateUser(ctx, "dup@example.com", "h2"); err == nil {
		t.Fatalf("duplicate email must be rejected")
	}
}
