package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/repo"
	"github.com/pipeboard/pipeboard/internal/repo/memstore"
	"github.com/pipeboard/pipeboard/internal/service/lifecycle"
)

const exportJSON = `[
  {"status": "applied", "rating": 4, "company": "Acme", "position": "Engineer", "contactName": "Dana", "comments": "referral", "dateAdded": "2025-11-02"},
  {"status": "hired", "company": "Nope", "position": "Bad stage"},
  {"type": "investor", "company": "Fund"},
  {"company": "Blank", "created_at": "2025-12-01T10:00:00Z"}
]`

func commandWithStore(store repo.Store) *cobra.Command {
	c := newCLI()
	c.openStore = func(context.Context) (repo.Store, func() error, error) {
		return store, func() error { return nil }, nil
	}
	return c.command()
}

func TestRunImport(t *testing.T) {
	store := memstore.New()
	svc := lifecycle.New(store, lifecycle.Options{})
	var out bytes.Buffer

	res, err := runImport(context.Background(), svc, "user-1", []byte(exportJSON), &out)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"Bad stage"}, res.Failed)
	assert.Contains(t, out.String(), "imported=2 skipped=1 failed=1")

	jobs, err := svc.ListJobs(context.Background(), repo.JobFilter{OwnerID: "user-1"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	byCompany := map[string]domain.JobRecord{}
	for _, j := range jobs {
		byCompany[j.Company] = j
	}
	acme := byCompany["Acme"]
	assert.Equal(t, domain.StageApplied, acme.Stage)
	assert.Equal(t, domain.OriginImport, acme.Origin)
	assert.Equal(t, "Dana", acme.ContactName)
	assert.Equal(t, "referral", acme.Notes)
	assert.Equal(t, time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC), acme.CreatedAt)
	assert.False(t, acme.Unseen)

	assert.Equal(t, domain.StageInterested, byCompany["Blank"].Stage)
}

func TestParseExportAcceptsYAML(t *testing.T) {
	jobs, err := parseExport([]byte("- company: Acme\n  status: offer\n  contact_name: Lee\n"))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "offer", jobs[0].Status)
	assert.Equal(t, "Lee", jobs[0].ContactSnake)

	_, err = parseExport([]byte("company: [unterminated"))
	assert.Error(t, err)
}

func TestImportCommandRequiresOwner(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"import", "missing.json", "--store", "memory"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--owner")
}

func TestImportAndJourneyCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"status":"offer","company":"Acme"}]`), 0o600))

	store := memstore.New()
	run := func(args ...string) string {
		cmd := commandWithStore(store)
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(args)
		require.NoError(t, cmd.Execute())
		return out.String()
	}

	out := run("import", path, "--owner", "user-1")
	assert.Contains(t, out, "imported=1")

	svc := lifecycle.New(store, lifecycle.Options{})
	jobs, err := svc.ListJobs(context.Background(), repo.JobFilter{OwnerID: "user-1"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	out = run("journey", jobs[0].ID, "--owner", "user-1")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "offer")
	assert.Contains(t, lines[1], "current")
}

func TestConfigFileSetsOwner(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pipeboard.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("owner: from-file\nstore: memory\n"), 0o600))
	exportPath := filepath.Join(dir, "export.yaml")
	require.NoError(t, os.WriteFile(exportPath, []byte("- company: Acme\n"), 0o600))

	store := memstore.New()
	cmd := commandWithStore(store)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfgPath, "import", exportPath})
	require.NoError(t, cmd.Execute())

	jobs, err := lifecycle.New(store, lifecycle.Options{}).ListJobs(context.Background(), repo.JobFilter{OwnerID: "from-file"})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestStagesCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"stages"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "job (default interested): interested applied")
	assert.Contains(t, out.String(), "relationship (default researching): researching")
}
