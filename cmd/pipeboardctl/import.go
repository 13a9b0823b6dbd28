package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/service/lifecycle"
)

// exportedJob is one entry of a board export. JSON exports parse as YAML.
type exportedJob struct {
	Type         string `yaml:"type"`
	Status       string `yaml:"status"`
	Stage        string `yaml:"stage"`
	Rating       int    `yaml:"rating"`
	Company      string `yaml:"company"`
	Position     string `yaml:"position"`
	Location     string `yaml:"location"`
	Salary       string `yaml:"salary"`
	ContactName  string `yaml:"contactName"`
	ContactSnake string `yaml:"contact_name"`
	Organization string `yaml:"organization"`
	Comments     string `yaml:"comments"`
	Notes        string `yaml:"notes"`
	CreatedAt    string `yaml:"created_at"`
	DateAdded    string `yaml:"dateAdded"`
}

type importResult struct {
	Imported int
	Skipped  int
	Failed   []string
}

func (c *cli) newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import jobs from a JSON or YAML export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := c.owner()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			store, closeStore, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			svc := lifecycle.New(store, lifecycle.Options{})
			res, err := runImport(cmd.Context(), svc, owner, data, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d job(s) failed to import", len(res.Failed))
			}
			return nil
		},
	}
}

func parseExport(data []byte) ([]exportedJob, error) {
	var jobs []exportedJob
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}
	return jobs, nil
}

func runImport(ctx context.Context, svc *lifecycle.Service, owner string, data []byte, out io.Writer) (importResult, error) {
	jobs, err := parseExport(data)
	if err != nil {
		return importResult{}, err
	}
	info := domain.AuditInfo{Actor: owner, UserAgent: "pipeboardctl"}

	var res importResult
	for i, ej := range jobs {
		label := firstNonEmpty(ej.Position, ej.ContactName, ej.ContactSnake, "Untitled")
		if t := strings.ToLower(strings.TrimSpace(ej.Type)); t != "" && t != "job" {
			res.Skipped++
			fmt.Fprintf(out, "[%d/%d] %s: skipped type %q\n", i+1, len(jobs), label, ej.Type)
			continue
		}
		_, err := svc.CreateJob(ctx, info, lifecycle.JobInput{
			Stage:        firstNonEmpty(ej.Stage, ej.Status),
			Origin:       domain.OriginImport,
			Rating:       ej.Rating,
			Company:      ej.Company,
			Position:     ej.Position,
			Location:     ej.Location,
			Salary:       ej.Salary,
			ContactName:  firstNonEmpty(ej.ContactName, ej.ContactSnake),
			Organization: ej.Organization,
			Notes:        firstNonEmpty(ej.Notes, ej.Comments),
			CreatedAt:    parseExportTime(firstNonEmpty(ej.CreatedAt, ej.DateAdded)),
		})
		if err != nil {
			res.Failed = append(res.Failed, label)
			fmt.Fprintf(out, "[%d/%d] %s: %v\n", i+1, len(jobs), label, err)
			continue
		}
		res.Imported++
		fmt.Fprintf(out, "[%d/%d] %s: ok\n", i+1, len(jobs), label)
	}
	fmt.Fprintf(out, "imported=%d skipped=%d failed=%d\n", res.Imported, res.Skipped, len(res.Failed))
	return res, nil
}

func parseExportTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
