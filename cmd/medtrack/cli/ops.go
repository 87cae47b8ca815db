// Package cli implements the operator commands behind the medtrack binary.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/medtrack/medtrack-analytics/internal/ingest"
	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/pipeline"
)

// Exit codes returned by the operator commands.
const (
	ExitOK        = 0
	ExitError     = 1
	ExitRunFailed = 2
	ExitConflict  = 3
)

// Service is the part of the reporting boundary the commands drive.
type Service interface {
	Ingest(ctx context.Context, kind ingest.EntityKind, rows []ingest.Row) (ingest.BatchResult, error)
	RunPipeline(ctx context.Context) (pipeline.RunResult, error)
	GetPipelineStatus(ctx context.Context) (pipeline.Status, error)
	RunQualityChecks(ctx context.Context, table string) ([]pharmacy.QualityLogEntry, error)
	AcknowledgeQuality(ctx context.Context, id int64, actor string) (pharmacy.QualityLogEntry, error)
}

// Recoverer closes runs abandoned by a crashed process.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// OpsCLI renders pipeline operations for a terminal or as JSON.
type OpsCLI struct {
	Service    Service
	Recoverer  Recoverer
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// NewOpsCLI constructs the helper writing to the process streams.
func NewOpsCLI(service Service, recoverer Recoverer, jsonOutput bool) *OpsCLI {
	return &OpsCLI{Service: service, Recoverer: recoverer, JSONOutput: jsonOutput, Stdout: os.Stdout, Stderr: os.Stderr}
}

// IngestFile loads one CSV file as a batch of kind.
func (c *OpsCLI) IngestFile(ctx context.Context, kindName, path string) int {
	kind, err := ingest.ParseKind(kindName)
	if err != nil {
		return c.fail(err)
	}
	f, err := os.Open(path)
	if err != nil {
		return c.fail(err)
	}
	defer f.Close()
	rows, err := ingest.ReadCSV(f)
	if err != nil {
		return c.fail(fmt.Errorf("%w: %v", pharmacy.ErrInvalidArgument, err))
	}
	batch, err := c.Service.Ingest(ctx, kind, rows)
	if err != nil {
		return c.fail(err)
	}
	if c.JSONOutput {
		return c.json(batch)
	}
	c.printBatches([]ingest.BatchResult{batch})
	if len(batch.Rejected) > 0 {
		tw := tabwriter.NewWriter(c.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "LINE\tKEY\tREASON\tFIELD\tDETAIL")
		for _, r := range batch.Rejected {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.Line, r.Key, r.Reason, r.Field, r.Detail)
		}
		_ = tw.Flush()
	}
	return ExitOK
}

// RunPipeline runs a full load and reports the outcome.
func (c *OpsCLI) RunPipeline(ctx context.Context) int {
	res, err := c.Service.RunPipeline(ctx)
	if err != nil {
		return c.fail(err)
	}
	code := ExitOK
	if res.Status == pharmacy.RunFailed {
		code = ExitRunFailed
	}
	if c.JSONOutput {
		if rc := c.json(res); rc != ExitOK {
			return rc
		}
		return code
	}
	fmt.Fprintf(c.Stdout, "run %s %s, %d records\n", res.ID, res.Status, res.RecordsProcessed)
	for _, e := range res.Errors {
		fmt.Fprintf(c.Stdout, "  error: %s\n", e)
	}
	c.printBatches(res.Batches)
	for _, kind := range res.Skipped {
		fmt.Fprintf(c.Stdout, "skipped %s: no source\n", kind)
	}
	if res.Summary != nil {
		fmt.Fprintf(c.Stdout, "quality score %.3f\n", res.Summary.Overall)
	}
	return code
}

// Status prints the runner state and the most recent run.
func (c *OpsCLI) Status(ctx context.Context) int {
	status, err := c.Service.GetPipelineStatus(ctx)
	if err != nil {
		return c.fail(err)
	}
	if c.JSONOutput {
		return c.json(status)
	}
	fmt.Fprintf(c.Stdout, "state: %s\n", status.State)
	if status.Holder != "" {
		fmt.Fprintf(c.Stdout, "holder: %s\n", status.Holder)
	}
	if run := status.LastRun; run != nil {
		fmt.Fprintf(c.Stdout, "last run: %s %s %s started %s\n", run.ID, run.Kind, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return ExitOK
}

// Recover marks runs abandoned by a crashed process as failed.
func (c *OpsCLI) Recover(ctx context.Context) int {
	if c.Recoverer == nil {
		return c.fail(errors.New("cli: recovery not configured"))
	}
	n, err := c.Recoverer.Recover(ctx)
	if err != nil {
		return c.fail(err)
	}
	if c.JSONOutput {
		return c.json(map[string]int{"recovered": n})
	}
	fmt.Fprintf(c.Stdout, "recovered %d abandoned runs\n", n)
	return ExitOK
}

// RunQuality appends quality results for table, or every table.
func (c *OpsCLI) RunQuality(ctx context.Context, table string) int {
	entries, err := c.Service.RunQualityChecks(ctx, table)
	if err != nil {
		return c.fail(err)
	}
	if c.JSONOutput {
		return c.json(entries)
	}
	tw := tabwriter.NewWriter(c.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTABLE\tCHECK\tCHECKED\tISSUES\tRATE\tSTATUS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%.4f\t%s\n", e.ID, e.TableName, e.CheckName, e.RecordsChecked, e.IssuesFound, e.IssueRate, e.Status)
	}
	_ = tw.Flush()
	return ExitOK
}

// Acknowledge resolves a quality log entry.
func (c *OpsCLI) Acknowledge(ctx context.Context, rawID, actor string) int {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return c.fail(fmt.Errorf("%w: quality entry id %q", pharmacy.ErrInvalidArgument, rawID))
	}
	entry, err := c.Service.AcknowledgeQuality(ctx, id, actor)
	if err != nil {
		return c.fail(err)
	}
	if c.JSONOutput {
		return c.json(entry)
	}
	fmt.Fprintf(c.Stdout, "acknowledged %d (%s/%s)\n", entry.ID, entry.TableName, entry.CheckName)
	return ExitOK
}

func (c *OpsCLI) printBatches(batches []ingest.BatchResult) {
	if len(batches) == 0 {
		return
	}
	tw := tabwriter.NewWriter(c.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tACCEPTED\tINSERTED\tCORRECTED\tUNCHANGED\tREJECTED")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", b.Kind, b.Accepted, b.Inserted, b.Corrected, b.Unchanged, len(b.Rejected))
	}
	_ = tw.Flush()
}

func (c *OpsCLI) json(v any) int {
	enc := json.NewEncoder(c.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return c.fail(err)
	}
	return ExitOK
}

func (c *OpsCLI) fail(err error) int {
	fmt.Fprintf(c.Stderr, "error: %v\n", err)
	if errors.Is(err, pharmacy.ErrRunConflict) {
		return ExitConflict
	}
	return ExitError
}
