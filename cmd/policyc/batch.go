package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"policy-compiler/internal/engine"
	"policy-compiler/internal/model"
	"policy-compiler/internal/parser"
)

var (
	batchIn      string
	batchOut     string
	batchWorkers int
)

// batchResult pairs a policy line with its compile output.
type batchResult struct {
	stmt   parser.Statement
	result *engine.Result
}

var batchHeader = []string{"compile_id", "line", "clause_index", "clause", "device", "chain", "rule", "reason", "diagnostics"}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Compile a file of policy statements into a CSV report",
		Long: `batch compiles every non-empty, non-comment line of the input file
	independently and writes one CSV row per emitted rule or rejected clause.
	Nothing is dispatched.`,
		Args: cobra.NoArgs,
		RunE: runBatch,
	}
	cmd.Flags().StringVarP(&batchIn, "in", "i", "", "Policy file, one statement per line (required)")
	cmd.Flags().StringVarP(&batchOut, "out", "o", "policies.csv", "Output CSV file")
	cmd.Flags().IntVarP(&batchWorkers, "workers", "w", runtime.NumCPU(), "Number of concurrent workers")
	cmd.Flags().StringVarP(&preferredTarget, "target", "t", "", "Preferred enforcement device for statements without an explicit target")
	cmd.MarkFlagRequired("in")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	inF, err := os.Open(batchIn)
	if err != nil {
		slog.Error("Failed to open policy file", "path", batchIn, "error", err)
		return err
	}
	statements, err := parser.ReadPolicies(inF)
	inF.Close()
	if err != nil {
		slog.Error("Failed to read policy file", "path", batchIn, "error", err)
		return err
	}
	slog.Info("Policy file read", "path", batchIn, "statements", len(statements))

	outF, err := os.Create(batchOut)
	if err != nil {
		slog.Error("Failed to create output file", "path", batchOut, "error", err)
		return err
	}
	defer outF.Close()

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()
	defer writeMetrics()

	workers := batchWorkers
	if workers < 1 {
		workers = 1
	}
	tasks := make(chan parser.Statement, workers*100)
	results := make(chan batchResult, workers*100)
	var wg sync.WaitGroup

	var written uint64
	var writerErr error
	var writerWg sync.WaitGroup
	writerWg.Add(1)
	go func() {
		writerErr = resultWriter(&writerWg, results, outF, &written)
	}()

	slog.Info("Starting compile workers", "count", workers)
	opts := engine.Options{PreferredTarget: cfg.PreferredTarget}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker(&wg, i+1, s.compiler, opts, tasks, results)
	}

	for _, stmt := range statements {
		tasks <- stmt
	}
	close(tasks)

	wg.Wait()
	close(results)
	writerWg.Wait()
	if writerErr != nil {
		return writerErr
	}

	slog.Info("Batch complete", "statements", len(statements), "rows", atomic.LoadUint64(&written), "duration", time.Since(startTime))
	return nil
}

func worker(wg *sync.WaitGroup, id int, compiler *engine.Compiler, opts engine.Options, tasks <-chan parser.Statement, results chan<- batchResult) {
	defer wg.Done()
	slog.Debug("Worker started", "id", id)
	for stmt := range tasks {
		results <- batchResult{stmt: stmt, result: compiler.Compile(stmt.Text, opts)}
	}
	slog.Debug("Worker finished", "id", id)
}

// resultWriter drains results into w as CSV. Rows arrive in completion
// order, not input order; the line column ties them back to the input.
func resultWriter(wg *sync.WaitGroup, results <-chan batchResult, w io.Writer, written *uint64) error {
	defer wg.Done()

	out := csv.NewWriter(w)
	out.Write(batchHeader)

	var rows uint64
	for br := range results {
		for _, record := range batchRecords(br) {
			out.Write(record)
			rows++
		}
		atomic.StoreUint64(written, rows)
	}
	out.Flush()
	if err := out.Error(); err != nil {
		slog.Error("Failed to write results", "error", err)
		return fmt.Errorf("failed to write results: %w", err)
	}
	slog.Info("Result writer finished", "rows", rows)
	return nil
}

func batchRecords(br batchResult) [][]string {
	id := br.result.ID.String()
	line := strconv.Itoa(br.stmt.Line)

	var records [][]string
	for _, cr := range br.result.Clauses {
		idx := strconv.Itoa(cr.Index)
		diags := joinDiagnostics(cr.Diagnostics)
		if !cr.OK() {
			records = append(records, []string{id, line, idx, cr.Clause, "", "", "", string(cr.Reason), diags})
			continue
		}
		for _, r := range cr.Rules {
			records = append(records, []string{id, line, idx, cr.Clause, r.EnforcementDevice, string(r.Chain), r.String(), "", diags})
		}
	}
	return records
}

func joinDiagnostics(diags []model.Diagnostic) string {
	parts := make([]string, 0, len(diags))
	for _, d := range diags {
		parts = append(parts, string(d.Code))
	}
	return strings.Join(parts, "|")
}
