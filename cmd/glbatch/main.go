// Command glbatch submits and inspects batch jobs from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/forgeops/glbatch/pkg/batch"
	"github.com/forgeops/glbatch/pkg/client"
	"github.com/forgeops/glbatch/pkg/config"
	"github.com/forgeops/glbatch/pkg/logging"
	"github.com/forgeops/glbatch/pkg/pagination"
	"github.com/forgeops/glbatch/pkg/ratelimit"
	"github.com/forgeops/glbatch/pkg/resolve"
	"github.com/forgeops/glbatch/pkg/store"
	"github.com/forgeops/glbatch/pkg/store/postgres"
	"github.com/forgeops/glbatch/pkg/store/sqlite"
)

var (
	outputJSON       bool
	dryRun           bool
	stopOnFirstError bool
	concurrency      int
	jobType          string
)

var rootCmd = &cobra.Command{
	Use:   "glbatch",
	Short: "Bulk operations against a forge API",
	Long: `A CLI tool for running batches of create, update and delete operations
against a remote forge (GitLab-style) REST API.

Batches are idempotent: resources that already exist are skipped, so a
partially failed batch can be re-run safely. Progress and results are
persisted in a local job store.`,
}

var runCmd = &cobra.Command{
	Use:   "run [operations.json]",
	Short: "Run a batch of operations",
	Long: `Read a JSON array of operation descriptors from a file and run it as a
batch job against the configured forge API. Exits non-zero if any item fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show a job's status and item results",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent jobs",
	RunE:  runJobs,
}

var retryCmd = &cobra.Command{
	Use:   "retry [job-id]",
	Short: "Re-run the failed items of a finished job as a new batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve every item but issue no writes")
	runCmd.Flags().BoolVar(&stopOnFirstError, "stop-on-first-error", false, "stop dispatching after the first failed item")
	runCmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker pool size (default from config)")
	runCmd.Flags().StringVar(&jobType, "type", "", "job type label")

	retryCmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve every item but issue no writes")
	retryCmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker pool size (default from config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(retryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getStorage(cfg *config.Config) (batch.Store, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.New(cfg.PostgresURL)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return sqlite.New(cfg.SQLitePath)
	}
}

// buildEngine wires a local orchestrator from the environment configuration.
func buildEngine(cfg *config.Config, jobStore batch.Store) (*batch.Orchestrator, error) {
	limiterOpts := ratelimit.Options{MinSpacing: cfg.MinRequestSpacing}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse Redis URL: %w", err)
		}
		limiterOpts.Store = ratelimit.NewRedisStore(redis.NewClient(redisOpts))
	}
	limiter := ratelimit.NewLimiter(limiterOpts, logging.NewLogger("rate-limiter"))

	clientCfg := client.DefaultConfig(cfg.ForgeBaseURL, cfg.ForgeToken)
	clientCfg.Limiter = limiter
	clientCfg.Retry.MaxAttempts = cfg.MaxAttempts
	forgeClient, err := client.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create forge client: %w", err)
	}

	fetcher := pagination.NewFetcher(forgeClient, pagination.DefaultConfig())
	resolver := resolve.NewResolver(forgeClient, fetcher)
	return batch.NewOrchestrator(forgeClient, resolver, jobStore), nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read operations file: %w", err)
	}

	var ops []batch.OperationDescriptor
	if err := json.Unmarshal(data, &ops); err != nil {
		return fmt.Errorf("failed to parse operations file: %w", err)
	}

	return submitAndWait(ops)
}

func runRetry(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	jobStore, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	job, err := jobStore.GetJob(context.Background(), args[0])
	jobStore.Close()
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("job %s is still %s", job.ID, job.Status)
	}

	ops := batch.FailedOperations(job)
	if len(ops) == 0 {
		fmt.Println("No failed items to retry.")
		return nil
	}

	fmt.Printf("Retrying %d failed item(s) from job %s\n", len(ops), job.ID)
	return submitAndWait(ops)
}

func submitAndWait(ops []batch.OperationDescriptor) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	jobStore, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer jobStore.Close()

	orch, err := buildEngine(cfg, jobStore)
	if err != nil {
		return err
	}

	if concurrency == 0 {
		concurrency = cfg.Concurrency
	}

	ctx := context.Background()
	job, err := orch.Submit(ctx, ops, batch.Options{
		Type:             jobType,
		Concurrency:      concurrency,
		StopOnFirstError: stopOnFirstError,
		DryRun:           dryRun,
	})
	if err != nil {
		return fmt.Errorf("failed to submit batch: %w", err)
	}

	fmt.Printf("Job %s: %d operation(s)\n", job.ID, job.Total)

	events, cancel, err := orch.Subscribe(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to job events: %w", err)
	}
	defer cancel()

	for ev := range events {
		if ev.LastItem != nil {
			fmt.Printf("\rProgress: %d/%d", ev.Processed, ev.Total)
		}
		if ev.Status.Terminal() {
			break
		}
	}
	orch.Wait()
	fmt.Println()

	final, err := orch.GetJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to load job result: %w", err)
	}

	printJob(final)

	if final.Failed > 0 || final.Status != batch.StatusCompleted {
		return fmt.Errorf("job %s finished %s with %d failed item(s)", final.ID, final.Status, final.Failed)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	jobStore, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer jobStore.Close()

	job, err := jobStore.GetJob(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	printJob(job)
	return nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	jobStore, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer jobStore.Close()

	jobs, err := jobStore.ListJobs(context.Background(), batch.JobFilter{Limit: 20})
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(jobs)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Type", "Status", "Processed", "Succeeded", "Skipped", "Failed", "Created"})
	for _, j := range jobs {
		table.Append([]string{
			j.ID,
			j.Type,
			string(j.Status),
			fmt.Sprintf("%d/%d", j.Processed, j.Total),
			fmt.Sprintf("%d", j.Succeeded),
			fmt.Sprintf("%d", j.Skipped),
			fmt.Sprintf("%d", j.Failed),
			j.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()

	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: true,
	})

	return cfg, nil
}

func printJob(job *batch.Job) {
	if outputJSON {
		json.NewEncoder(os.Stdout).Encode(job)
		return
	}

	fmt.Printf("\nJob %s (%s): %s\n", job.ID, job.Type, job.Status)
	fmt.Printf("Processed %d/%d: %d succeeded, %d skipped, %d failed\n\n",
		job.Processed, job.Total, job.Succeeded, job.Skipped, job.Failed)

	if len(job.Items) == 0 {
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Kind", "Key", "Outcome", "Resource", "Error"})
	for _, item := range job.Items {
		table.Append([]string{
			fmt.Sprintf("%d", item.Index),
			string(item.Operation.Kind),
			item.Operation.NaturalKey,
			string(item.Outcome),
			item.ResourceID,
			item.Error,
		})
	}
	table.Render()
}
