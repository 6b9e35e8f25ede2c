package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"jobsync/internal/database"
	"jobsync/internal/models"
	"jobsync/internal/workflow"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// queue_admin inspects and repairs the local sqlite store of a device.
//
//	go run ./scripts -db ./data/jobsync.db -cmd list
//	go run ./scripts -db ./data/jobsync.db -cmd seed -job job.yaml
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	var (
		dbPath  = flag.String("db", "./data/jobsync.db", "path to sqlite db")
		cmd     = flag.String("cmd", "list", "list | count | job | purge | clear | seed")
		jobPath = flag.String("job", "", "yaml or json job file for seed")
	)
	flag.Parse()

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")

	switch *cmd {
	case "list":
		actions, err := db.GetPendingActions(ctx)
		if err != nil {
			return err
		}
		if actions == nil {
			actions = []models.PendingAction{}
		}
		return out.Encode(actions)

	case "count":
		n, err := db.CountPendingActions(ctx)
		if err != nil {
			return err
		}
		dead, err := db.CountDeadActions(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("pending=%d dead=%d\n", n, dead)
		return nil

	case "job":
		job, err := db.GetJob(ctx)
		if err != nil {
			return err
		}
		return out.Encode(struct {
			Job      *models.Job   `json:"job"`
			NextStep workflow.Step `json:"nextStep"`
		}{job, workflow.NextStep(job)})

	case "purge":
		n, err := db.PurgeSyncedActions(ctx)
		if err != nil {
			return err
		}
		logger.Info().Int64("purged", n).Msg("synced actions purged")
		return nil

	case "clear":
		if err := db.DeleteAllActions(ctx); err != nil {
			return err
		}
		if err := db.DeleteJob(ctx); err != nil {
			return err
		}
		logger.Info().Msg("local store cleared")
		return nil

	case "seed":
		if *jobPath == "" {
			return fmt.Errorf("-job is required for seed")
		}
		data, err := os.ReadFile(*jobPath)
		if err != nil {
			return fmt.Errorf("read job: %w", err)
		}
		job, err := parseJob(data)
		if err != nil {
			return err
		}
		if err := db.ReplaceJob(ctx, job); err != nil {
			return err
		}
		logger.Info().Str("job_id", job.ID).Msg("job seeded")
		return nil

	default:
		return fmt.Errorf("unknown command %q", *cmd)
	}
}

// parseJob accepts the server's JSON shape, or YAML with the same keys.
func parseJob(data []byte) (*models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(data, &job); err == nil {
		return validJob(&job)
	}

	var generic map[string]interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parse job: %w", err)
	}
	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("convert job: %w", err)
	}
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return validJob(&job)
}

func validJob(job *models.Job) (*models.Job, error) {
	if job.ID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	return job, nil
}
