package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/xraph/coord/engine"
	"github.com/xraph/coord/id"
)

// runSubmit submits a job with one task per positional argument.
func runSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	configPath := configFlag(fs)
	jobID := fs.String("job", "", "job id (generated when empty)")
	pluginName := fs.String("plugin", "", "plugin that runs every task (required)")
	timeout := fs.Duration("timeout", 0, "per-task timeout (e.g. 30s)")
	queueName := fs.String("queue", "", "queue to enqueue on (default: configured queue)")
	open := fs.Bool("open", false, "leave the job unsealed")
	_ = fs.Parse(args)

	if *pluginName == "" || fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "submit: --plugin and at least one task data argument are required")
		fs.Usage()
		os.Exit(1)
	}
	if *jobID == "" {
		*jobID = id.NewJobID()
	}

	ctx := context.Background()
	c := mustConn(ctx, "submit", *configPath)
	defer c.Close()

	opts := []engine.TaskOption{engine.WithPlugin(*pluginName)}
	if *timeout > 0 {
		opts = append(opts, engine.WithTaskTimeout(*timeout))
	}
	if *queueName != "" {
		opts = append(opts, engine.WithTaskQueue(*queueName))
	}

	if err := c.eng.SubmitJob(ctx, *jobID, nil); err != nil {
		fatalf("submit", err)
	}
	for _, data := range fs.Args() {
		taskID, err := c.eng.NextTaskID(ctx, *jobID)
		if err != nil {
			fatalf("submit", err)
		}
		if err := c.eng.AddTask(ctx, *jobID, taskID, data, opts...); err != nil {
			fatalf("submit", err)
		}
		fmt.Printf("task_id:  %s\n", taskID)
	}
	if !*open {
		if err := c.eng.SealJob(ctx, *jobID); err != nil {
			fatalf("submit", err)
		}
	}
	fmt.Printf("job_id:   %s\n", *jobID)
	fmt.Printf("sealed:   %v\n", !*open)
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := configFlag(fs)
	jobID := fs.String("job", "", "job id (required)")
	_ = fs.Parse(args)

	if *jobID == "" {
		fmt.Fprintln(os.Stderr, "status: --job is required")
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	c := mustConn(ctx, "status", *configPath)
	defer c.Close()

	j, err := c.eng.JobStatus(ctx, *jobID)
	if err != nil {
		fatalf("status", err)
	}
	tasks, err := c.eng.JobTasks(ctx, *jobID)
	if err != nil {
		fatalf("status", err)
	}

	fmt.Printf("job_id:   %s\n", j.ID)
	fmt.Printf("status:   %s\n", j.Status)
	fmt.Printf("created:  %s\n", j.CreatedAt.Format(time.RFC3339))
	if j.CompletedAt != nil {
		fmt.Printf("finished: %s\n", j.CompletedAt.Format(time.RFC3339))
	}
	fmt.Println()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATUS\tWORKER\tATTEMPTS\tRESULT/ERROR")
	for _, t := range tasks {
		out := t.Result
		if t.Error != "" {
			out = t.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", t.ID, t.Status, t.WorkerID, t.Attempts, out)
	}
	_ = tw.Flush()
}

func runCancel(args []string) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	configPath := configFlag(fs)
	jobID := fs.String("job", "", "job id (required)")
	_ = fs.Parse(args)

	if *jobID == "" {
		fmt.Fprintln(os.Stderr, "cancel: --job is required")
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	c := mustConn(ctx, "cancel", *configPath)
	defer c.Close()

	if err := c.eng.CancelJob(ctx, *jobID); err != nil {
		fatalf("cancel", err)
	}
	fmt.Printf("job %s cancelled\n", *jobID)
}

func runCleanup(args []string) {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	configPath := configFlag(fs)
	jobID := fs.String("job", "", "job id (required)")
	_ = fs.Parse(args)

	if *jobID == "" {
		fmt.Fprintln(os.Stderr, "cleanup: --job is required")
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	c := mustConn(ctx, "cleanup", *configPath)
	defer c.Close()

	if err := c.eng.CleanupJob(ctx, *jobID); err != nil {
		fatalf("cleanup", err)
	}
	fmt.Printf("job %s removed\n", *jobID)
}
