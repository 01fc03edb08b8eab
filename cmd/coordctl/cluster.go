package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"
)

func runWorkers(args []string) {
	fs := flag.NewFlagSet("workers", flag.ExitOnError)
	configPath := configFlag(fs)
	_ = fs.Parse(args)

	ctx := context.Background()
	c := mustConn(ctx, "workers", *configPath)
	defer c.Close()

	workers, err := c.eng.ListWorkers(ctx)
	if err != nil {
		fatalf("workers", err)
	}
	active, err := c.eng.GetActiveWorkers(ctx)
	if err != nil {
		fatalf("workers", err)
	}
	live := make(map[string]bool, len(active))
	for _, id := range active {
		live[id] = true
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tHOST\tPORT\tACTIVE\tLAST HEARTBEAT")
	for _, w := range workers {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%v\t%s\n",
			w.ID, w.Host, w.Port, live[w.ID], w.LastHeartbeat.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := configFlag(fs)
	_ = fs.Parse(args)

	ctx := context.Background()
	c := mustConn(ctx, "stats", *configPath)
	defer c.Close()

	s, err := c.eng.Stats(ctx)
	if err != nil {
		fatalf("stats", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(s)
}

// runRecover runs a single orphan-recovery pass.
func runRecover(args []string) {
	fs := flag.NewFlagSet("recover", flag.ExitOnError)
	configPath := configFlag(fs)
	_ = fs.Parse(args)

	ctx := context.Background()
	c := mustConn(ctx, "recover", *configPath)
	defer c.Close()

	n, err := c.eng.RecoverOrphans(ctx)
	if err != nil {
		fatalf("recover", err)
	}
	fmt.Printf("recovered: %d\n", n)
}

// runWatch prints task events until interrupted.
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := configFlag(fs)
	jobID := fs.String("job", "", "only show events for this job")
	_ = fs.Parse(args)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	c := mustConn(ctx, "watch", *configPath)
	defer c.Close()

	events, err := c.eng.Watch(ctx)
	if err != nil {
		fatalf("watch", err)
	}
	for ev := range events {
		if *jobID != "" && ev.JobID != *jobID {
			continue
		}
		line := fmt.Sprintf("%s  %-15s %s", ev.At.Format(time.RFC3339), ev.Type, ev.TaskID)
		if ev.WorkerID != "" {
			line += "  worker=" + ev.WorkerID
		}
		if ev.Error != "" {
			line += "  error=" + ev.Error
		}
		fmt.Println(line)
	}
}
