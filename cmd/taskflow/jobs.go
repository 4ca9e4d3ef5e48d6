package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/kazz187/taskflow/internal/actionlog"
	actionlogrepo "github.com/kazz187/taskflow/internal/actionlog/repositoryimpl"
	"github.com/kazz187/taskflow/internal/jobqueue"
	"github.com/kazz187/taskflow/pkg/storage"
)

var (
	failedColor  = color.New(color.FgRed)
	successColor = color.New(color.FgGreen)
)

// The job commands work on storage directly. A running server notices a
// requeued job on its next poll.

func listFailedJobs(ctx context.Context, store storage.Storage) error {
	jobs, err := jobqueue.New(store).ListFailed(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("no failed jobs")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWORKFLOW\tTRIGGER\tATTEMPTS\tFAILED AT\tLAST ERROR")
	for _, j := range jobs {
		failedAt := ""
		if j.FailedAt != nil {
			failedAt = j.FailedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			j.ID, j.Payload.WorkflowID, j.Payload.TriggerType, j.Attempts, failedAt, failedColor.Sprint(j.LastError))
	}
	return w.Flush()
}

func requeueJob(ctx context.Context, store storage.Storage, id string) error {
	job, err := jobqueue.New(store).Requeue(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("requeued job %s (workflow %s)\n", job.ID, job.Payload.WorkflowID)
	return nil
}

func listActionLogs(ctx context.Context, store storage.Storage, workflowID, jobID string, limit int) error {
	logger := actionlog.NewLogger(actionlogrepo.NewYAMLRepository(store))
	logs, total, err := logger.List(ctx, actionlog.ListFilter{WorkflowID: workflowID, JobID: jobID}, limit, 0)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXECUTED AT\tJOB\tWORKFLOW\tACTION\tATTEMPT\tSTATUS\tDETAIL")
	for _, l := range logs {
		status := successColor.Sprint(l.Status)
		detail := l.Details["status_code"]
		if l.Status == actionlog.StatusFailed {
			status = failedColor.Sprint(l.Status)
			detail = l.Details["error"]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			l.ExecutedAt.Format(time.RFC3339), l.JobID, l.WorkflowID, l.ActionID, l.Attempt, status, detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("showing %d of %d\n", len(logs), total)
	return nil
}
