package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/latentbo/internal/backend"
	"github.com/cwbudde/latentbo/internal/server"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show runs on a running server",
	Long: `Queries the API server for run status. Without arguments all runs are listed;
with a run ID the details of that run are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "API server URL")
	rootCmd.AddCommand(statusCmd)
}

var statusClient = &http.Client{Timeout: 10 * time.Second}

func runStatus(cmd *cobra.Command, args []string) error {
	base := strings.TrimSuffix(serverURL, "/") + "/api/v1/runs"
	if len(args) == 0 {
		var runs []server.Run
		if err := getJSON(base, &runs); err != nil {
			return err
		}
		printRuns(runs)
		return nil
	}

	var run server.Run
	if err := getJSON(base+"/"+url.PathEscape(args[0]), &run); err != nil {
		return err
	}
	printRun(run)
	return nil
}

func getJSON(u string, v any) error {
	resp, err := statusClient.Get(u)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e server.ResponseError
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Message != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Message)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printRuns(runs []server.Run) {
	if len(runs) == 0 {
		fmt.Println("No runs.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTATUS\tSTATE\tEVALS\tITER\tBEST\tSTARTED")
	for _, r := range runs {
		best := "-"
		if r.BestObservation != nil {
			best = fmt.Sprintf("%.6g", *r.BestObservation)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%s\t%s\n",
			shortID(r.ID),
			r.Status,
			r.State,
			r.Evaluations,
			r.Iteration,
			r.Config.Iterations,
			best,
			r.StartTime.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()
}

func printRun(r server.Run) {
	fmt.Printf("Run:         %s\n", r.ID)
	fmt.Printf("Status:      %s (%s)\n", r.Status, r.State)
	fmt.Printf("Backend:     %s\n", describeBackend(r.Request))
	fmt.Printf("Evaluations: %d\n", r.Evaluations)
	fmt.Printf("Iteration:   %d/%d\n", r.Iteration, r.Config.Iterations)
	if r.BestObservation != nil && r.BestCandidate != nil {
		fmt.Printf("Best:        y=%.6g at z=(%.4f, %.4f)\n", *r.BestObservation, (*r.BestCandidate)[0], (*r.BestCandidate)[1])
	}
	if r.BestScore != nil {
		fmt.Printf("Last EI:     %.6g\n", *r.BestScore)
	}
	if r.Result != nil {
		fmt.Printf("Estimated:   mean=%.6g at z=(%.4f, %.4f)\n", r.Result.BestEstimatedMean, r.Result.BestEstimated[0], r.Result.BestEstimated[1])
		fmt.Printf("Schedules:   evaluated %s\n", formatSchedule(r.Result.BestEvaluatedSchedule))
		fmt.Printf("             estimated %s\n", formatSchedule(r.Result.BestEstimatedSchedule))
		fmt.Printf("Admissible:  %d\n", r.Result.Admissible)
	}
	fmt.Printf("Started:     %s\n", r.StartTime.Format(time.RFC3339))
	if r.EndTime != nil {
		fmt.Printf("Ended:       %s (%s)\n", r.EndTime.Format(time.RFC3339), r.EndTime.Sub(r.StartTime).Round(time.Millisecond))
	}
	if r.Error != "" {
		fmt.Printf("Error:       %s\n", r.Error)
	}
}

func describeBackend(req server.RunRequest) string {
	if req.Backend == backend.Remote {
		return fmt.Sprintf("remote %s (dataset %q)", req.ModelURL, req.Dataset)
	}
	return "synthetic " + req.Problem
}
