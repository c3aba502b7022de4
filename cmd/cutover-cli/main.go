package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edvin/cutover/internal/cli"
	"github.com/edvin/cutover/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "deploy":
		cmdDeploy(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "events":
		cmdEvents(os.Args[2:])
	case "rollback":
		cmdRollback(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func cmdDeploy(args []string) {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	watch := fs.Bool("watch", true, "Poll the deployment and print phase transitions until it finishes")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: cutover-cli deploy [-watch=false] <plan-file>")
		os.Exit(1)
	}

	plan, err := config.LoadPlan(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	client := mustClient()

	ctx, cancel := signalContext()
	defer cancel()

	deployment, err := client.StartDeployment(ctx, plan)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Deployment started.\n\n")
	fmt.Printf("  ID:       %s\n", deployment.ID)
	fmt.Printf("  Active:   %s\n", deployment.ActiveGroup)
	fmt.Printf("  Standby:  %s\n", deployment.StandbyGroup)
	fmt.Printf("  Image:    %s\n\n", deployment.ImageID)

	if !*watch {
		fmt.Printf("Watch it with: cutover-cli status -id %s\n", deployment.ID)
		return
	}

	if err := watchDeployment(ctx, client, deployment.ID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	id := fs.String("id", "", "Deployment ID (default: list recent deployments)")
	fs.Parse(args)

	client := mustClient()

	ctx, cancel := signalContext()
	defer cancel()

	if *id == "" {
		deployments, err := client.ListDeployments(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(deployments) == 0 {
			fmt.Println("No deployments found.")
			return
		}
		fmt.Printf("%-36s %-12s %-18s %-12s %s\n", "ID", "STATUS", "PHASE", "ACTIVE", "STANDBY")
		for _, d := range deployments {
			fmt.Printf("%-36s %-12s %-18s %-12s %s\n", d.ID, d.Status, d.Phase, d.ActiveGroup, d.StandbyGroup)
		}
		return
	}

	deployment, err := client.GetDeployment(ctx, *id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("ID:        %s\n", deployment.ID)
	fmt.Printf("Status:    %s\n", deployment.Status)
	fmt.Printf("Phase:     %s\n", deployment.Phase)
	fmt.Printf("Active:    %s\n", deployment.ActiveGroup)
	fmt.Printf("Standby:   %s\n", deployment.StandbyGroup)
	fmt.Printf("Image:     %s\n", deployment.ImageID)
	fmt.Printf("Started:   %s\n", deployment.StartedAt.Format(time.RFC3339))
	if deployment.FinishedAt != nil {
		fmt.Printf("Finished:  %s\n", deployment.FinishedAt.Format(time.RFC3339))
	}
	if deployment.FailureReason != nil {
		fmt.Printf("Failure:   %s\n", *deployment.FailureReason)
	}
}

func cmdEvents(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	id := fs.String("id", "", "Deployment ID (required)")
	fs.Parse(args)

	if *id == "" && fs.NArg() > 0 {
		*id = fs.Arg(0)
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "Usage: cutover-cli events <deployment-id>")
		os.Exit(1)
	}

	client := mustClient()

	ctx, cancel := signalContext()
	defer cancel()

	events, err := client.ListEvents(ctx, *id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(events) == 0 {
		fmt.Println("No events recorded yet.")
		return
	}
	for _, e := range events {
		line := fmt.Sprintf("%s  %s", e.CreatedAt.Format(time.RFC3339), e.Phase)
		if e.Detail != "" {
			line += "  " + e.Detail
		}
		fmt.Println(line)
	}
}

func cmdRollback(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	id := fs.String("id", "", "Deployment ID (required)")
	reason := fs.String("reason", "", "Reason recorded in the audit trail")
	fs.Parse(args)

	if *id == "" && fs.NArg() > 0 {
		*id = fs.Arg(0)
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "Usage: cutover-cli rollback [-reason TEXT] <deployment-id>")
		os.Exit(1)
	}

	client := mustClient()

	ctx, cancel := signalContext()
	defer cancel()

	if err := client.Rollback(ctx, *id, *reason); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Rollback signalled for deployment %s\n", *id)
}

// watchDeployment polls the deployment and prints each phase change until the
// run reaches a terminal phase.
func watchDeployment(ctx context.Context, client *cli.Client, id string) error {
	fmt.Println("Watching phases (Ctrl+C to stop watching; the deployment keeps running):")

	var lastPhase string
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		deployment, err := client.GetDeployment(ctx, id)
		if err != nil {
			return err
		}

		if string(deployment.Phase) != lastPhase {
			lastPhase = string(deployment.Phase)
			fmt.Printf("  %s  %s\n", time.Now().Format(time.RFC3339), deployment.Phase)
		}

		if deployment.Phase.Terminal() {
			fmt.Printf("\nDeployment %s: %s\n", deployment.Status, deployment.Phase)
			if deployment.FailureReason != nil {
				fmt.Printf("Reason: %s\n", *deployment.FailureReason)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			fmt.Println("\nStopped watching. The deployment keeps running on the worker.")
			return nil
		case <-ticker.C:
		}
	}
}

func mustClient() *cli.Client {
	client, err := cli.NewClientFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return client
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `cutover-cli — blue/green deployment operator CLI

Usage:
  cutover-cli deploy [-watch=false] <plan-file>
  cutover-cli status [-id ID]
  cutover-cli events <deployment-id>
  cutover-cli rollback [-reason TEXT] <deployment-id>

Commands:
  deploy     Submit a YAML deployment plan and watch its phases
  status     Show one deployment, or list recent deployments
  events     Print a deployment's phase transition history
  rollback   Force a running deployment to roll back

The API endpoint and credentials come from CUTOVER_API_URL (default
http://localhost:8090) and CUTOVER_API_KEY.`)
}
