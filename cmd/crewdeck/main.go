// crewdeck is the console client for the crew orchestration backend: list
// and export crew entities, and start a flow run while streaming its live
// log to the terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/crewdeck/crewdeck/client"
	"github.com/crewdeck/crewdeck/config"
	"github.com/crewdeck/crewdeck/crewfile"
	"github.com/crewdeck/crewdeck/domain"
	"github.com/crewdeck/crewdeck/notify"
	"github.com/crewdeck/crewdeck/runner"
	"github.com/crewdeck/crewdeck/state"
)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: crewdeck [flags] <command>

Commands:
  agents            list agents
  tasks             list tasks
  flows             list flows
  export <file>     export the crew definition to a YAML crewfile
  run <flow-id>     start a run and stream its log`)
	flag.PrintDefaults()
}

func main() {
	cfg := config.Load()
	apiURL := flag.String("api", cfg.APIBaseURL, "backend base URL")
	token := flag.String("token", cfg.APIToken, "bearer token")
	input := flag.String("input", "", "run input (read from stdin when empty)")
	flag.Usage = usage
	flag.Parse()

	log.SetFlags(log.Ltime)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	api := client.New(*apiURL, *token)
	ctx := context.Background()

	switch args[0] {
	case "agents":
		agents, err := api.ListAgents(ctx)
		if err != nil {
			log.Fatalf("Failed to list agents: %v", err)
		}
		for _, a := range agents {
			fmt.Printf("%-28s %-24s %s\n", a.ID, a.Role, a.Model)
		}

	case "tasks":
		tasks, err := api.ListTasks(ctx)
		if err != nil {
			log.Fatalf("Failed to list tasks: %v", err)
		}
		for _, t := range tasks {
			ctxInfo := ""
			if len(t.ContextTaskIDs) > 0 {
				ctxInfo = "context: " + strings.Join(t.ContextTaskIDs, ", ")
			}
			fmt.Printf("%-28s %-24s %s\n", t.ID, t.AgentID, ctxInfo)
		}

	case "flows":
		flows, err := api.ListFlows(ctx)
		if err != nil {
			log.Fatalf("Failed to list flows: %v", err)
		}
		for _, f := range flows {
			fmt.Printf("%-28s %-14s %d tasks\n", f.ID, f.Process, len(f.TaskIDs))
		}

	case "export":
		if len(args) < 2 {
			log.Fatalf("export requires a file path")
		}
		exportCrew(ctx, api, args[1])

	case "run":
		if len(args) < 2 {
			log.Fatalf("run requires a flow id")
		}
		runFlow(api, args[1], *input)

	default:
		usage()
		os.Exit(2)
	}
}

func exportCrew(ctx context.Context, api *client.Client, path string) {
	agents, err := api.ListAgents(ctx)
	if err != nil {
		log.Fatalf("Failed to list agents: %v", err)
	}
	tasks, err := api.ListTasks(ctx)
	if err != nil {
		log.Fatalf("Failed to list tasks: %v", err)
	}
	flows, err := api.ListFlows(ctx)
	if err != nil {
		log.Fatalf("Failed to list flows: %v", err)
	}

	if err := crewfile.Save(path, crewfile.FromEntities(agents, tasks, flows)); err != nil {
		log.Fatalf("Failed to export: %v", err)
	}
	fmt.Printf("Exported %d agents, %d tasks, %d flows to %s\n",
		len(agents), len(tasks), len(flows), path)
}

func runFlow(api *client.Client, flowID, input string) {
	if input == "" {
		fmt.Print("Run input (empty for none): ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			input = strings.TrimSpace(scanner.Text())
		}
	}

	store := state.NewStore()
	done := make(chan struct{})

	ctrl := runner.New(api, store.Dispatch, notify.Log{})
	ctrl.OnLog = func(entry runner.LogEntry) {
		fmt.Printf("[%s] %-8s %s: %s\n",
			entry.Timestamp.Format("15:04:05"), entry.Severity, entry.Agent, entry.Content)
	}
	defer ctrl.Close()

	unsubscribe := store.Subscribe(func(s state.State) {
		for _, run := range s.Runs {
			if run.Status.IsTerminal() {
				select {
				case <-done:
				default:
					close(done)
				}
			}
		}
	})
	defer unsubscribe()

	run, err := ctrl.StartRun(context.Background(), flowID, input)
	if err != nil {
		os.Exit(1)
	}
	fmt.Printf("Started run %s\n", run.ID)

	<-done

	final := store.State()
	for _, r := range final.Runs {
		if r.ID == run.ID {
			if r.Status == domain.RunStatusCompleted {
				fmt.Println("Run completed.")
			} else {
				fmt.Println("Run failed.")
				os.Exit(1)
			}
		}
	}
}
