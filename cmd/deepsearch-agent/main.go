// Command deepsearch-agent is the CLI entry point for the orchestration
// engine (spec.md §6's CLI surface). It wires configuration, the model
// router, the tool registry and a Runtime, then performs one Run and prints
// the resulting RunResult summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"goa.design/clue/log"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/agenterr"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/codeact"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/memory"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/react"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/router"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/runtime"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/sandbox"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/sandbox/localproc"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/telemetry"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/tools"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/config"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/llm/anthropic"
)

func main() {
	os.Exit(run())
}

// mandatoryToolParams describes the single required argument of each
// mandatory-key tool, enough to build a placeholder ToolDescriptor; a
// concrete provider implementation is out of scope (SPEC_FULL.md §1).
var mandatoryToolParams = map[string]tools.Param{
	"search_links": {Name: "query", Type: tools.TypeString, Required: true},
	"read_url":     {Name: "url", Type: tools.TypeString, Required: true},
	"wolfram":      {Name: "query", Type: tools.TypeString, Required: true},
}

// registerMandatoryTools registers a placeholder ToolDescriptor for each
// mandatory-key tool whose API key is present, per spec.md §4.9: "a missing
// mandatory key causes the dependent tool not to be registered". Concrete
// provider calls are out of scope; the placeholder reports that clearly
// rather than silently succeeding.
func registerMandatoryTools(ctx context.Context, registry *tools.Registry, perTool map[string]bool, logger telemetry.Logger) {
	for tool, ok := range perTool {
		if !ok {
			logger.Warn(ctx, "skipping tool registration: mandatory API key missing", "tool", tool, "env", config.MandatoryToolKeys()[tool])
			continue
		}
		name := tool
		param, known := mandatoryToolParams[name]
		if !known {
			param = tools.Param{Name: "query", Type: tools.TypeString, Required: true}
		}
		_ = registry.Register(&tools.Descriptor{
			Name:        name,
			Description: "placeholder provider-backed tool; concrete provider integration is out of scope",
			Params:      []tools.Param{param},
			Invoke: func(ctx context.Context, args map[string]any) (any, error) {
				return nil, agenterr.New(agenterr.KindToolError, fmt.Sprintf("%s: provider integration not configured", name))
			},
		})
	}
}

func run() int {
	agentType := flag.String("agent-type", "react", "react|codact|manager")
	query := flag.String("query", "", "the task to run")
	maxSteps := flag.Int("max-steps", 0, "override agents.<type>.max_steps")
	executorType := flag.String("executor-type", "", "local|docker|e2b")
	enableStreaming := flag.Bool("enable-streaming", false, "stream Deltas to stdout")
	team := flag.String("team", "research", "research|custom")
	managedAgents := flag.String("managed-agents", "", "comma-separated agent names")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	_ = team
	_ = managedAgents

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 1
	}

	format := log.FormatText
	if cfg.Logging.Format == "json" {
		format = log.FormatJSON
	}
	ctx = log.Context(ctx, log.WithFormat(format))
	if *verbose {
		ctx = log.Context(ctx, log.WithDebug())
	}
	logger := telemetry.NewClueLogger()

	if *query == "" {
		fmt.Fprintln(os.Stderr, "--query is required")
		return 1
	}

	kind := runtime.Kind(*agentType)
	switch kind {
	case runtime.KindReAct, runtime.KindCodeAct, runtime.KindManager:
	default:
		fmt.Fprintln(os.Stderr, "unknown --agent-type:", *agentType)
		return 1
	}

	if *executorType != "" {
		cfg.Agents.CodeAct.ExecutorType = *executorType
	}
	if *maxSteps > 0 {
		cfg.Agents.React.MaxSteps = *maxSteps
		cfg.Agents.CodeAct.MaxSteps = *maxSteps
	}

	registry := tools.NewRegistry()
	perToolKeys, validAPIKeys := config.ValidateAPIKeys()
	registerMandatoryTools(ctx, registry, perToolKeys, logger)

	searchClient := anthropic.New(cfg.Models.SearchID)
	orchestratorClient := anthropic.New(cfg.Models.OrchestratorID)
	rtr := router.New(searchClient, orchestratorClient, nil)

	gatewayFn := func() sandbox.Gateway {
		return localproc.New("internal/agent/sandbox/localproc/bridge.py")
	}

	rt := runtime.New(
		registry,
		rtr,
		gatewayFn,
		memory.DefaultState(),
		validAPIKeys,
		runtime.WithReactConfig(react.Config{
			MaxSteps:         cfg.Agents.React.MaxSteps,
			PlanningInterval: cfg.Agents.React.PlanningInterval,
			MaxToolThreads:   cfg.Agents.React.MaxToolThreads,
		}),
		runtime.WithCodeActConfig(codeact.Config{
			MaxSteps:             cfg.Agents.CodeAct.MaxSteps,
			PlanningInterval:     cfg.Agents.CodeAct.PlanningInterval,
			ExecutorType:         cfg.Agents.CodeAct.ExecutorType,
			UseStructuredOutputs: cfg.Agents.CodeAct.UseStructuredOutputs,
			GrammarModeEnabled:   cfg.Models.RerankerType != "",
		}),
		runtime.WithMaxDelegationDepth(cfg.Agents.Manager.MaxDelegationDepth),
		runtime.WithLogger(logger),
	)
	if !rt.ValidAPIKeys() {
		logger.Warn(ctx, "some mandatory tool API keys are missing; dependent tools were not registered")
	}
	rt.Freeze()

	opts := runtime.RunOptions{Reset: true}

	if *enableStreaming {
		events, err := rt.RunStream(ctx, *query, kind, opts)
		if err != nil {
			fmt.Fprintln(os.Stderr, "run:", err)
			return 1
		}
		var finalErr string
		for ev := range events {
			if ev.Delta != nil {
				if ev.Delta.Content != "" {
					fmt.Print(ev.Delta.Content)
				}
				if ev.Delta.ToolCallDelta != nil {
					fmt.Printf("\n[tool_call] %s\n", ev.Delta.ToolCallDelta.Name)
				}
			}
			if ev.StepSummary != nil {
				fmt.Printf("[step] %s: %s\n", ev.StepSummary.Kind, ev.StepSummary.Content)
			}
			if ev.Final != nil {
				fmt.Println(ev.Final.Summary())
				finalErr = ev.Final.Error
			}
		}
		if finalErr != "" && !strings.Contains(finalErr, "max_steps") {
			return 1
		}
		return 0
	}

	res, err := rt.Run(ctx, *query, kind, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		return 1
	}
	fmt.Println(res.Summary())
	if !res.Success() {
		return 1
	}
	return 0
}
