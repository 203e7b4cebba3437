// -- cmd/agent.go --
package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tarvos-labs/deskpilot/api/schemas"
	"github.com/tarvos-labs/deskpilot/internal/actuator"
	"github.com/tarvos-labs/deskpilot/internal/agent"
	"github.com/tarvos-labs/deskpilot/internal/config"
	"github.com/tarvos-labs/deskpilot/internal/memory"
	"github.com/tarvos-labs/deskpilot/internal/oracle"
)

// agentStack bundles the wired decision core and its teardown.
type agentStack struct {
	controller *agent.Controller
	oracle     *oracle.Client
	capturer   schemas.Capturer
	ltm        *memory.LongTermMemory
	closers    []func()
}

func (s *agentStack) Close(ctx context.Context) {
	if s.ltm != nil {
		_ = s.ltm.Close(ctx)
	}
	for _, c := range s.closers {
		c()
	}
}

// buildAgentStack wires the full decision core from configuration: memory
// store, oracle backend, actuator, verifier/reflector, step executor and
// controller.
func buildAgentStack(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*agentStack, error) {
	stack := &agentStack{}

	// -- Long-term memory store --
	var store memory.Store
	switch cfg.Memory().Backend {
	case "postgres":
		pgStore, err := memory.NewPostgresStore(ctx, cfg.Memory().Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres memory store: %w", err)
		}
		store = pgStore
	default:
		path := cfg.Memory().FilePath
		if path == "" {
			var err error
			path, err = memory.DefaultMemoryPath()
			if err != nil {
				return nil, err
			}
		}
		store = memory.NewFileStore(path, logger)
	}
	ltm := memory.NewLongTermMemory(ctx, store, logger)
	stack.ltm = ltm

	// -- Oracle --
	oracleClient, err := oracle.New(cfg.Oracle(), logger)
	if err != nil {
		_ = ltm.Close(ctx)
		return nil, err
	}
	stack.oracle = oracleClient

	// -- Actuator and capturer --
	var (
		act  schemas.Actuator
		capt schemas.Capturer
	)
	if cfg.Actuator().DryRun {
		noop := actuator.NewNoopActuator(0, 0, logger)
		w, h := noop.Bounds()
		act = noop
		capt = actuator.NewSyntheticCapturer(w, h)
	} else {
		cdp, err := actuator.NewCDPActuator(ctx, cfg.Actuator(), logger)
		if err != nil {
			_ = ltm.Close(ctx)
			return nil, fmt.Errorf("failed to start actuator: %w", err)
		}
		act = cdp
		capt = cdp
		stack.closers = append(stack.closers, cdp.Close)
	}
	stack.capturer = capt

	// -- Decision core --
	agentCfg := cfg.Agent()
	stm := memory.NewShortTermMemory(agentCfg.ShortTermCapacity, logger)
	verifier := agent.NewVerifier(int(agentCfg.SettleTime.Milliseconds()), logger)
	reflector := agent.NewReflector(agentCfg.CoordTolerancePx, logger)
	executor := agent.NewStepExecutor(agentCfg, cfg.Oracle().APITimeout, oracleClient, act, capt, stm, verifier, logger)
	planner := agent.NewPlanner(oracleClient, logger)

	stack.controller = agent.NewController(agentCfg, planner, executor, reflector, stm, ltm, capt, logger)
	return stack, nil
}
