package actions

import "log/slog"

// Built-in agent names.
const (
	CRUDAgentName = "CRUDAgent"
	MathAgentName = "SimpleMathAgent"
	DataAgentName = "DataAgent"
)

// BuiltinConfig configures the built-in agents.
type BuiltinConfig struct {
	FS        FSConfig
	Validator InputValidator
	Reasoner  Reasoner // optional; enables dynamic steps on every built-in agent
	Logger    *slog.Logger
}

// RegisterBuiltins registers the file, math and data agents.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	var opts []AgentOption
	if cfg.Validator != nil {
		opts = append(opts, WithInputValidator(cfg.Validator))
	}
	if cfg.Reasoner != nil {
		opts = append(opts, WithReasoner(cfg.Reasoner))
	}
	if cfg.Logger != nil {
		opts = append(opts, WithAgentLogger(cfg.Logger))
	}

	groups := []struct {
		name  string
		tools []Tool
	}{
		{CRUDAgentName, FileTools(cfg.FS)},
		{MathAgentName, MathTools()},
		{DataAgentName, DataTools()},
	}
	for _, g := range groups {
		agent, err := NewToolAgent(g.name, g.tools, opts...)
		if err != nil {
			return err
		}
		if err := reg.Register(agent); err != nil {
			return err
		}
	}
	return nil
}
