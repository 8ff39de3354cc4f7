package solver

import (
	"fmt"
	"strconv"
	"time"
)

// Options are the solver knobs exposed to users. Empty fields leave the
// solver defaults in place.
type Options struct {
	Configuration   string  `yaml:"config" json:"config,omitempty"`
	Threads         int     `yaml:"threads" json:"threads,omitempty"`
	RandomFrequency float64 `yaml:"random_frequency" json:"random_frequency,omitempty"`
	SignDefault     string  `yaml:"sign_default" json:"sign_default,omitempty"`
	OptMode         string  `yaml:"opt_mode" json:"opt_mode,omitempty"`
	OptStrategy     string  `yaml:"opt_strategy" json:"opt_strategy,omitempty"`
	Heuristic       string  `yaml:"heuristic" json:"heuristic,omitempty"`
	RestartOnModel  bool    `yaml:"restart_on_model" json:"restart_on_model,omitempty"`
	// TimeLimit is passed to the solver itself, rounded up to whole seconds.
	TimeLimit time.Duration `yaml:"-" json:"-"`
}

// Args builds the argument list for one solve of a trace length.
func Args(o Options, length int, seed int64) []string {
	args := []string{
		"-c", fmt.Sprintf("p=%d", length),
		fmt.Sprintf("--seed=%d", seed),
	}
	if o.Configuration != "" {
		args = append(args, "--configuration="+o.Configuration)
	}
	if o.Threads > 1 {
		args = append(args, fmt.Sprintf("--parallel-mode=%d", o.Threads))
	}
	if o.RandomFrequency > 0 {
		args = append(args, "--rand-freq="+strconv.FormatFloat(o.RandomFrequency, 'f', -1, 64))
	}
	if o.SignDefault != "" {
		args = append(args, "--sign-def="+o.SignDefault)
	}
	if o.OptMode != "" {
		args = append(args, "--opt-mode="+o.OptMode)
	}
	if o.OptStrategy != "" {
		args = append(args, "--opt-strategy="+o.OptStrategy)
	}
	if o.Heuristic != "" {
		args = append(args, "--heuristic="+o.Heuristic)
	}
	if o.RestartOnModel {
		args = append(args, "--restart-on-model")
	}
	if o.TimeLimit > 0 {
		secs := int((o.TimeLimit + time.Second - 1) / time.Second)
		args = append(args, fmt.Sprintf("--time-limit=%d", secs))
	}
	return args
}
