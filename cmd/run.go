package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/spike-sim/spike-sim/sim"
	"github.com/spike-sim/spike-sim/sim/models"
	"github.com/spike-sim/spike-sim/sim/numeric"
	"github.com/spike-sim/spike-sim/sim/trace"
)

// runResult is what a finished run reports.
type runResult struct {
	RunID     string
	Time      float64 // simulated time reached
	Stopped   bool    // the context was cancelled before until
	Pending   int     // events still queued
	Metrics   *sim.Metrics
	Summary   *trace.TraceSummary
	OutputDir string
	Registry  *prometheus.Registry
}

// runSimulation dispatches on the numeric type and runs the configured model
// until rc.Until or until ctx is cancelled.
func runSimulation(ctx context.Context, rc RunConfig, runID string) (*runResult, error) {
	switch rc.Numeric.Type {
	case "", "float64":
		return runModel[float64](ctx, rc, runID, numeric.Float[float64]{})
	case "float32":
		return runModel[float32](ctx, rc, runID, numeric.Float[float32]{})
	case "fixed":
		fx, err := numeric.NewFixed(rc.Numeric.Frac)
		if err != nil {
			return nil, err
		}
		return runModel[int32](ctx, rc, runID, fx)
	}
	return nil, fmt.Errorf("unknown numeric type %q", rc.Numeric.Type)
}

func buildModel[T any](rc RunConfig, arith numeric.Arith[T]) (sim.Part[T], error) {
	switch rc.Model {
	case "decay":
		m, err := models.NewDecayModel(rc.Decay, arith)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "network":
		m, err := models.NewNetwork(rc.Network, arith)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown model %q", rc.Model)
}

func runModel[T any](ctx context.Context, rc RunConfig, runID string, arith numeric.Arith[T]) (*runResult, error) {
	top, err := buildModel(rc, arith)
	if err != nil {
		return nil, fmt.Errorf("building %s model: %w", rc.Model, err)
	}

	st := trace.NewSimulationTrace(trace.TraceConfig{
		Level:    trace.TraceLevel(rc.Trace.Level),
		RunID:    runID,
		Interval: rc.Trace.Interval,
	})
	probe := sim.NewProbe[T](st)
	reg := prometheus.NewRegistry()
	cancelled := sim.ObserverFunc[T](func(s *sim.Simulator[T], _ sim.Event[T]) {
		if ctx.Err() != nil {
			s.Stop()
		}
	})

	s, err := sim.NewSimulator(rc.Simulator, arith,
		sim.WithObserver[T](probe),
		sim.WithObserver[T](cancelled),
		sim.WithCollectors[T](sim.NewCollectors(reg)),
	)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	logrus.Infof("Run %s: model=%s numeric=%s integrator=%s until=%g",
		runID, rc.Model, arith.Name(), s.Integrator().Name(), rc.Until)
	s.Init(top)
	probe.Sample(s)
	s.Run(arith.FromFloat(rc.Until))

	res := &runResult{
		RunID:    runID,
		Time:     arith.ToFloat(s.Time()),
		Stopped:  ctx.Err() != nil,
		Pending:  s.Pending(),
		Metrics:  s.Metrics(),
		Summary:  trace.Summarize(st),
		Registry: reg,
	}
	if res.Stopped {
		logrus.Warnf("Run %s interrupted at t=%g", runID, res.Time)
	}

	if rc.Output.Dir != "" {
		dir := filepath.Join(rc.Output.Dir, runID)
		if err := writeTrace(dir, st); err != nil {
			return res, err
		}
		res.OutputDir = dir
		logrus.Infof("Run %s: wrote %d samples and %d events to %s", runID, len(st.Samples), len(st.Events), dir)
	}
	return res, nil
}

func writeTrace(dir string, st *trace.SimulationTrace) (err error) {
	out, err := trace.CreateOutputFiles(dir)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	if err := out.WriteSamples(st.Samples); err != nil {
		return fmt.Errorf("writing samples: %w", err)
	}
	if err := out.WriteEvents(st.Events); err != nil {
		return fmt.Errorf("writing events: %w", err)
	}
	return nil
}

// printSummary displays the per-population trace statistics.
func printSummary(sum *trace.TraceSummary) {
	if sum == nil || sum.TotalSamples == 0 {
		return
	}
	fmt.Println("=== Population Summary ===")
	for _, name := range sum.Names() {
		p := sum.Populations[name]
		fmt.Printf("%-12s samples=%d peak=%d final=%d mean=%.2f stddev=%.2f\n",
			name, p.Samples, p.Peak, p.Final, p.Mean, p.StdDev)
	}
}

// logCollectors reports every gathered Prometheus series at debug level.
func logCollectors(reg *prometheus.Registry) {
	if reg == nil || !logrus.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	families, err := reg.Gather()
	if err != nil {
		logrus.Warnf("gathering metrics: %v", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			}
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
			}
			logrus.Debugf("metric %s%s = %g", mf.GetName(), labels, v)
		}
	}
}
