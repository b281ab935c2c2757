package irkgen

import (
	"fmt"
	"math"

	"github.com/ChristopherRabotin/irkgen/codegen"
)

// Report compares the generated integrator with the RK4 reference at the end of every interval.
type Report struct {
	States    [][]float64 // generated integrator
	Reference [][]float64 // RK4 reference
	MaxError  float64     // largest absolute state difference
}

// Verify runs the integrate entry point of mc over the whole grid from x0 and compares it
// with an RK4 propagation of the model taking refSteps steps per integrator step.
func (e *IRKExport) Verify(mc *codegen.Machine, x0, u, p []float64, refSteps int) (Report, error) {
	var rpt Report
	if e.prog == nil {
		return rpt, fmt.Errorf("%w: verify before setup", ErrConfiguration)
	}
	if refSteps <= 0 {
		return rpt, fmt.Errorf("%w: %d reference steps", ErrConfiguration, refSteps)
	}
	eta, err := e.Eta(x0, u, p)
	if err != nil {
		return rpt, err
	}
	sim, err := NewSimulation(e.model, x0, u, p, e.logger)
	if err != nil {
		return rpt, err
	}
	fn := e.name("integrate")
	for i := 0; i < e.model.grid.N; i++ {
		reset := 0
		if i == 0 {
			reset = 1
		}
		args := []interface{}{eta, reset}
		if !e.model.grid.Equidistant() {
			args = append(args, i)
		}
		if _, err := mc.Call(fn, args...); err != nil {
			return rpt, fmt.Errorf("%w: interval %d: %v", ErrNumerical, i, err)
		}
		steps := e.StepsPerInterval(i)
		ref, err := sim.Propagate(steps*refSteps, e.h/float64(refSteps))
		if err != nil {
			return rpt, err
		}
		x := append([]float64(nil), eta[:e.nx]...)
		for c := range x {
			rpt.MaxError = math.Max(rpt.MaxError, math.Abs(x[c]-ref[c]))
		}
		rpt.States = append(rpt.States, x)
		rpt.Reference = append(rpt.Reference, ref)
	}
	e.logger.Log("level", "info", "subsys", "verify", "intervals", e.model.grid.N, "maxError", rpt.MaxError)
	return rpt, nil
}
