package main

import (
	"fmt"
	"math"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/vg"

	feedback "github.com/milosgajdos/go-feedback"
	"github.com/milosgajdos/go-feedback/config"
	"github.com/milosgajdos/go-feedback/connect"
	"github.com/milosgajdos/go-feedback/ctrl"
	"github.com/milosgajdos/go-feedback/ekf"
	"github.com/milosgajdos/go-feedback/lqr"
	"github.com/milosgajdos/go-feedback/noise"
	"github.com/milosgajdos/go-feedback/plant"
	"github.com/milosgajdos/go-feedback/sim"
)

var (
	configFile string
	plotFile   string
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fbsim",
		Short: "closed-loop estimation and control simulator",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a closed-loop scenario",
		RunE:  runScenario,
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "scenario config file")
	runCmd.Flags().StringVar(&plotFile, "plot", "", "write an x-y phase plot PNG")

	initCmd := &cobra.Command{
		Use:   "init [file]",
		Short: "write the default scenario config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Save(args[0], config.Default())
		},
	}

	rootCmd.AddCommand(runCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runScenario(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return err
		}
	}

	pvt, err := plant.NewPVTOL(cfg.Plant.Mass, cfg.Plant.Inertia, cfg.Plant.Arm, cfg.Plant.Damping, cfg.Plant.Gravity)
	if err != nil {
		return err
	}

	// hover equilibrium at the origin
	xe, ue, err := plant.Trim(pvt, plant.TrimSpec{
		X0: make([]float64, 6),
		U0: make([]float64, 2),
		Y0: make([]float64, 3),
	})
	if err != nil {
		return err
	}

	lin, err := plant.Linearize(pvt, xe, ue)
	if err != nil {
		return err
	}

	qx := mat.NewDiagDense(6, cfg.LQR.StateWeights)
	qu := mat.NewDiagDense(2, cfg.LQR.InputWeights)
	reg, err := lqr.New(lin.A, lin.B, qx, qu)
	if err != nil {
		return err
	}

	qv := mat.NewDiagDense(2, cfg.EKF.Qv)
	qwData := make([]float64, 0, 9)
	for _, row := range cfg.EKF.Qw {
		qwData = append(qwData, row...)
	}
	qw := mat.NewSymDense(3, qwData)

	dist := pvt.DisturbanceMap()
	filter, err := ekf.New(ekf.Config{Model: pvt, C: lin.C, F: dist, Qv: qv, Qw: qw})
	if err != nil {
		return err
	}

	plantBlk, err := plant.NewBlock(pvt, dist)
	if err != nil {
		return err
	}
	meas, err := connect.NewSum("y", 3, "y0", "w")
	if err != nil {
		return err
	}

	var regulator feedback.Block
	if cfg.Feedback == "state" {
		regulator, err = ctrl.New(reg.Gain(), ctrl.WithEstimateInput("x"))
	} else {
		regulator, err = ctrl.New(reg.Gain())
	}
	if err != nil {
		return err
	}

	xeSrc, err := ctrl.NewConstant("xe", xe)
	if err != nil {
		return err
	}
	ueSrc, err := ctrl.NewConstant("ue", ue)
	if err != nil {
		return err
	}

	sys, err := connect.New([]connect.Named{
		{Name: "plant", Block: plantBlk},
		{Name: "meas", Block: meas},
		{Name: "estimator", Block: filter},
		{Name: "regulator", Block: regulator},
		{Name: "xe", Block: xeSrc},
		{Name: "ue", Block: ueSrc},
	}, []string{"v", "w"}, []string{"x", "xhat", "u", "y"})
	if err != nil {
		return err
	}

	ts := grid(cfg.Sim.Duration, cfg.Sim.Samples)

	// exogenous forcing: process disturbance stacked over sensor noise
	v, err := forcing(cfg.Sim.ProcessNoise, qv, ts, cfg.Sim.Seed)
	if err != nil {
		return err
	}
	w, err := forcing(cfg.Sim.SensorNoise, qw, ts, cfg.Sim.Seed+1)
	if err != nil {
		return err
	}
	uext := mat.NewDense(5, len(ts), nil)
	uext.Slice(0, 2, 0, len(ts)).(*mat.Dense).Copy(v)
	uext.Slice(2, 5, 0, len(ts)).(*mat.Dense).Copy(w)

	// true state starts offset from the equilibrium
	xtrue := mat.NewVecDense(6, nil)
	for i := 0; i < 6; i++ {
		xtrue.SetVec(i, xe.AtVec(i)+cfg.InitOffset[i])
	}
	x0 := mat.NewVecDense(sys.StateDim(), nil)
	for i := 0; i < 6; i++ {
		x0.SetVec(i, xtrue.AtVec(i))
	}

	// the estimate is seeded from the first position fix: the initial
	// measurement fills the position states, the velocities start at the
	// equilibrium. Seeding at the equilibrium instead leaves the initial
	// error in the slowest observer modes.
	y0, err := pvt.Output(xtrue)
	if err != nil {
		return err
	}
	xhat0 := mat.VecDenseCopyOf(xe)
	for i := 0; i < 3; i++ {
		xhat0.SetVec(i, y0.AtVec(i)+uext.At(2+i, 0))
	}

	p0 := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		p0.Set(i, i, cfg.EKF.P0)
	}
	aug, err := filter.NewState(xhat0, p0)
	if err != nil {
		return err
	}
	off, _, err := sys.StateOffset("estimator")
	if err != nil {
		return err
	}
	for i := 0; i < aug.Len(); i++ {
		x0.SetVec(off+i, aug.AtVec(i))
	}

	tr, err := sim.Run(sys, ts, uext, x0, sim.WithSubsteps(cfg.Sim.Substeps))
	if err != nil {
		return err
	}

	report(cfg, reg.Gain(), tr, xe)

	if plotFile != "" {
		p, perr := sim.NewPhasePlot(tr, "x", 0, "x", 1)
		if perr != nil {
			return perr
		}
		if perr := p.Save(8*vg.Inch, 6*vg.Inch, plotFile); perr != nil {
			return perr
		}
	}

	return nil
}

func report(cfg *config.Config, k *mat.Dense, tr *sim.Trajectory, xe mat.Vector) {
	for i, label := range []string{"x [m]", "y [m]"} {
		fmt.Println(titleStyle.Render(label))
		fmt.Println(asciigraph.Plot(tr.Output("x", i),
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("t = 0 .. %gs", cfg.Sim.Duration)),
		))
		fmt.Println()
	}

	last := len(tr.Times) - 1
	var dev float64
	for i := 0; i < 6; i++ {
		d := tr.States.At(i, last) - xe.AtVec(i)
		dev += d * d
	}

	fmt.Println(titleStyle.Render("LQR gain"))
	fmt.Printf("%v\n\n", mat.Formatted(k, mat.Prefix(""), mat.Squeeze()))
	fmt.Printf("%s %s\n", titleStyle.Render("final deviation:"),
		valueStyle.Render(fmt.Sprintf("%.6g", math.Sqrt(dev))))
}

// forcing returns a sampled white noise trajectory of the given intensity,
// or a zero noise trajectory when the source is disabled.
func forcing(enabled bool, cov mat.Symmetric, ts []float64, seed uint64) (*mat.Dense, error) {
	if !enabled {
		z, err := noise.NewZero(cov.SymmetricDim())
		if err != nil {
			return nil, err
		}
		return z.Trajectory(len(ts)), nil
	}

	return noise.White(cov, ts, rand.NewSource(seed))
}

func grid(duration float64, samples int) []float64 {
	ts := make([]float64, samples)
	for i := range ts {
		ts[i] = duration * float64(i) / float64(samples-1)
	}

	return ts
}
