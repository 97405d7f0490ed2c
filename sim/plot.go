package sim

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
)

var palette = []color.RGBA{
	{R: 255, B: 128, A: 255},
	{G: 155, B: 50, A: 255},
	{R: 90, G: 90, B: 200, A: 255},
	{R: 169, G: 169, B: 169, A: 255},
}

// NewTimePlot creates a plot of the named trajectory output signals
// against time. It returns error if the trajectory is nil, a name is
// unknown or gonum plot fails to be created.
func NewTimePlot(tr *Trajectory, names ...string) (*plot.Plot, error) {
	if tr == nil || len(names) == 0 {
		return nil, fmt.Errorf("invalid plot data supplied")
	}

	p := plot.New()
	p.Title.Text = "Simulation"
	p.X.Label.Text = "t"
	p.Legend.Top = true

	for i, name := range names {
		data := tr.Output(name, 0)
		if data == nil {
			return nil, fmt.Errorf("unknown output signal: %q", name)
		}

		pts := make(plotter.XYs, len(tr.Times))
		for j := range pts {
			pts[j].X = tr.Times[j]
			pts[j].Y = data[j]
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to create line: %v", err)
		}
		line.Color = palette[i%len(palette)]

		p.Add(line)
		p.Legend.Add(name, line)
	}

	return p, nil
}

// NewPhasePlot creates a plot of one trajectory output signal element
// against another, e.g. the x-y plane trace of a vehicle.
func NewPhasePlot(tr *Trajectory, xName string, xi int, yName string, yi int) (*plot.Plot, error) {
	if tr == nil {
		return nil, fmt.Errorf("invalid plot data supplied")
	}

	xs := tr.Output(xName, xi)
	ys := tr.Output(yName, yi)
	if xs == nil || ys == nil {
		return nil, fmt.Errorf("unknown output signals: %q, %q", xName, yName)
	}

	p := plot.New()
	p.Title.Text = "Phase plot"
	p.X.Label.Text = xName
	p.Y.Label.Text = yName

	pts := make(plotter.XYs, len(tr.Times))
	for i := range pts {
		pts[i].X = xs[i]
		pts[i].Y = ys[i]
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to create line: %v", err)
	}
	line.Color = palette[0]
	p.Add(line)

	return p, nil
}
