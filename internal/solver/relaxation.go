package solver

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// ErrTooLarge is returned by Relaxation for problems whose dense LP would
// exceed maxRelaxationCells.
var ErrTooLarge = errors.New("solver: problem too large for the relaxation")

const maxRelaxationCells = 4_000_000

// Relaxation solves the LP relaxation of p: structures and options may be
// fractionally selected. An infeasible relaxation proves p infeasible; a
// feasible one proves nothing. Errors other than ErrTooLarge come from the
// simplex method and are inconclusive.
//
// Variables are one x per structure, one y per option and the two
// dynamic-memory maxima dS and dC. Rows:
//
//	0 <= x <= 1, y >= 0, dS >= 0, dC >= 0
//	sum y over a group >= 1
//	y <= x for each structure of the option
//	dynamic memory of each group and side <= d
//	memory bound over static x and d
//
// Memory is scaled by the largest structure to keep the tableau well
// conditioned.
func Relaxation(p *Problem) (bool, error) {
	if len(p.Structures) == 0 {
		return true, nil
	}
	if p.Bound.Ratio > 0 && (p.Bound.Budget.Server <= 0 || p.Bound.Budget.Client <= 0) {
		return false, errors.New("solver: ratio bound over an empty budget")
	}

	nx := len(p.Structures)
	yAt := make([][]int, len(p.Groups))
	ny := 0
	for gi, g := range p.Groups {
		yAt[gi] = make([]int, len(g.Options))
		for o := range g.Options {
			yAt[gi][o] = nx + ny
			ny++
		}
	}
	dS, dC := nx+ny, nx+ny+1
	nvar := nx + ny + 2

	scale := 1.0
	for _, s := range p.Structures {
		scale = math.Max(scale, s.Memory)
	}

	var rows [][]float64
	var h []float64
	row := func() []float64 {
		r := make([]float64, nvar)
		rows = append(rows, r)
		return r
	}

	for i := range p.Structures {
		row()[i] = 1
		h = append(h, 1)
		row()[i] = -1
		h = append(h, 0)
	}
	for gi, g := range p.Groups {
		r := row()
		for o := range g.Options {
			r[yAt[gi][o]] = -1
		}
		h = append(h, -1)
		for o, opt := range g.Options {
			row()[yAt[gi][o]] = -1
			h = append(h, 0)
			for _, si := range opt.Structures {
				r := row()
				r[yAt[gi][o]] = 1
				r[si] = -1
				h = append(h, 0)
			}
		}
		server, client := row(), row()
		server[dS], client[dC] = -1, -1
		h = append(h, 0, 0)
		for _, si := range g.dynamic {
			s := p.Structures[si]
			if s.AtServer {
				server[si] = s.Memory / scale
			} else {
				client[si] = s.Memory / scale
			}
		}
	}
	row()[dS] = -1
	row()[dC] = -1
	h = append(h, 0, 0)

	staticRow := func(r []float64, weightServer, weightClient float64) {
		for i, s := range p.Structures {
			if !s.Static {
				continue
			}
			if s.AtServer {
				r[i] = s.Memory / scale * weightServer
			} else {
				r[i] = s.Memory / scale * weightClient
			}
		}
		r[dS] = weightServer
		r[dC] = weightClient
	}
	if p.Bound.Ratio > 0 {
		staticRow(row(), scale/p.Bound.Budget.Server, scale/p.Bound.Budget.Client)
		h = append(h, p.Bound.Ratio)
	} else {
		alpha := p.Bound.Alpha
		if alpha <= 0 {
			alpha = 1
		}
		staticRow(row(), alpha, 0)
		h = append(h, p.Bound.Budget.Server/scale)
		staticRow(row(), 0, alpha)
		h = append(h, p.Bound.Budget.Client/scale)
	}

	// Convert splits every variable into two and adds a slack per row.
	if len(rows)*(2*nvar+len(rows)) > maxRelaxationCells {
		return false, ErrTooLarge
	}

	g := mat.NewDense(len(rows), nvar, nil)
	for i, r := range rows {
		g.SetRow(i, r)
	}
	c := make([]float64, nvar)
	cStd, aStd, bStd := lp.Convert(c, g, h, nil, nil)
	_, _, err := lp.Simplex(cStd, aStd, bStd, 1e-10, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, lp.ErrInfeasible):
		return false, nil
	default:
		return false, err
	}
}
