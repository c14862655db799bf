package ml

import (
	"context"
	"fmt"
)

// Attributions computes path-dependent TreeSHAP values for row of x. The
// values for each tree are averaged, so their sum plus ExpectedValue equals
// the forest probability for the row.
//
// Every node needs a positive Cover; forests exported without sample counts
// report ErrAttributionUnsupported.
func (f *Forest) Attributions(ctx context.Context, x [][]float64, row int) ([]float64, error) {
	if row < 0 || row >= len(x) {
		return nil, fmt.Errorf("row %d out of range [0, %d)", row, len(x))
	}
	if len(x[row]) != f.NFeatures {
		return nil, fmt.Errorf("row %d has %d features, model expects %d", row, len(x[row]), f.NFeatures)
	}
	if err := f.checkCover(); err != nil {
		return nil, err
	}

	phi := make([]float64, f.NFeatures)
	for i := range f.Trees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f.Trees[i].shap(x[row], phi)
	}
	for j := range phi {
		phi[j] /= float64(len(f.Trees))
	}
	return phi, nil
}

// ExpectedValue is the cover-weighted mean prediction over the training
// distribution, the base value TreeSHAP attributions are relative to.
func (f *Forest) ExpectedValue() (float64, error) {
	if err := f.checkCover(); err != nil {
		return 0, err
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].expected(0)
	}
	return sum / float64(len(f.Trees)), nil
}

func (f *Forest) checkCover() error {
	for ti, tree := range f.Trees {
		for ni, n := range tree.Nodes {
			if !(n.Cover > 0) {
				return fmt.Errorf("%w: tree %d node %d has no cover", ErrAttributionUnsupported, ti, ni)
			}
		}
	}
	return nil
}

func (t *Tree) expected(j int) float64 {
	n := t.Nodes[j]
	if n.IsLeaf() {
		return n.Value
	}
	l, r := t.Nodes[n.Left], t.Nodes[n.Right]
	return (l.Cover*t.expected(n.Left) + r.Cover*t.expected(n.Right)) / n.Cover
}

// pathElem is one feature on the decision path: the fraction of zero paths
// (cover ratio), one paths (1 if x follows the branch) and the permutation
// weight.
type pathElem struct {
	d    int
	z, o float64
	w    float64
}

func (t *Tree) shap(x, phi []float64) {
	t.recurse(0, x, phi, nil, 1, 1, -1)
}

func (t *Tree) recurse(j int, x, phi []float64, m []pathElem, pz, po float64, pi int) {
	m = extendPath(m, pz, po, pi)
	n := t.Nodes[j]

	if n.IsLeaf() {
		for i := 1; i < len(m); i++ {
			var w float64
			for _, e := range unwindPath(m, i) {
				w += e.w
			}
			phi[m[i].d] += w * (m[i].o - m[i].z) * n.Value
		}
		return
	}

	hot, cold := n.Left, n.Right
	if x[n.Feature] > n.Threshold {
		hot, cold = n.Right, n.Left
	}

	iz, io := 1.0, 1.0
	for k := 1; k < len(m); k++ {
		if m[k].d == n.Feature {
			iz, io = m[k].z, m[k].o
			m = unwindPath(m, k)
			break
		}
	}

	t.recurse(hot, x, phi, m, iz*t.Nodes[hot].Cover/n.Cover, io, n.Feature)
	t.recurse(cold, x, phi, m, iz*t.Nodes[cold].Cover/n.Cover, 0, n.Feature)
}

// extendPath returns a copy of m grown by one element.
func extendPath(m []pathElem, pz, po float64, pi int) []pathElem {
	l := len(m)
	out := make([]pathElem, l+1)
	copy(out, m)

	w := 0.0
	if l == 0 {
		w = 1
	}
	out[l] = pathElem{d: pi, z: pz, o: po, w: w}

	for i := l - 1; i >= 0; i-- {
		out[i+1].w += po * out[i].w * float64(i+1) / float64(l+1)
		out[i].w = pz * out[i].w * float64(l-i) / float64(l+1)
	}
	return out
}

// unwindPath returns a copy of m with element i removed, undoing its
// contribution to the permutation weights.
func unwindPath(m []pathElem, i int) []pathElem {
	l := len(m)
	z, o := m[i].z, m[i].o
	next := m[l-1].w

	out := make([]pathElem, l-1)
	copy(out, m[:l-1])

	for j := l - 2; j >= 0; j-- {
		if o != 0 {
			tmp := out[j].w
			out[j].w = next * float64(l) / (float64(j+1) * o)
			next = tmp - out[j].w*z*float64(l-1-j)/float64(l)
		} else {
			out[j].w = out[j].w * float64(l) / (z * float64(l-1-j))
		}
	}

	for j := i; j < l-1; j++ {
		out[j].d = m[j+1].d
		out[j].z = m[j+1].z
		out[j].o = m[j+1].o
	}
	return out
}
