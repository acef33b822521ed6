package preproc

import (
	"fmt"
	"math"
)

// band is a set of k-points with weights summing to one and the dispersion
// at each point.
type band struct {
	weights []float64
	energy  []float64
}

func dispersion(lattice string, nk int, t, tp float64) (band, error) {
	if nk < 1 {
		return band{}, fmt.Errorf("%w: nk=%d", ErrInvalidInput, nk)
	}
	kk := func(i int) float64 { return 2 * math.Pi * float64(i) / float64(nk) }
	var b band
	switch lattice {
	case "bethe":
		var total float64
		for i := 0; i < nk; i++ {
			e := float64(2*i+1-nk) / float64(nk)
			w := math.Sqrt(1 - e*e)
			b.weights = append(b.weights, w)
			b.energy = append(b.energy, 2*t*e)
			total += w
		}
		for i := range b.weights {
			b.weights[i] /= total
		}
		return b, nil
	case "chain":
		for i := 0; i < nk; i++ {
			k := kk(i)
			b.energy = append(b.energy, 2*t*math.Cos(k)+2*tp*math.Cos(2*k))
		}
	case "square":
		for i := 0; i < nk; i++ {
			for j := 0; j < nk; j++ {
				x, y := kk(i), kk(j)
				b.energy = append(b.energy, 2*t*(math.Cos(x)+math.Cos(y))+
					2*tp*(math.Cos(x+y)+math.Cos(x-y)))
			}
		}
	case "cubic":
		for i := 0; i < nk; i++ {
			for j := 0; j < nk; j++ {
				for l := 0; l < nk; l++ {
					x, y, z := kk(i), kk(j), kk(l)
					b.energy = append(b.energy, 2*t*(math.Cos(x)+math.Cos(y)+math.Cos(z))+
						2*tp*(math.Cos(x+y)+math.Cos(x-y)+math.Cos(y+z)+math.Cos(y-z)+math.Cos(z+x)+math.Cos(z-x)))
				}
			}
		}
	default:
		return band{}, fmt.Errorf("%w: lattice %q", ErrInvalidInput, lattice)
	}
	b.weights = make([]float64, len(b.energy))
	for i := range b.weights {
		b.weights[i] = 1 / float64(len(b.energy))
	}
	return b, nil
}
