package metric

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

// CrossEntropy returns the mean over pixels of -sum_k gt_k * log(softmax(pred)_k).
// pred holds raw scores (N, K, H, W); gt holds per-class targets of the same shape.
func CrossEntropy(pred, gt *tensor.Dense) (float64, error) {
	ps, gs := pred.Shape(), gt.Shape()
	if len(ps) != 4 || !ps.Eq(gs) {
		return 0, fmt.Errorf("cross entropy: prediction %v and ground truth %v must share an (N, K, H, W) shape", ps, gs)
	}
	p, err := Float64s(pred)
	if err != nil {
		return 0, err
	}
	g, err := Float64s(gt)
	if err != nil {
		return 0, err
	}
	n, k, plane := ps[0], ps[1], ps[2]*ps[3]
	if n*plane == 0 {
		return 0, fmt.Errorf("cross entropy: empty tensor %v", ps)
	}
	var total float64
	for s := 0; s < n; s++ {
		base := s * k * plane
		for px := 0; px < plane; px++ {
			maxV := math.Inf(-1)
			for c := 0; c < k; c++ {
				maxV = math.Max(maxV, p[base+c*plane+px])
			}
			var sum float64
			for c := 0; c < k; c++ {
				sum += math.Exp(p[base+c*plane+px] - maxV)
			}
			logZ := maxV + math.Log(sum)
			for c := 0; c < k; c++ {
				if w := g[base+c*plane+px]; w != 0 {
					total -= w * (p[base+c*plane+px] - logZ)
				}
			}
		}
	}
	return total / float64(n*plane), nil
}
