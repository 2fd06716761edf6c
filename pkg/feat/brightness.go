package feat

import "math"

// BrightnessNames lists the columns produced by BrightnessFeatures.
var BrightnessNames = []string{
	"bright_avg", "bright_sd", "bright_bc_avg", "bright_bc_sd",
}

// BrightnessFeatures computes mean and standard deviation of the raw
// and background-corrected pixel values inside each mask.
func BrightnessFeatures(masks [][]bool, image []uint8, imageCorr []int16) map[string][]float64 {
	n := len(masks)
	out := make(map[string][]float64, len(BrightnessNames))
	for _, name := range BrightnessNames {
		out[name] = make([]float64, n)
	}

	for mi, mask := range masks {
		var (
			count        float64
			sum, sumSq   float64
			sumC, sumSqC float64
		)
		for pi, inside := range mask {
			if !inside {
				continue
			}
			count++
			v := float64(image[pi])
			sum += v
			sumSq += v * v
			c := float64(imageCorr[pi])
			sumC += c
			sumSqC += c * c
		}
		if count == 0 {
			out["bright_avg"][mi] = math.NaN()
			out["bright_sd"][mi] = math.NaN()
			out["bright_bc_avg"][mi] = math.NaN()
			out["bright_bc_sd"][mi] = math.NaN()
			continue
		}
		mean := sum / count
		meanC := sumC / count
		out["bright_avg"][mi] = mean
		out["bright_sd"][mi] = math.Sqrt(math.Max(0, sumSq/count-mean*mean))
		out["bright_bc_avg"][mi] = meanC
		out["bright_bc_sd"][mi] = math.Sqrt(math.Max(0, sumSqC/count-meanC*meanC))
	}
	return out
}
