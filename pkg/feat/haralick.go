package feat

import (
	"errors"
	"math"
)

// texBases are the Haralick statistics reported by
// HaralickTextureFeatures, each as an average and a peak-to-peak value
// over the four co-occurrence directions. Sum average (feature 6) is
// excluded because it duplicates the corrected brightness mean, and
// difference variance (feature 10) because it depends functionally on
// the grayscale offset.
var texBases = []string{
	"tex_asm", "tex_con", "tex_cor", "tex_var", "tex_idm",
	"tex_sva", "tex_sen", "tex_ent", "tex_den", "tex_f12", "tex_f13",
}

// TextureNames lists the columns produced by HaralickTextureFeatures.
var TextureNames = func() []string {
	names := make([]string, 0, 2*len(texBases))
	for _, b := range texBases {
		names = append(names, b+"_avg")
	}
	for _, b := range texBases {
		names = append(names, b+"_ptp")
	}
	return names
}()

// errEmptyMatrix signals an all-zero co-occurrence matrix, e.g. for a
// one-pixel-wide line mask where a direction has no valid pixel pairs.
var errEmptyMatrix = errors.New("feat: empty co-occurrence matrix")

// glcmDirections are the four standard co-occurrence offsets (dy, dx).
var glcmDirections = [4][2]int{{0, 1}, {1, 1}, {1, 0}, {1, -1}}

// Indices into the 13-feature Haralick vector for the reported bases.
var texPick = []int{0, 1, 2, 3, 4, 6, 7, 8, 10, 11, 12}

// HaralickTextureFeatures computes texture statistics for each mask
// over the background-corrected image.
//
// Pixel values are shifted by the in-mask minimum plus one so they are
// strictly positive, and pixels outside the mask are set to zero and
// ignored when accumulating co-occurrence pairs. A mask whose
// co-occurrence matrices are empty keeps NaN in all texture columns;
// the rest of the batch is unaffected.
func HaralickTextureFeatures(masks [][]bool, imageCorr []int16, height, width int) map[string][]float64 {
	n := len(masks)
	out := make(map[string][]float64, len(TextureNames))
	for _, name := range TextureNames {
		col := make([]float64, n)
		for i := range col {
			col[i] = math.NaN()
		}
		out[name] = col
	}

	gray := make([]uint8, height*width)
	for mi, mask := range masks {
		if !shiftMasked(gray, mask, imageCorr) {
			continue // empty mask
		}
		feats, err := haralickMeanPtp(gray, height, width)
		if err != nil {
			// Degenerate co-occurrence matrix: keep the NaN sentinels.
			continue
		}
		for bi, base := range texBases {
			out[base+"_avg"][mi] = feats[0][texPick[bi]]
			out[base+"_ptp"][mi] = feats[1][texPick[bi]]
		}
	}
	return out
}

// shiftMasked fills gray with (corr - min + 1) inside the mask and 0
// outside. Returns false when the mask has no pixels.
func shiftMasked(gray []uint8, mask []bool, corr []int16) bool {
	minval := int16(math.MaxInt16)
	any := false
	for pi, inside := range mask {
		if inside {
			any = true
			if corr[pi] < minval {
				minval = corr[pi]
			}
		}
	}
	if !any {
		return false
	}
	for pi := range gray {
		if mask[pi] {
			v := int(corr[pi]) - int(minval) + 1
			if v > 255 {
				v = 255
			}
			gray[pi] = uint8(v)
		} else {
			gray[pi] = 0
		}
	}
	return true
}

// haralickMeanPtp computes the 13 Haralick features per direction and
// reduces them to (mean, ptp) over the four directions. Zero-valued
// pixels are ignored when accumulating pairs.
func haralickMeanPtp(gray []uint8, height, width int) ([2][13]float64, error) {
	var reduced [2][13]float64

	maxv := 0
	for _, v := range gray {
		if int(v) > maxv {
			maxv = int(v)
		}
	}
	if maxv == 0 {
		return reduced, errEmptyMatrix
	}
	levels := maxv + 1

	var perDir [4][13]float64
	for di, dir := range glcmDirections {
		cmat, total := cooccurrence(gray, height, width, levels, dir[0], dir[1])
		if total == 0 {
			return reduced, errEmptyMatrix
		}
		perDir[di] = haralickFeatures(cmat, levels, total)
	}

	for fi := 0; fi < 13; fi++ {
		lo, hi := perDir[0][fi], perDir[0][fi]
		sum := 0.0
		for di := 0; di < 4; di++ {
			v := perDir[di][fi]
			sum += v
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		reduced[0][fi] = sum / 4
		reduced[1][fi] = hi - lo
	}
	return reduced, nil
}

// cooccurrence accumulates the symmetric grey-level co-occurrence
// matrix for one direction, skipping pairs that touch a zero pixel.
func cooccurrence(gray []uint8, height, width, levels, dy, dx int) ([]float64, float64) {
	cmat := make([]float64, levels*levels)
	total := 0.0
	for y := 0; y < height; y++ {
		y2 := y + dy
		if y2 < 0 || y2 >= height {
			continue
		}
		for x := 0; x < width; x++ {
			x2 := x + dx
			if x2 < 0 || x2 >= width {
				continue
			}
			a := gray[y*width+x]
			b := gray[y2*width+x2]
			if a == 0 || b == 0 {
				continue
			}
			cmat[int(a)*levels+int(b)]++
			cmat[int(b)*levels+int(a)]++
			total += 2
		}
	}
	return cmat, total
}

// haralickFeatures evaluates the 13 classic statistics on one
// normalized co-occurrence matrix.
func haralickFeatures(cmat []float64, levels int, total float64) [13]float64 {
	var f [13]float64

	p := make([]float64, len(cmat))
	for i, v := range cmat {
		p[i] = v / total
	}

	px := make([]float64, levels)
	py := make([]float64, levels)
	pxy := make([]float64, 2*levels)   // p_{x+y}, index i+j
	pxmy := make([]float64, levels)    // p_{|x-y|}
	for i := 0; i < levels; i++ {
		for j := 0; j < levels; j++ {
			v := p[i*levels+j]
			px[i] += v
			py[j] += v
			pxy[i+j] += v
			d := i - j
			if d < 0 {
				d = -d
			}
			pxmy[d] += v
		}
	}

	var meanX, meanY, varX, varY float64
	for i := 0; i < levels; i++ {
		meanX += float64(i) * px[i]
		meanY += float64(i) * py[i]
	}
	for i := 0; i < levels; i++ {
		varX += (float64(i) - meanX) * (float64(i) - meanX) * px[i]
		varY += (float64(i) - meanY) * (float64(i) - meanY) * py[i]
	}

	// f1 ASM, f2 contrast, f3 correlation, f4 variance, f5 IDM, f9 entropy.
	var corrNum float64
	for i := 0; i < levels; i++ {
		for j := 0; j < levels; j++ {
			v := p[i*levels+j]
			f[0] += v * v
			d := float64(i - j)
			f[1] += d * d * v
			corrNum += float64(i) * float64(j) * v
			f[3] += (float64(i) - meanX) * (float64(i) - meanX) * v
			f[4] += v / (1 + d*d)
			if v > 0 {
				f[8] -= v * math.Log(v)
			}
		}
	}
	if varX > 0 && varY > 0 {
		f[2] = (corrNum - meanX*meanY) / math.Sqrt(varX*varY)
	}

	// f6 sum average, f7 sum variance, f8 sum entropy.
	for k, v := range pxy {
		f[5] += float64(k) * v
	}
	for k, v := range pxy {
		f[6] += (float64(k) - f[5]) * (float64(k) - f[5]) * v
		if v > 0 {
			f[7] -= v * math.Log(v)
		}
	}

	// f10 difference variance, f11 difference entropy.
	var dmean float64
	for k, v := range pxmy {
		dmean += float64(k) * v
	}
	for k, v := range pxmy {
		f[9] += (float64(k) - dmean) * (float64(k) - dmean) * v
		if v > 0 {
			f[10] -= v * math.Log(v)
		}
	}

	// f12, f13 information measures of correlation.
	var hx, hy, hxy1, hxy2 float64
	for i := 0; i < levels; i++ {
		if px[i] > 0 {
			hx -= px[i] * math.Log(px[i])
		}
		if py[i] > 0 {
			hy -= py[i] * math.Log(py[i])
		}
	}
	for i := 0; i < levels; i++ {
		for j := 0; j < levels; j++ {
			v := p[i*levels+j]
			q := px[i] * py[j]
			if q > 0 {
				hxy2 -= q * math.Log(q)
				if v > 0 {
					hxy1 -= v * math.Log(q)
				}
			}
		}
	}
	hmax := math.Max(hx, hy)
	if hmax > 0 {
		f[11] = (f[8] - hxy1) / hmax
	}
	arg := 1 - math.Exp(-2*(hxy2-f[8]))
	if arg > 0 {
		f[12] = math.Sqrt(arg)
	}
	return f
}
