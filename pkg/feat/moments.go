package feat

import (
	"math"

	"github.com/cytolabs/dcpipe/pkg/ppid"
)

// MomentNames lists the columns produced by MomentsBasedFeatures,
// excluding the "valid" flag.
var MomentNames = []string{
	"area_msd", "area_um", "pos_x", "pos_y",
	"size_x", "size_y", "aspect", "tilt",
}

// MomentsBasedFeatures computes moment-based geometry for each mask.
// pixelSize is the physical pixel edge length in µm.
//
// The returned map contains one column per MomentNames entry plus the
// mandatory "valid" column (1/0). An event is invalid when its mask is
// empty; a mask with a degenerate second-moment tensor stays valid but
// reports NaN shape descriptors.
func MomentsBasedFeatures(masks [][]bool, height, width int, pixelSize float64) map[string][]float64 {
	n := len(masks)
	out := make(map[string][]float64, len(MomentNames)+1)
	for _, name := range MomentNames {
		out[name] = make([]float64, n)
	}
	out["valid"] = make([]float64, n)

	for mi, mask := range masks {
		var (
			area                   float64
			sumX, sumY             float64
			minX, minY, maxX, maxY int
		)
		minX, minY = width, height
		maxX, maxY = -1, -1
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if !mask[y*width+x] {
					continue
				}
				area++
				sumX += float64(x)
				sumY += float64(y)
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
		if area == 0 {
			markInvalid(out, mi)
			continue
		}
		cx := sumX / area
		cy := sumY / area

		// Central second moments.
		var mu20, mu02, mu11 float64
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if !mask[y*width+x] {
					continue
				}
				dx := float64(x) - cx
				dy := float64(y) - cy
				mu20 += dx * dx
				mu02 += dy * dy
				mu11 += dx * dy
			}
		}
		mu20 /= area
		mu02 /= area
		mu11 /= area

		common := math.Sqrt((mu20-mu02)*(mu20-mu02) + 4*mu11*mu11)
		major := (mu20 + mu02 + common) / 2
		minor := (mu20 + mu02 - common) / 2

		out["area_msd"][mi] = area
		out["area_um"][mi] = area * pixelSize * pixelSize
		out["pos_x"][mi] = cx * pixelSize
		out["pos_y"][mi] = cy * pixelSize
		out["size_x"][mi] = float64(maxX-minX+1) * pixelSize
		out["size_y"][mi] = float64(maxY-minY+1) * pixelSize

		if minor <= 0 || math.IsNaN(major) {
			// Degenerate tensor (line-like or single-pixel mask). The
			// event itself stays valid; only its shape descriptors are
			// undefined.
			out["aspect"][mi] = math.NaN()
			out["tilt"][mi] = math.NaN()
		} else {
			out["aspect"][mi] = math.Sqrt(major / minor)
			tilt := 0.5 * math.Atan2(2*mu11, mu20-mu02)
			if tilt < 0 {
				tilt += math.Pi
			}
			out["tilt"][mi] = tilt
		}
		out["valid"][mi] = 1
	}
	return out
}

func markInvalid(out map[string][]float64, i int) {
	out["valid"][i] = 0
	out["aspect"][i] = math.NaN()
	out["tilt"][i] = math.NaN()
}

// extractStage describes the feature extractor for pipeline-identifier
// purposes; the keyword set mirrors the optional feature groups.
var extractStage = ppid.NewStage("legacy", []ppid.Param{
	{Name: "brightness", Default: true},
	{Name: "haralick", Default: true},
})

// ExtractorID returns the pipeline identifier of a feature extraction
// configuration, e.g. "legacy:b=1^h=1".
func ExtractorID(brightness, haralick bool) string {
	id, err := extractStage.Encode(map[string]interface{}{
		"brightness": brightness,
		"haralick":   haralick,
	})
	if err != nil {
		panic(err)
	}
	return id
}

// ExtractorStage exposes the extractor's ppid stage descriptor.
func ExtractorStage() ppid.Stage { return extractStage }
