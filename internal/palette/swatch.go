package palette

import (
	"image"
	"math"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

const (
	defaultSwatches = 16

	// maxSamples bounds how many pixels are read from one image.
	maxSamples = 4096

	weightSaturation = 3.0
	weightLuma       = 6.5
	weightPopulation = 0.5
)

// swatch is a colour with the number of sampled pixels it stands for.
type swatch struct {
	r, g, b    float64 // 0..255
	population int
}

func (s swatch) hex() string {
	return formatHex(uint8(math.Round(s.r)), uint8(math.Round(s.g)), uint8(math.Round(s.b)))
}

// target describes one named swatch in HSL terms.
type target struct {
	minSat, idealSat, maxSat    float64
	minLuma, idealLuma, maxLuma float64
}

var (
	vibrant     = target{minSat: 0.35, idealSat: 1, maxSat: 1, minLuma: 0.3, idealLuma: 0.5, maxLuma: 0.7}
	darkVibrant = target{minSat: 0.35, idealSat: 1, maxSat: 1, minLuma: 0, idealLuma: 0.26, maxLuma: 0.45}
	muted       = target{minSat: 0, idealSat: 0.3, maxSat: 0.4, minLuma: 0.3, idealLuma: 0.5, maxLuma: 0.7}
)

// bucketObservation is a quantized colour bucket fed to k-means.
type bucketObservation struct {
	coords clusters.Coordinates
	sw     swatch
}

func (o bucketObservation) Coordinates() clusters.Coordinates {
	return o.coords
}

func (o bucketObservation) Distance(point clusters.Coordinates) float64 {
	return o.coords.Distance(point)
}

// Dominant picks the Vibrant swatch of img, then Muted, then DarkVibrant, and
// returns it as "#rrggbb". ok is false when none qualifies.
func Dominant(img image.Image, k int) (string, bool) {
	swatches := extractSwatches(img, k)
	if len(swatches) == 0 {
		return "", false
	}

	maxPop := 0
	for _, s := range swatches {
		maxPop = max(maxPop, s.population)
	}

	used := make(map[int]bool)
	v, vok := best(swatches, vibrant, maxPop, used)
	dv, dvok := best(swatches, darkVibrant, maxPop, used)
	m, mok := best(swatches, muted, maxPop, used)

	// Derive a missing vibrant from its dark sibling.
	if !vok && dvok {
		h, s, _ := toHSL(dv)
		v, vok = fromHSL(h, s, vibrant.idealLuma), true
	}

	switch {
	case vok:
		return v.hex(), true
	case mok:
		return m.hex(), true
	case dvok:
		return dv.hex(), true
	}
	return "", false
}

// extractSwatches samples img into 5-bit colour buckets. When there are more
// buckets than k they are grouped with k-means.
func extractSwatches(img image.Image, k int) []swatch {
	buckets := quantize(img)
	if len(buckets) <= k {
		return buckets
	}

	var obs clusters.Observations
	for _, b := range buckets {
		obs = append(obs, bucketObservation{
			coords: clusters.Coordinates{b.r / 255, b.g / 255, b.b / 255},
			sw:     b,
		})
	}

	result, err := kmeans.New().Partition(obs, k)
	if err != nil {
		return buckets
	}

	var out []swatch
	for _, cluster := range result {
		var merged swatch
		for _, o := range cluster.Observations {
			bo, ok := o.(bucketObservation)
			if !ok {
				continue
			}
			w := float64(bo.sw.population)
			merged.r += bo.sw.r * w
			merged.g += bo.sw.g * w
			merged.b += bo.sw.b * w
			merged.population += bo.sw.population
		}
		if merged.population == 0 {
			continue
		}
		p := float64(merged.population)
		merged.r /= p
		merged.g /= p
		merged.b /= p
		out = append(out, merged)
	}
	return out
}

// quantize averages sampled pixels per 5-bit-per-channel bucket. Mostly
// transparent and near-white pixels are ignored.
func quantize(img image.Image) []swatch {
	bounds := img.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return nil
	}
	step := max(1, int(math.Ceil(math.Sqrt(float64(total)/maxSamples))))

	type acc struct {
		r, g, b float64
		n       int
	}
	sums := make(map[uint16]*acc)
	var order []uint16

	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			r16, g16, b16, a16 := img.At(x, y).RGBA()
			if a16>>8 < 125 {
				continue
			}
			r, g, b := r16>>8, g16>>8, b16>>8
			if r > 250 && g > 250 && b > 250 {
				continue
			}

			key := uint16(r>>3)<<10 | uint16(g>>3)<<5 | uint16(b>>3)
			a, ok := sums[key]
			if !ok {
				a = &acc{}
				sums[key] = a
				order = append(order, key)
			}
			a.r += float64(r)
			a.g += float64(g)
			a.b += float64(b)
			a.n++
		}
	}

	out := make([]swatch, 0, len(order))
	for _, key := range order {
		a := sums[key]
		n := float64(a.n)
		out = append(out, swatch{r: a.r / n, g: a.g / n, b: a.b / n, population: a.n})
	}
	return out
}

// best returns the highest scoring unused swatch inside t's ranges.
func best(swatches []swatch, t target, maxPop int, used map[int]bool) (swatch, bool) {
	bestIdx := -1
	bestScore := 0.0
	for i, s := range swatches {
		if used[i] {
			continue
		}
		_, sat, luma := toHSL(s)
		if sat < t.minSat || sat > t.maxSat || luma < t.minLuma || luma > t.maxLuma {
			continue
		}
		score := weightSaturation*(1-math.Abs(sat-t.idealSat)) +
			weightLuma*(1-math.Abs(luma-t.idealLuma)) +
			weightPopulation*float64(s.population)/float64(maxPop)
		score /= weightSaturation + weightLuma + weightPopulation
		if bestIdx < 0 || score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	if bestIdx < 0 {
		return swatch{}, false
	}
	used[bestIdx] = true
	return swatches[bestIdx], true
}

// toHSL returns hue, saturation and lightness, each in 0..1.
func toHSL(s swatch) (h, sat, l float64) {
	r, g, b := s.r/255, s.g/255, s.b/255
	hi := max(r, g, b)
	lo := min(r, g, b)
	l = (hi + lo) / 2
	if hi == lo {
		return 0, 0, l
	}

	d := hi - lo
	if l > 0.5 {
		sat = d / (2 - hi - lo)
	} else {
		sat = d / (hi + lo)
	}

	switch hi {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	return h / 6, sat, l
}

func fromHSL(h, s, l float64) swatch {
	if s == 0 {
		return swatch{r: l * 255, g: l * 255, b: l * 255}
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return swatch{
		r: hueToChannel(p, q, h+1.0/3) * 255,
		g: hueToChannel(p, q, h) * 255,
		b: hueToChannel(p, q, h-1.0/3) * 255,
	}
}

func hueToChannel(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}
