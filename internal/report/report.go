// Package report computes density and motion statistics for persisted
// batches and writes them next to the dataset.
package report

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ayusman/mudra/internal/npy"
	"github.com/ayusman/mudra/internal/vector"
)

// Report holds the statistics of one batch. Ratios are fractions in [0,1].
type Report struct {
	Rows int
	Cols int

	NonZero int
	Total   int

	GlobalRatio float64
	PerSample   []float64

	// Fluidity has one mean landmark displacement per consecutive frame
	// pair. It is empty for batches with fewer than two frames.
	Fluidity     []float64
	FluidityMean float64
	FluidityStd  float64
}

// Summarize computes the statistics of batch. The layout must match the
// batch width.
func Summarize(batch *npy.Batch, layout vector.Layout) (*Report, error) {
	codec, err := vector.NewCodec(layout)
	if err != nil {
		return nil, err
	}
	if batch.Cols != layout.Len() {
		return nil, &vector.LengthError{Expected: layout.Len(), Actual: batch.Cols}
	}

	r := &Report{
		Rows:      batch.Rows,
		Cols:      batch.Cols,
		Total:     len(batch.Data),
		NonZero:   vector.CountNonZero(batch.Data),
		PerSample: make([]float64, batch.Rows),
	}
	r.GlobalRatio = vector.NonZeroRatio(batch.Data)
	for i := 0; i < batch.Rows; i++ {
		r.PerSample[i] = vector.NonZeroRatio(batch.Row(i))
	}

	if batch.Rows < 2 {
		r.Fluidity = []float64{}
		return r, nil
	}

	r.Fluidity = make([]float64, 0, batch.Rows-1)
	prev, err := codec.Decode(batch.Row(0))
	if err != nil {
		return nil, err
	}
	for i := 1; i < batch.Rows; i++ {
		cur, err := codec.Decode(batch.Row(i))
		if err != nil {
			return nil, err
		}
		r.Fluidity = append(r.Fluidity, displacement(prev, cur))
		prev = cur
	}
	r.FluidityMean, r.FluidityStd = stat.PopMeanStdDev(r.Fluidity, nil)

	return r, nil
}

// displacement is the mean xyz distance over landmarks present in both
// frames, across all hand slots. It is 0 when no landmark is shared.
func displacement(a, b *vector.Frame) float64 {
	var sum float64
	var n int
	for slot := range a.Hands {
		for j := range a.Hands[slot] {
			pa, pb := a.Hands[slot][j], b.Hands[slot][j]
			if pa[3] == 0 || pb[3] == 0 {
				continue
			}
			sum += floats.Distance(pa[:3], pb[:3], 2)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Summary is the record written next to a batch.
type Summary struct {
	Filename              string    `json:"filename"`
	NumSamples            int       `json:"num_samples"`
	Shape                 [2]int    `json:"shape"`
	GlobalNonZero         [2]int    `json:"global_non_zero"`
	GlobalNonZeroRatio    float64   `json:"global_non_zero_ratio"`
	PerSampleNonZeroRatio []float64 `json:"per_sample_non_zero_ratio"`
}

// Record is the report written under the reports directory.
type Record struct {
	Summary
	FluidityMean      float64   `json:"fluidity_mean"`
	FluidityStd       float64   `json:"fluidity_std"`
	FluiditySeriesLen int       `json:"fluidity_series_len"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// Summary converts r to its on-disk form. Ratios become percentages.
func (r *Report) Summary(filename string) Summary {
	perSample := make([]float64, len(r.PerSample))
	for i, v := range r.PerSample {
		perSample[i] = percent(v)
	}
	return Summary{
		Filename:              filename,
		NumSamples:            r.Rows,
		Shape:                 [2]int{r.Rows, r.Cols},
		GlobalNonZero:         [2]int{r.NonZero, r.Total},
		GlobalNonZeroRatio:    percent(r.GlobalRatio),
		PerSampleNonZeroRatio: perSample,
	}
}

// Record converts r to the report record.
func (r *Report) Record(filename string, generatedAt time.Time) Record {
	return Record{
		Summary:           r.Summary(filename),
		FluidityMean:      r.FluidityMean,
		FluidityStd:       r.FluidityStd,
		FluiditySeriesLen: len(r.Fluidity),
		GeneratedAt:       generatedAt.UTC(),
	}
}

// percent rounds a fraction to a percentage with two decimals.
func percent(ratio float64) float64 {
	return math.Round(ratio*10000) / 100
}
