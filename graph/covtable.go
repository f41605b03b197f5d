package graph

import "math"

// CoverageCutoffs holds, for each total coverage level, the minimum number
// of supporting reads an allele needs before it is trusted at that depth.
// Ported from original_source/c-code/src/srma_util.c's cov_cutoffs_t.
//
// The cutoff at coverage n is the smallest count k such that the cumulative
// Binomial(n, 0.5) mass over [0, k] reaches minAlleleProb, capped at
// minAlleleCoverage. The table stops growing once a computed cutoff reaches
// minAlleleCoverage; coverage levels beyond that reuse the last entry.
type CoverageCutoffs struct {
	cutoffs     []int32
	maxCoverage int32
}

// NewCoverageCutoffs builds the cutoff table for the given target coverage
// and tail probability.
func NewCoverageCutoffs(minAlleleCoverage int32, minAlleleProb float64) *CoverageCutoffs {
	c := &CoverageCutoffs{cutoffs: []int32{0}}

	var prevRow []int32
	curCoverage := int32(1)
	lastCoverage := int32(0)
	for lastCoverage < minAlleleCoverage {
		row := make([]int32, curCoverage+1)
		for i := int32(0); i <= curCoverage; i++ {
			switch {
			case i == 0 || i == curCoverage:
				row[i] = 1
			default:
				row[i] = prevRow[i-1] + prevRow[i]
			}
		}

		p := 0.0
		p2 := math.Pow(0.5, float64(curCoverage))
		ctr := int32(-1)
		for {
			ctr++
			p += p2 * float64(row[ctr])
			if p >= minAlleleProb {
				break
			}
		}

		lastCoverage = ctr
		if minAlleleCoverage < ctr {
			c.cutoffs = append(c.cutoffs, minAlleleCoverage)
		} else {
			c.cutoffs = append(c.cutoffs, ctr)
		}
		c.maxCoverage = curCoverage

		prevRow = row
		curCoverage++
	}
	return c
}

// Get returns the minimum supporting-read cutoff at the given coverage.
func (c *CoverageCutoffs) Get(coverage int32) int32 {
	switch {
	case coverage < 0:
		return 0
	case c.maxCoverage < coverage:
		return c.cutoffs[c.maxCoverage]
	default:
		return c.cutoffs[coverage]
	}
}
</content>
