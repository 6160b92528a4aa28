package query

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAggregateBasics(t *testing.T) {
	var a Aggregate
	for _, x := range []float64{1, 3, 4} {
		a.Update(x)
	}

	tests := []struct {
		name string
		typ  AggrType
		want float64
	}{
		{"count", AggrCount, 3},
		{"sum", AggrSum, 8},
		{"min", AggrMin, 1},
		{"max", AggrMax, 4},
		{"avg", AggrAvg, 8.0 / 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Result(tt.typ)
			if !almostEqual(got.Real, tt.want) {
				t.Errorf("Result(%v) = %v, want %v", tt.name, got.Real, tt.want)
			}
		})
	}
}

func TestAggregateVarianceAndStdev(t *testing.T) {
	var a Aggregate
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		a.Update(x)
	}
	// sample variance with n-1 normalization
	wantVar := 32.0 / 7.0
	if got := a.Result(AggrVar); !almostEqual(got.Real, wantVar) {
		t.Errorf("var = %v, want %v", got.Real, wantVar)
	}
	if got := a.Result(AggrStdev); !almostEqual(got.Real, math.Sqrt(wantVar)) {
		t.Errorf("stdev = %v, want %v", got.Real, math.Sqrt(wantVar))
	}
}

func TestAggregateStdevUnderTwoSamples(t *testing.T) {
	var a Aggregate
	a.Update(5)
	if got := a.Result(AggrStdev); got.Real != 0 {
		t.Errorf("stdev of one sample = %v, want 0", got.Real)
	}
}

func TestAggregateCovarianceAndCorrelation(t *testing.T) {
	var a Aggregate
	// perfectly linear: corr = 1
	for i := 1; i <= 5; i++ {
		a.Update2(float64(i), float64(2*i+1))
	}
	if got := a.Result(AggrCorr); !almostEqual(got.Real, 1) {
		t.Errorf("corr = %v, want 1", got.Real)
	}
	// population covariance of x=1..5 with y=2x+1 is 2*var_pop(x) = 4
	if got := a.Result(AggrCov); !almostEqual(got.Real, 4) {
		t.Errorf("cov = %v, want 4", got.Real)
	}
}

func TestAggregateAny(t *testing.T) {
	var a Aggregate
	a.UpdateAny(StringValue(""))
	a.UpdateAny(StringValue("first"))
	a.UpdateAny(StringValue("second"))
	if got := a.Result(AggrAny); got.Str != "first" {
		t.Errorf("any = %q, want %q", got.Str, "first")
	}
}

func TestAggregateEmptyCovariance(t *testing.T) {
	var a Aggregate
	if got := a.Result(AggrCov); got.Real != 0 {
		t.Errorf("cov of no samples = %v, want 0", got.Real)
	}
}
