package preprocess

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/goguard/pkg/matrix"
)

func flowTable() Table {
	return Table{
		Columns: []string{"dur", "proto", "state"},
		Rows: [][]string{
			{"0.5", "tcp", "FIN"},
			{"1.5", "udp", "CON"},
			{"?", "tcp", "INT"},
			{"2", "", "FIN"},
		},
	}
}

func TestEncoderLabel(t *testing.T) {
	e := NewEncoder()
	data, err := e.FitTransform(flowTable())
	require.NoError(t, err)

	encs := e.Encodings()
	require.Len(t, encs, 3)
	assert.Equal(t, Numeric, encs[0].Kind)
	assert.Equal(t, Label, encs[1].Kind)
	assert.Equal(t, []string{"tcp", "udp"}, encs[1].Categories)
	assert.Equal(t, []string{"CON", "FIN", "INT"}, encs[2].Categories)
	assert.Equal(t, []string{"dur", "proto", "state"}, e.Columns())

	require.Len(t, data, 4)
	assert.Equal(t, []float64{0.5, 0, 1}, data[0])
	assert.Equal(t, []float64{1.5, 1, 0}, data[1])
	assert.True(t, math.IsNaN(data[2][0]))
	assert.True(t, math.IsNaN(data[3][1]))
}

func TestEncoderOneHot(t *testing.T) {
	tbl := Table{Columns: []string{"service"}}
	for i := 0; i < 4; i++ {
		tbl.Rows = append(tbl.Rows, []string{fmt.Sprintf("svc%d", i)})
	}
	tbl.Rows = append(tbl.Rows, []string{"NA"})

	e := NewEncoder(WithMaxLabelCategories(3))
	data, err := e.FitTransform(tbl)
	require.NoError(t, err)

	assert.Equal(t, OneHot, e.Encodings()[0].Kind)
	assert.Equal(t, []string{"service_svc1", "service_svc2", "service_svc3"}, e.Columns())
	assert.Equal(t, []float64{0, 0, 0}, data[0])
	assert.Equal(t, []float64{0, 1, 0}, data[2])
	for _, v := range data[4] {
		assert.True(t, math.IsNaN(v))
	}

	decoded, err := e.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"svc0"}, decoded.Rows[0])
	assert.Equal(t, []string{"svc2"}, decoded.Rows[2])
	assert.Equal(t, []string{""}, decoded.Rows[4])
}

func TestEncoderDecodeImputedCodes(t *testing.T) {
	e := NewEncoder()
	data, err := e.FitTransform(flowTable())
	require.NoError(t, err)

	// imputed cells carry fractional or out-of-range codes
	data[2][0] = 1.25
	data[3][1] = 0.4
	data[0][2] = 7

	decoded, err := e.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"dur", "proto", "state"}, decoded.Columns)
	assert.Equal(t, []string{"0.5", "tcp", "INT"}, decoded.Rows[0])
	assert.Equal(t, []string{"1.25", "tcp", "INT"}, decoded.Rows[2])
	assert.Equal(t, []string{"2", "tcp", "FIN"}, decoded.Rows[3])
}

func TestEncoderErrors(t *testing.T) {
	e := NewEncoder()
	_, err := e.Transform(flowTable())
	assert.ErrorIs(t, err, matrix.ErrNotFitted)

	err = e.Fit(Table{Columns: []string{"a", "b"}, Rows: [][]string{{"1"}}})
	assert.ErrorIs(t, err, matrix.ErrData)

	require.NoError(t, e.Fit(flowTable()))
	_, err = e.Decode([][]float64{{1, 2}})
	assert.ErrorIs(t, err, matrix.ErrData)
}

func TestEncoderUnseenCategory(t *testing.T) {
	e := NewEncoder()
	require.NoError(t, e.Fit(flowTable()))

	data, err := e.Transform(Table{
		Columns: []string{"dur", "proto", "state"},
		Rows:    [][]string{{"1", "icmp", "FIN"}},
	})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(data[0][1]))
	assert.Equal(t, 1.0, data[0][2])
}

func TestStandardScaler(t *testing.T) {
	data := [][]float64{
		{1, 5, 10},
		{3, 5, math.NaN()},
		{5, 5, 30},
	}

	var s StandardScaler
	out, err := s.FitTransform(data)
	require.NoError(t, err)

	assert.InDelta(t, 3.0, s.Mean[0], 1e-12)
	assert.InDelta(t, math.Sqrt(8.0/3.0), s.Std[0], 1e-12)
	assert.Equal(t, 1.0, s.Std[1], "constant column keeps unit std")
	assert.InDelta(t, 20.0, s.Mean[2], 1e-12)

	assert.InDelta(t, 0.0, out[1][0], 1e-12)
	assert.Equal(t, []float64{0, 0, 0}, []float64{out[0][1], out[1][1], out[2][1]})
	assert.True(t, math.IsNaN(out[1][2]))
	assert.InDelta(t, -1.0, out[0][2], 1e-12)

	back, err := s.InverseTransform(out)
	require.NoError(t, err)
	for i := range data {
		for j := range data[i] {
			if math.IsNaN(data[i][j]) {
				continue
			}
			assert.InDelta(t, data[i][j], back[i][j], 1e-9)
		}
	}

	_, err = s.Transform([][]float64{{1, 2}})
	assert.ErrorIs(t, err, matrix.ErrData)

	var unfitted StandardScaler
	_, err = unfitted.Transform(data)
	assert.ErrorIs(t, err, matrix.ErrNotFitted)
}

func TestSplitColumn(t *testing.T) {
	tbl := Table{
		Columns: []string{"a", "label", "b"},
		Rows:    [][]string{{"1", "0", "2"}, {"3", "1", "4"}},
	}

	rest, col, ok := SplitColumn(tbl, "label")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, rest.Columns)
	assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}}, rest.Rows)
	assert.Equal(t, []string{"0", "1"}, col)
	assert.Equal(t, []string{"a", "label", "b"}, tbl.Columns)

	_, _, ok = SplitColumn(tbl, "missing")
	assert.False(t, ok)
}
