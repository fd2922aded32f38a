package state

// Matrix is a dense row-major float64 matrix. Row returns a live view
// into the backing array, which is what the vectorized policy stages
// operate on; the layout never reallocates after construction.
type Matrix struct {
	Rows, Cols int
	Data       []float64
}

// NewMatrix allocates a zeroed rows×cols matrix. A zero-column matrix is
// valid and occupies no storage.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// At reads one cell.
func (m *Matrix) At(r, c int) float64 {
	return m.Data[r*m.Cols+c]
}

// Set writes one cell.
func (m *Matrix) Set(r, c int, v float64) {
	m.Data[r*m.Cols+c] = v
}

// Add accumulates into one cell.
func (m *Matrix) Add(r, c int, delta float64) {
	m.Data[r*m.Cols+c] += delta
}

// Row returns the live slice for one row.
func (m *Matrix) Row(r int) []float64 {
	return m.Data[r*m.Cols : (r+1)*m.Cols]
}

// SetRow copies values into one row. len(values) must equal Cols.
func (m *Matrix) SetRow(r int, values []float64) {
	copy(m.Data[r*m.Cols:(r+1)*m.Cols], values)
}

// Fill sets every cell to v.
func (m *Matrix) Fill(v float64) {
	for i := range m.Data {
		m.Data[i] = v
	}
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	out := &Matrix{Rows: m.Rows, Cols: m.Cols, Data: make([]float64, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// CopyFrom overwrites this matrix with src's cells. Shapes must match.
func (m *Matrix) CopyFrom(src *Matrix) {
	copy(m.Data, src.Data)
}

// ColMean averages one column over all rows.
func (m *Matrix) ColMean(c int) float64 {
	if m.Rows == 0 {
		return 0
	}
	sum := 0.0
	for r := 0; r < m.Rows; r++ {
		sum += m.Data[r*m.Cols+c]
	}
	return sum / float64(m.Rows)
}
