// Package fec implements the systematic Reed-Solomon code over GF(2^8)
// used to recover lost video shards, per spec.md §4.4: "Compute FEC
// using a systematic Reed-Solomon code over GF(2^8) at the byte level,
// on equal-length shards."
package fec

import (
	"fmt"
	"sync"
)

const (
	fieldBits = 8
	fieldSize = (1 << fieldBits) - 1 // 255, the largest nonzero GF(2^8) element
	// primitivePoly is the primitive polynomial used to generate the
	// field's exponent/log tables (x^8 + x^4 + x^3 + x^2 + 1).
	primitivePoly = "101110001"
	// MaxShards is the largest data+parity shard count the 8-bit field
	// can address, matching spec.md's `255 - data_shards` clamp in §4.4.
	MaxShards = 255
)

type element = uint8

var (
	expTable  [2 * fieldSize]element
	logTable  [fieldSize + 1]int
	invTable  [fieldSize + 1]element
	mulTable  [(fieldSize + 1) * (fieldSize + 1)]element
	tableOnce sync.Once
)

func initTables() {
	tableOnce.Do(func() {
		generateExpLog()
		generateMulTable()
	})
}

func generateExpLog() {
	var mask element = 1
	expTable[fieldBits] = 0

	for i := 0; i < fieldBits; i++ {
		expTable[i] = mask
		logTable[expTable[i]] = i
		if primitivePoly[i] == '1' {
			expTable[fieldBits] ^= mask
		}
		mask <<= 1
	}
	logTable[expTable[fieldBits]] = fieldBits

	mask = 1 << (fieldBits - 1)
	for i := fieldBits + 1; i < fieldSize; i++ {
		if expTable[i-1] >= mask {
			expTable[i] = expTable[fieldBits] ^ ((expTable[i-1] ^ mask) << 1)
		} else {
			expTable[i] = expTable[i-1] << 1
		}
		logTable[expTable[i]] = i
	}
	logTable[0] = fieldSize

	for i := 0; i < fieldSize; i++ {
		expTable[i+fieldSize] = expTable[i]
	}

	invTable[0] = 0
	invTable[1] = 1
	for i := 2; i <= fieldSize; i++ {
		invTable[i] = expTable[fieldSize-logTable[i]]
	}
}

func reduceExp(x int) element {
	for x >= fieldSize {
		x -= fieldSize
		x = (x >> fieldBits) + (x & fieldSize)
	}
	return element(x)
}

func generateMulTable() {
	for i := 0; i < fieldSize+1; i++ {
		for j := 0; j < fieldSize+1; j++ {
			mulTable[(i<<8)+j] = expTable[reduceExp(logTable[i]+logTable[j])]
		}
	}
	for j := 0; j < fieldSize+1; j++ {
		mulTable[j] = 0
		mulTable[j<<8] = 0
	}
}

func mul(a, b element) element { return mulTable[(int(a)<<8)+int(b)] }

func mulRow(dst, src []element, c element) {
	if c == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	row := mulTable[int(c)<<8:]
	for i := range dst {
		dst[i] = row[src[i]]
	}
}

func mulAddRow(dst, src []element, c element) {
	if c == 0 {
		return
	}
	row := mulTable[int(c)<<8:]
	for i := range dst {
		dst[i] ^= row[src[i]]
	}
}

// Codec is a systematic Reed-Solomon encoder/decoder for a fixed
// (dataShards, fecShards) split.
type Codec struct {
	dataShards int
	fecShards  int
	total      int
	encodeRows []element // total*dataShards generator matrix
	parityRows []element // fecShards*dataShards submatrix used to encode
}

// New builds a Codec for the given data/parity shard counts. Both must
// be positive and their sum must not exceed MaxShards.
func New(dataShards, fecShards int) (*Codec, error) {
	initTables()

	total := dataShards + fecShards
	if dataShards <= 0 || fecShards <= 0 || total > MaxShards {
		return nil, fmt.Errorf("fec: invalid shard counts (data=%d fec=%d)", dataShards, fecShards)
	}

	vandermonde := make([]element, dataShards*total)
	for row := 0; row < total; row++ {
		for col := 0; col < dataShards; col++ {
			if row == col {
				vandermonde[row*dataShards+col] = 1
			}
		}
	}

	topSquare := extractRows(vandermonde, 0, dataShards, dataShards, total)
	if err := invert(topSquare, dataShards); err != nil {
		return nil, err
	}

	generator := multiplyMatrices(vandermonde, total, dataShards, topSquare, dataShards, dataShards)
	for j := 0; j < fecShards; j++ {
		for i := 0; i < dataShards; i++ {
			generator[(dataShards+j)*dataShards+i] = invTable[(fecShards+i)^j]
		}
	}

	return &Codec{
		dataShards: dataShards,
		fecShards:  fecShards,
		total:      total,
		encodeRows: generator,
		parityRows: extractRows(generator, dataShards, total, dataShards, dataShards),
	}, nil
}

// DataShards returns the configured data shard count.
func (c *Codec) DataShards() int { return c.dataShards }

// FECShards returns the configured parity shard count.
func (c *Codec) FECShards() int { return c.fecShards }

// Encode fills shards[dataShards:] with parity computed from
// shards[:dataShards]. All shards must already be the same length.
func (c *Codec) Encode(shards [][]byte) error {
	if len(shards) != c.total {
		return fmt.Errorf("fec: expected %d shards, got %d", c.total, len(shards))
	}
	size := len(shards[0])
	for _, s := range shards {
		if len(s) != size {
			return fmt.Errorf("fec: shard size mismatch")
		}
	}
	applyMatrix(c.parityRows, shards[:c.dataShards], shards[c.dataShards:], c.dataShards, c.fecShards)
	return nil
}

// Reconstruct fills in any missing data shards (present[i] == false) of
// shards[:dataShards] using whatever parity shards are present. It
// returns an error if there are not enough surviving shards to recover.
func (c *Codec) Reconstruct(shards [][]byte, present []bool) error {
	if len(shards) != c.total || len(present) != c.total {
		return fmt.Errorf("fec: expected %d shards, got %d", c.total, len(shards))
	}

	shardSize := 0
	for i, s := range shards {
		if present[i] {
			if shardSize == 0 {
				shardSize = len(s)
			} else if len(s) != shardSize {
				return fmt.Errorf("fec: shard size mismatch")
			}
		}
	}
	if shardSize == 0 {
		return fmt.Errorf("fec: no surviving shards")
	}

	var missing []int
	for i := 0; i < c.dataShards; i++ {
		if !present[i] {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var parityIdx []int
	var parityData [][]byte
	for i := c.dataShards; i < c.total && len(parityIdx) < len(missing); i++ {
		if present[i] {
			parityIdx = append(parityIdx, i-c.dataShards)
			parityData = append(parityData, shards[i])
		}
	}
	if len(parityIdx) < len(missing) {
		return fmt.Errorf("fec: not enough shards to reconstruct (need %d more)", len(missing)-len(parityIdx))
	}

	decodeMatrix := make([]element, c.dataShards*c.dataShards)
	row := 0
	survivors := make([][]byte, c.dataShards)
	mi := 0
	for i := 0; i < c.dataShards; i++ {
		if mi < len(missing) && i == missing[mi] {
			mi++
			continue
		}
		copy(decodeMatrix[row*c.dataShards:(row+1)*c.dataShards], c.encodeRows[i*c.dataShards:(i+1)*c.dataShards])
		survivors[row] = shards[i]
		row++
	}
	for i := 0; i < len(missing) && row < c.dataShards; i++ {
		parityRow := c.dataShards + parityIdx[i]
		copy(decodeMatrix[row*c.dataShards:(row+1)*c.dataShards], c.encodeRows[parityRow*c.dataShards:(parityRow+1)*c.dataShards])
		survivors[row] = parityData[i]
		row++
	}

	if err := invert(decodeMatrix, c.dataShards); err != nil {
		return err
	}

	outputs := make([][]byte, len(missing))
	recoveryRows := make([]element, len(missing)*c.dataShards)
	for i, idx := range missing {
		if shards[idx] == nil {
			shards[idx] = make([]byte, shardSize)
		}
		outputs[i] = shards[idx]
		copy(recoveryRows[i*c.dataShards:(i+1)*c.dataShards], decodeMatrix[idx*c.dataShards:(idx+1)*c.dataShards])
	}

	applyMatrix(recoveryRows, survivors, outputs, c.dataShards, len(missing))
	return nil
}

// applyMatrix computes outputs = matrixRows * inputs over GF(2^8),
// where matrixRows has len(outputs) rows of dataShards columns each.
func applyMatrix(matrixRows []element, inputs, outputs [][]byte, dataShards, outputCount int) {
	for col := 0; col < dataShards; col++ {
		in := inputs[col]
		for r := 0; r < outputCount; r++ {
			if col == 0 {
				mulRow(outputs[r], in, matrixRows[r*dataShards+col])
			} else {
				mulAddRow(outputs[r], in, matrixRows[r*dataShards+col])
			}
		}
	}
}

func extractRows(m []element, rowStart, rowEnd, ncols, fullNCols int) []element {
	out := make([]element, (rowEnd-rowStart)*ncols)
	ptr := 0
	for r := rowStart; r < rowEnd; r++ {
		for c := 0; c < ncols; c++ {
			out[ptr] = m[r*fullNCols+c]
			ptr++
		}
	}
	return out
}

func multiplyMatrices(a []element, ar, ac int, b []element, br, bc int) []element {
	if ac != br {
		return nil
	}
	out := make([]element, ar*bc)
	for r := 0; r < ar; r++ {
		for c := 0; c < bc; c++ {
			var v element
			for i := 0; i < ac; i++ {
				v ^= mul(a[r*ac+i], b[i*bc+c])
			}
			out[r*bc+c] = v
		}
	}
	return out
}

// invert performs Gauss-Jordan elimination over GF(2^8) in place.
func invert(m []element, k int) error {
	colIdx := make([]int, k)
	rowIdx := make([]int, k)
	pivoted := make([]int, k)
	identityRow := make([]element, k)

	for col := 0; col < k; col++ {
		irow, icol := -1, -1
		if pivoted[col] != 1 && m[col*k+col] != 0 {
			irow, icol = col, col
		} else {
			for r := 0; r < k && icol == -1; r++ {
				if pivoted[r] != 1 {
					for c := 0; c < k; c++ {
						if pivoted[c] == 0 && m[r*k+c] != 0 {
							irow, icol = r, c
							break
						}
					}
				}
			}
		}
		if icol == -1 {
			return fmt.Errorf("fec: singular matrix")
		}
		pivoted[icol]++

		if irow != icol {
			for c := 0; c < k; c++ {
				m[irow*k+c], m[icol*k+c] = m[icol*k+c], m[irow*k+c]
			}
		}
		rowIdx[col], colIdx[col] = irow, icol

		pivotRow := m[icol*k : (icol+1)*k]
		pivot := pivotRow[icol]
		if pivot == 0 {
			return fmt.Errorf("fec: singular matrix")
		}
		if pivot != 1 {
			inv := invTable[pivot]
			pivotRow[icol] = 1
			for c := 0; c < k; c++ {
				pivotRow[c] = mul(inv, pivotRow[c])
			}
		}

		identityRow[icol] = 1
		isIdentity := true
		for c := 0; c < k; c++ {
			if pivotRow[c] != identityRow[c] {
				isIdentity = false
				break
			}
		}
		if !isIdentity {
			for r := 0; r < k; r++ {
				if r == icol {
					continue
				}
				targetRow := m[r*k : (r+1)*k]
				factor := targetRow[icol]
				targetRow[icol] = 0
				mulAddRow(targetRow, pivotRow, factor)
			}
		}
		identityRow[icol] = 0
	}

	for col := k - 1; col >= 0; col-- {
		if rowIdx[col] != colIdx[col] {
			for r := 0; r < k; r++ {
				m[r*k+rowIdx[col]], m[r*k+colIdx[col]] = m[r*k+colIdx[col]], m[r*k+rowIdx[col]]
			}
		}
	}
	return nil
}
