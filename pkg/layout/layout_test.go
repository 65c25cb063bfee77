package layout

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/matnpu/pkg/dtype"
)

func int16Matrix(rows, cols int) []byte {
	buf := make([]byte, 2*rows*cols)
	for i := range rows * cols {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(i+1))
	}
	return buf
}

func TestByteSizePadsToTiles(t *testing.T) {
	got, err := ByteSize(PerformanceLayout(4), dtype.Float16, 5, 3)
	require.NoError(t, err)
	require.Equal(t, 8*3*2, got)

	got, err = ByteSize(NativeLayout(32, 16), dtype.Float16, 20, 40)
	require.NoError(t, err)
	require.Equal(t, 2*2*32*16*2, got)

	got, err = ByteSize(NormalLayout(), dtype.Int4, 3, 3)
	require.NoError(t, err)
	require.Equal(t, 5, got)

	_, err = ByteSize(PerformanceLayout(0), dtype.Int8, 2, 2)
	require.ErrorIs(t, err, ErrBadTile)
	_, err = ByteSize(NormalLayout(), dtype.Int8, 0, 2)
	require.ErrorIs(t, err, ErrBadShape)
}

func TestPerformanceIndexing(t *testing.T) {
	// 3x2 matrix, tile of 2 rows: tile 0 holds rows 0-1, tile 1 holds row 2 plus padding.
	src := []byte{1, 2, 3, 4, 5, 6}
	dst := make([]byte, 8)
	require.NoError(t, NormalToPerformance(dst, src, dtype.Int8, 3, 2, 2))
	require.Equal(t, []byte{1, 3, 2, 4, 5, 0, 6, 0}, dst)
}

func TestPerformanceRoundTrip(t *testing.T) {
	for _, tc := range []struct{ rows, cols, tile int }{
		{4, 4, 4}, {5, 3, 4}, {1, 7, 8}, {17, 9, 16}, {6, 6, 1},
	} {
		src := int16Matrix(tc.rows, tc.cols)
		size, err := ByteSize(PerformanceLayout(tc.tile), dtype.Int16, tc.rows, tc.cols)
		require.NoError(t, err)
		tiled := make([]byte, size)
		for i := range tiled {
			tiled[i] = 0xff
		}
		require.NoError(t, NormalToPerformance(tiled, src, dtype.Int16, tc.rows, tc.cols, tc.tile))

		// Rows beyond the matrix must read as zero.
		for r := tc.rows; r < ceilDiv(tc.rows, tc.tile)*tc.tile; r++ {
			for c := range tc.cols {
				i := perfIndex(r, c, tc.cols, tc.tile)
				require.Zero(t, binary.LittleEndian.Uint16(tiled[2*i:]), "pad at row %d col %d", r, c)
			}
		}

		back := make([]byte, len(src))
		require.NoError(t, PerformanceToNormal(back, tiled, dtype.Int16, tc.rows, tc.cols, tc.tile))
		require.Equal(t, src, back, "rows=%d cols=%d tile=%d", tc.rows, tc.cols, tc.tile)
	}
}

func TestNativeRoundTrip(t *testing.T) {
	for _, tc := range []struct{ k, n, tileN, tileK int }{
		{32, 32, 16, 32}, {33, 17, 16, 32}, {5, 3, 2, 4}, {64, 96, 32, 32}, {1, 1, 8, 8},
	} {
		src := int16Matrix(tc.k, tc.n)
		size, err := ByteSize(NativeLayout(tc.tileN, tc.tileK), dtype.Int16, tc.k, tc.n)
		require.NoError(t, err)
		tiled := make([]byte, size)
		require.NoError(t, NormalToNative(tiled, src, dtype.Int16, tc.k, tc.n, tc.tileN, tc.tileK))

		back := make([]byte, len(src))
		require.NoError(t, NativeToNormal(back, tiled, dtype.Int16, tc.k, tc.n, tc.tileN, tc.tileK))
		require.Equal(t, src, back, "k=%d n=%d tile=%dx%d", tc.k, tc.n, tc.tileN, tc.tileK)
	}
}

func TestNativeIndexing(t *testing.T) {
	// K=2, N=3, tileN=2, tileK=2: two n-tiles, one k-tile.
	src := []byte{
		1, 2, 3,
		4, 5, 6,
	}
	dst := make([]byte, 8)
	require.NoError(t, NormalToNative(dst, src, dtype.Int8, 2, 3, 2, 2))
	require.Equal(t, []byte{1, 4, 2, 5, 3, 6, 0, 0}, dst)
}

func TestInt4TiledStaysPacked(t *testing.T) {
	const rows, cols, tile = 3, 3, 2
	vals := []int8{-8, -7, -1, 0, 1, 2, 5, 6, 7}
	src := make([]byte, dtype.Bytes(dtype.Int4, len(vals)))
	require.NoError(t, PackInt4(src, vals))

	size, err := ByteSize(PerformanceLayout(tile), dtype.Int4, rows, cols)
	require.NoError(t, err)
	require.Equal(t, 6, size)
	tiled := make([]byte, size)
	require.NoError(t, NormalToPerformance(tiled, src, dtype.Int4, rows, cols, tile))

	back := make([]byte, len(src))
	require.NoError(t, PerformanceToNormal(back, tiled, dtype.Int4, rows, cols, tile))
	got := make([]int8, len(vals))
	require.NoError(t, UnpackInt4(got, back))
	require.Equal(t, vals, got)
}

func TestPackInt4(t *testing.T) {
	dst := make([]byte, 2)
	require.NoError(t, PackInt4(dst, []int8{-8, 7, 3}))
	require.Equal(t, []byte{0x78, 0x03}, dst)

	// Every value in range survives a round trip, odd tail included.
	all := make([]int8, 0, 17)
	for v := int8(-8); v <= 7; v++ {
		all = append(all, v)
	}
	all = append(all, -3)
	packed := make([]byte, dtype.Bytes(dtype.Int4, len(all)))
	require.NoError(t, PackInt4(packed, all))
	require.Zero(t, packed[len(packed)-1]>>4)
	out := make([]int8, len(all))
	require.NoError(t, UnpackInt4(out, packed))
	require.Equal(t, all, out)

	require.ErrorIs(t, PackInt4(dst, []int8{8}), ErrInt4Range)
	require.ErrorIs(t, PackInt4(dst, []int8{-9}), ErrInt4Range)
	require.ErrorIs(t, PackInt4(make([]byte, 1), []int8{1, 2, 3}), ErrShortBuffer)
	require.ErrorIs(t, UnpackInt4(make([]int8, 3), []byte{0}), ErrShortBuffer)
}

func TestShortBuffers(t *testing.T) {
	src := make([]byte, 6)
	require.ErrorIs(t, NormalToPerformance(make([]byte, 7), src, dtype.Int8, 3, 2, 2), ErrShortBuffer)
	require.ErrorIs(t, NormalToPerformance(make([]byte, 8), src[:5], dtype.Int8, 3, 2, 2), ErrShortBuffer)
	require.ErrorIs(t, NormalToNative(make([]byte, 7), src, dtype.Int8, 2, 3, 2, 2), ErrShortBuffer)
}

func TestConversionLeavesTailUntouched(t *testing.T) {
	src := []byte{1, 2, 3, 4}
	dst := []byte{9, 9, 9, 9, 9, 9}
	require.NoError(t, NormalToPerformance(dst, src, dtype.Int8, 2, 2, 2))
	require.Equal(t, []byte{1, 3, 2, 4, 9, 9}, dst)
}

func TestConvertDispatch(t *testing.T) {
	src := int16Matrix(5, 4)
	perf := PerformanceLayout(4)
	size, err := ByteSize(perf, dtype.Int16, 5, 4)
	require.NoError(t, err)
	tiled := make([]byte, size)
	require.NoError(t, Convert(tiled, src, dtype.Int16, 5, 4, NormalLayout(), perf))
	back := make([]byte, len(src))
	require.NoError(t, Convert(back, tiled, dtype.Int16, 5, 4, perf, NormalLayout()))
	require.Equal(t, src, back)

	cp := make([]byte, len(src))
	require.NoError(t, Convert(cp, src, dtype.Int16, 5, 4, NormalLayout(), NormalLayout()))
	require.Equal(t, src, cp)

	require.Error(t, Convert(back, tiled, dtype.Int16, 5, 4, perf, NativeLayout(4, 4)))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("1", true)
	require.NoError(t, err)
	require.Equal(t, Native, k)
	k, err = ParseKind("1", false)
	require.NoError(t, err)
	require.Equal(t, Performance, k)
	k, err = ParseKind("", false)
	require.NoError(t, err)
	require.Equal(t, Normal, k)
	_, err = ParseKind("diagonal", false)
	require.Error(t, err)
}
