package fartiles

// Tile addressing inside the archive uses a single uint64 ID: all tiles
// of zooms < z come first, then the tiles of zoom z ordered along a
// Hilbert curve. Hilbert ordering keeps directory entries for nearby
// tiles adjacent, which is what makes the delta-encoded directory small.

func hilbertRotate(n uint64, x *uint64, y *uint64, rx uint64, ry uint64) {
	if ry == 0 {
		if rx == 1 {
			*x = n - 1 - *x
			*y = n - 1 - *y
		}
		*x, *y = *y, *x
	}
}

// ZxyToID converts (z,x,y) tile coordinates to an archive TileID.
func ZxyToID(z uint8, x uint32, y uint32) uint64 {
	var acc uint64
	for tz := uint8(0); tz < z; tz++ {
		acc += (1 << tz) * (1 << tz)
	}

	n := uint64(1) << z
	tx := uint64(x)
	ty := uint64(y)
	var d uint64
	for s := n / 2; s > 0; s /= 2 {
		var rx, ry uint64
		if tx&s > 0 {
			rx = 1
		}
		if ty&s > 0 {
			ry = 1
		}
		d += s * s * ((3 * rx) ^ ry)
		hilbertRotate(s, &tx, &ty, rx, ry)
	}
	return acc + d
}

// IDToZxy converts an archive TileID back to (z,x,y) coordinates.
func IDToZxy(id uint64) (uint8, uint32, uint32) {
	var acc uint64
	for z := uint8(0); ; z++ {
		numTiles := uint64(1) << z * (uint64(1) << z)
		if acc+numTiles > id {
			return idOnLevel(z, id-acc)
		}
		acc += numTiles
	}
}

func idOnLevel(z uint8, pos uint64) (uint8, uint32, uint32) {
	n := uint64(1) << z
	t := pos
	var tx, ty uint64
	for s := uint64(1); s < n; s *= 2 {
		rx := 1 & (t / 2)
		ry := 1 & (t ^ rx)
		hilbertRotate(s, &tx, &ty, rx, ry)
		tx += s * rx
		ty += s * ry
		t /= 4
	}
	return z, uint32(tx), uint32(ty)
}
