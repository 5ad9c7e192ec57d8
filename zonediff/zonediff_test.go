package zonediff

import "testing"

const (
	testWidth  = 32
	testHeight = 16
	zoneW      = 8
	zoneH      = 4
	bpp        = 3
)

func solidFrame(w, h int, r, g, b byte) []byte {
	buf := make([]byte, w*h*bpp)
	for i := 0; i < w*h; i++ {
		buf[i*bpp] = r
		buf[i*bpp+1] = g
		buf[i*bpp+2] = b
	}
	return buf
}

func TestDiffFirstCallEmitsEveryZone(t *testing.T) {
	d := New(zoneW, zoneH, bpp)
	frame := solidFrame(testWidth, testHeight, 10, 20, 30)

	chunks := d.Diff(frame, testWidth, testHeight, 1<<20)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1 (no budget splitting)", len(chunks))
	}

	zonesAcross := testWidth / zoneW
	zonesDown := testHeight / zoneH
	wantZones := zonesAcross * zonesDown
	zoneBytes := zoneW * zoneH * bpp
	wantLen := wantZones * (1 + zoneBytes)
	if len(chunks[0]) != wantLen {
		t.Fatalf("chunk len = %d, want %d (every zone on first call)", len(chunks[0]), wantLen)
	}
}

func TestDiffSkipsUnchangedZones(t *testing.T) {
	d := New(zoneW, zoneH, bpp)
	frame := solidFrame(testWidth, testHeight, 1, 1, 1)
	d.Diff(frame, testWidth, testHeight, 1<<20)

	// Flip one pixel in zone (0,0) only.
	frame[0] = 0xFF

	chunks := d.Diff(frame, testWidth, testHeight, 1<<20)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	zoneBytes := zoneW * zoneH * bpp
	if len(chunks[0]) != 1+zoneBytes {
		t.Fatalf("chunk len = %d, want %d (exactly one changed zone)", len(chunks[0]), 1+zoneBytes)
	}
	if chunks[0][0] != 0 {
		t.Fatalf("zone index = %d, want 0", chunks[0][0])
	}
}

func TestDiffNoChangeEmitsNothing(t *testing.T) {
	d := New(zoneW, zoneH, bpp)
	frame := solidFrame(testWidth, testHeight, 5, 5, 5)
	d.Diff(frame, testWidth, testHeight, 1<<20)

	chunks := d.Diff(frame, testWidth, testHeight, 1<<20)
	if len(chunks) != 0 {
		t.Fatalf("chunks = %d, want 0 for an unchanged frame", len(chunks))
	}
}

func TestResetForcesFullRetransmit(t *testing.T) {
	d := New(zoneW, zoneH, bpp)
	frame := solidFrame(testWidth, testHeight, 7, 7, 7)
	d.Diff(frame, testWidth, testHeight, 1<<20)

	d.Reset()
	chunks := d.Diff(frame, testWidth, testHeight, 1<<20)
	if len(chunks) != 1 {
		t.Fatalf("chunks after Reset = %d, want 1 (every zone again)", len(chunks))
	}
}

func TestNextStreamIDWrapsAt64(t *testing.T) {
	d := New(zoneW, zoneH, bpp)
	var last int8
	for i := 0; i < 70; i++ {
		last = d.NextStreamID()
		if last < 0 || last > 64 {
			t.Fatalf("stream id %d out of range [0,64]", last)
		}
	}
}

func TestZonesBytesLimitUDPPicksLargestFittingMultiple(t *testing.T) {
	d := New(zoneW, zoneH, bpp)
	zoneBytes := zoneW*zoneH*bpp + 1
	limit := d.ZonesBytesLimit(1400, testWidth)
	if limit > 1400 {
		t.Fatalf("ZonesBytesLimit = %d, want <= transport limit 1400", limit)
	}
	if limit+zoneBytes <= 1400 {
		t.Fatalf("ZonesBytesLimit = %d leaves room for another whole zone under 1400", limit)
	}
}
