// Package scale implements the pixel-doubling and half-scaling transforms a
// framer applies when a source image's dimensions don't match a panel's
// native resolution: Scale2x upscaling, quadrant-aware majority-vote
// downscaling, and plain centering.
package scale

// Up doubles a srcWidth x srcHeight buffer of bytesPerPixel-byte pixels
// using Scale2x (http://www.scale2x.it/algorithm). dest must be sized for
// (srcWidth*2) x (srcHeight*2) pixels.
func Up(dest, src []byte, srcWidth, srcHeight, bytesPerPixel int) {
	bpp := bytesPerPixel
	destWidth := srcWidth * 2
	row := srcWidth * bpp

	at := func(x, y int) []byte {
		off := y*row + x*bpp
		return src[off : off+bpp]
	}

	for y := 0; y < srcHeight; y++ {
		for x := 0; x < srcWidth; x++ {
			// Scale2x only ever consults the four orthogonal neighbors
			// (b, d, f, h) and the center (e); the diagonal corners the
			// reference algorithm also names play no part in the decision.
			var b, d, e, f, h []byte
			switch {
			case x == 0 && y == 0:
				b, d, e = at(0, 0), at(0, 0), at(0, 0)
				f = at(1, 0)
				h = at(0, 1)
			case x == 0 && y == srcHeight-1:
				b = at(0, y-1)
				d, h, e = at(0, y), at(0, y), at(0, y)
				f = at(1, y)
			case x == srcWidth-1 && y == 0:
				d = at(x-1, 0)
				b, f, e = at(x, 0), at(x, 0), at(x, 0)
				h = at(x, 1)
			case x == srcWidth-1 && y == srcHeight-1:
				b = at(x, y-1)
				d = at(x-1, y)
				e, f, h = at(x, y), at(x, y), at(x, y)
			case x == 0:
				b = at(0, y-1)
				d, e = at(0, y), at(0, y)
				f = at(1, y)
				h = at(0, y+1)
			case x == srcWidth-1:
				b = at(x, y-1)
				d = at(x-1, y)
				e, f = at(x, y), at(x, y)
				h = at(x, y+1)
			case y == 0:
				d = at(x-1, 0)
				b, e = at(x, 0), at(x, 0)
				f = at(x+1, 0)
				h = at(x, 1)
			case y == srcHeight-1:
				b = at(x, y-1)
				d = at(x-1, y)
				e, h = at(x, y), at(x, y)
				f = at(x+1, y)
			default:
				b = at(x, y-1)
				d = at(x-1, y)
				e = at(x, y)
				f = at(x+1, y)
				h = at(x, y+1)
			}

			put := func(px, py int, v []byte) {
				off := (py*destWidth + px) * bpp
				copy(dest[off:off+bpp], v)
			}

			if !eq(b, h) && !eq(d, f) {
				put(x*2, y*2, pick(eq(d, b), d, e))
				put(x*2+1, y*2, pick(eq(b, f), f, e))
				put(x*2, y*2+1, pick(eq(d, h), d, e))
				put(x*2+1, y*2+1, pick(eq(h, f), f, e))
			} else {
				put(x*2, y*2, e)
				put(x*2+1, y*2, e)
				put(x*2, y*2+1, e)
				put(x*2+1, y*2+1, e)
			}
		}
	}
}

// UpIndexed upscales an indexed (one byte per pixel) buffer.
func UpIndexed(dest, src []byte, srcWidth, srcHeight int) {
	Up(dest, src, srcWidth, srcHeight, 1)
}

func eq(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func pick(cond bool, a, b []byte) []byte {
	if cond {
		return a
	}
	return b
}

// Down halves a srcWidth x srcHeight buffer of bytesPerPixel-byte pixels by
// majority vote over each 2x2 block, centering the result in a
// destWidth x destHeight destination. Ties break toward whichever corner of
// the block is farthest from the block's quadrant within the source image,
// matching the device firmware's downscaler.
func Down(dest []byte, destWidth, destHeight int, src []byte, srcWidth, srcHeight, bytesPerPixel int) {
	bpp := bytesPerPixel
	for i := range dest {
		dest[i] = 0
	}
	xOffset := (destWidth - srcWidth/2) / 2
	yOffset := (destHeight - srcHeight/2) / 2

	pix := func(x, y int) []byte {
		off := (y*srcWidth + x) * bpp
		return src[off : off+bpp]
	}

	for y := 0; y < srcHeight; y += 2 {
		for x := 0; x < srcWidth; x += 2 {
			ul, ur := pix(x, y), pix(x+1, y)
			ll, lr := pix(x, y+1), pix(x+1, y+1)

			var chosen []byte
			leftHalf := x < srcWidth/2
			topHalf := y < srcHeight/2
			switch {
			case leftHalf && topHalf:
				switch {
				case eq(ul, ur) || eq(ul, ll) || eq(ul, lr):
					chosen = ul
				case eq(ur, ll) || eq(ur, lr):
					chosen = ur
				case eq(ll, lr):
					chosen = ll
				default:
					chosen = ul
				}
			case leftHalf && !topHalf:
				switch {
				case eq(ll, lr) || eq(ll, ul) || eq(ll, ur):
					chosen = ll
				case eq(lr, ul) || eq(lr, ur):
					chosen = lr
				case eq(ul, ur):
					chosen = ul
				default:
					chosen = ll
				}
			case !leftHalf && topHalf:
				switch {
				case eq(ur, ul) || eq(ur, lr) || eq(ur, ll):
					chosen = ur
				case eq(ul, lr) || eq(ul, ll):
					chosen = ul
				case eq(lr, ll):
					chosen = lr
				default:
					chosen = ur
				}
			default:
				switch {
				case eq(lr, ll) || eq(lr, ur) || eq(lr, ul):
					chosen = lr
				case eq(ll, ur) || eq(ll, ul):
					chosen = ll
				case eq(ur, ul):
					chosen = ur
				default:
					chosen = lr
				}
			}

			off := ((yOffset+y/2)*destWidth + xOffset + x/2) * bpp
			copy(dest[off:off+bpp], chosen)
		}
	}
}

// DownIndexed halves an indexed (one byte per pixel) buffer.
func DownIndexed(dest []byte, destWidth, destHeight int, src []byte, srcWidth, srcHeight int) {
	Down(dest, destWidth, destHeight, src, srcWidth, srcHeight, 1)
}

// DownPUP halves a buffer using the simpler, quadrant-independent majority
// vote ZeDMD applies to PUP-pack overlay frames.
func DownPUP(dest []byte, destWidth, destHeight int, src []byte, srcWidth, srcHeight, bytesPerPixel int) {
	bpp := bytesPerPixel
	for i := range dest {
		dest[i] = 0
	}
	xOffset := (destWidth - srcWidth/2) / 2
	yOffset := (destHeight - srcHeight/2) / 2

	pix := func(x, y int) []byte {
		off := (y*srcWidth + x) * bpp
		return src[off : off+bpp]
	}

	for y := 0; y < srcHeight; y += 2 {
		for x := 0; x < srcWidth; x += 2 {
			p1, p2 := pix(x, y), pix(x+1, y)
			p3, p4 := pix(x, y+1), pix(x+1, y+1)

			var chosen []byte
			switch {
			case eq(p1, p2) || eq(p1, p3) || eq(p1, p4):
				chosen = p1
			case eq(p2, p3) || eq(p2, p4):
				chosen = p2
			case eq(p3, p4):
				chosen = p3
			default:
				chosen = p1
			}
			off := ((yOffset+y/2)*destWidth + xOffset + x/2) * bpp
			copy(dest[off:off+bpp], chosen)
		}
	}
}

// Center copies a srcWidth x srcHeight buffer of bytesPerPixel-byte pixels
// into the middle of a destWidth x destHeight destination, zero-filling the
// border.
func Center(dest []byte, destWidth, destHeight int, src []byte, srcWidth, srcHeight, bytesPerPixel int) {
	bpp := bytesPerPixel
	for i := range dest {
		dest[i] = 0
	}
	xOffset := (destWidth - srcWidth) / 2
	yOffset := (destHeight - srcHeight) / 2

	for y := 0; y < srcHeight; y++ {
		srcOff := y * srcWidth * bpp
		destOff := ((yOffset+y)*destWidth + xOffset) * bpp
		copy(dest[destOff:destOff+srcWidth*bpp], src[srcOff:srcOff+srcWidth*bpp])
	}
}

// CenterIndexed centers an indexed (one byte per pixel) buffer.
func CenterIndexed(dest []byte, destWidth, destHeight int, src []byte, srcWidth, srcHeight int) {
	Center(dest, destWidth, destHeight, src, srcWidth, srcHeight, 1)
}
