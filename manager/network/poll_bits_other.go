//go:build unix && !linux

package network

// BSD 系与 solaris 的取值。
const (
	pollRdNorm = 0x40
	pollRdBand = 0x80
	pollWrBand = 0x100
)
