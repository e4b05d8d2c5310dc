// cksum.go - CRC-32/CKSUM: polynomial 0x04C11DB7, MSB-first, zero init, inverted output.
package lsb

import "hash"

var cksumTable [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		cksumTable[i] = crc
	}
}

type cksum struct {
	crc uint32
}

// NewCKSUM returns a hash.Hash32 computing CRC-32/CKSUM. The digest is
// appended big-endian by Sum.
func NewCKSUM() hash.Hash32 {
	return &cksum{}
}

// ChecksumCKSUM returns the CRC-32/CKSUM of data.
func ChecksumCKSUM(data []byte) uint32 {
	return updateCKSUM(0, data) ^ 0xFFFFFFFF
}

func updateCKSUM(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = (crc << 8) ^ cksumTable[byte(crc>>24)^b]
	}
	return crc
}

func (c *cksum) Write(p []byte) (int, error) {
	c.crc = updateCKSUM(c.crc, p)
	return len(p), nil
}

func (c *cksum) WriteByte(b byte) error {
	c.crc = (c.crc << 8) ^ cksumTable[byte(c.crc>>24)^b]
	return nil
}

func (c *cksum) Sum32() uint32 { return c.crc ^ 0xFFFFFFFF }

func (c *cksum) Sum(in []byte) []byte {
	s := c.Sum32()
	return append(in, byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}

func (c *cksum) Reset()         { c.crc = 0 }
func (c *cksum) Size() int      { return 4 }
func (c *cksum) BlockSize() int { return 1 }
