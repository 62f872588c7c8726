package pe

import "math"

// CalculateEntropy calculates Shannon entropy for a given data block.
// Entropy value ranges from 0 (completely uniform) to 8 (completely random).
// High entropy (>7.0) often indicates encryption or compression (packed malware).
func CalculateEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0.0
	}

	// Count byte frequencies
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}

	// Calculate Shannon entropy: H = -Σ(p(x) * log2(p(x)))
	var entropy float64
	dataLen := float64(len(data))

	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / dataLen
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// maxEntropySample bounds how much of a section is sampled.
const maxEntropySample = 16 << 20

// SectionEntropy reads a section's data and calculates its entropy. Virtual
// images are sampled at the section's RVA, file images at its raw data.
func (img *Image) SectionEntropy(s Section) float64 {
	offset, size := int64(s.PointerToRawData), s.SizeOfRawData
	if img.opts.IsVirtual {
		offset, size = int64(s.VirtualAddress), s.VirtualSize
	}
	if size == 0 {
		return 0.0
	}
	if size > maxEntropySample {
		size = maxEntropySample
	}

	data := make([]byte, size)
	n := img.ReadAtOffset(offset, data)
	return CalculateEntropy(data[:n])
}
