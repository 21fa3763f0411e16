package local

import (
	"encoding/binary"
	"fmt"
	"os"
)

// decodeWAVMono16 reads a 16-bit PCM WAV file and returns mono float32
// samples normalised to [-1.0, 1.0], the format whisper.cpp's Process expects.
// Adapted from the streaming provider's pcmToFloat32Mono, which converts a
// raw PCM buffer the same way; here the buffer comes from a RIFF container
// instead of a live audio channel.
func decodeWAVMono16(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%q is not a RIFF/WAVE file", path)
	}

	var channels int
	var pcm []byte
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			break
		}
		switch chunkID {
		case "fmt ":
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
		case "data":
			pcm = data[body : body+chunkSize]
		}
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++ // chunks are word-aligned
		}
	}
	if channels == 0 {
		channels = 1
	}
	if pcm == nil {
		return nil, fmt.Errorf("%q has no data chunk", path)
	}

	return pcmToFloat32Mono(pcm, channels), nil
}

// pcmToFloat32Mono down-mixes multi-channel 16-bit PCM to mono float32 by
// averaging all channels per frame.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 1 {
		return pcmToFloat32(pcm)
	}
	samplesPerChannel := len(pcm) / (2 * channels)
	mono := make([]float32, samplesPerChannel)
	for i := range samplesPerChannel {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0].
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}
