package speech

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Silence trimming for 16-bit PCM WAV recordings. Stretches quieter
// than the configured floor and at least minSilenceMs long are cut out
// before the audio is handed to the recognizer; a recording with no
// audible frame at all is rejected with ErrNoSpeech.

const frameMs = 20

// TrimWAVSilence decodes a WAV container, removes long silent
// stretches and re-encodes the result. Returns the trimmed container
// and how many milliseconds were dropped.
func TrimWAVSilence(container []byte, floorDB float64, minSilenceMs int) ([]byte, int64, error) {
	w, err := decodeWAV(container)
	if err != nil {
		return nil, 0, err
	}

	trimmed, removedMs, err := trimPCM(w.data, w.sampleRate, w.channels, floorDB, minSilenceMs)
	if err != nil {
		return nil, removedMs, err
	}

	w.data = trimmed
	return encodeWAV(w), removedMs, nil
}

func trimPCM(pcm []byte, sampleRate, channels int, floorDB float64, minSilenceMs int) ([]byte, int64, error) {
	bytesPerFrame := sampleRate * channels * 2 * frameMs / 1000
	if bytesPerFrame == 0 {
		return nil, 0, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	frameCount := len(pcm) / bytesPerFrame
	if frameCount == 0 {
		return nil, 0, ErrNoSpeech
	}

	silent := make([]bool, frameCount)
	audible := 0
	for i := 0; i < frameCount; i++ {
		frame := pcm[i*bytesPerFrame : (i+1)*bytesPerFrame]
		if frameDBFS(frame) < floorDB {
			silent[i] = true
		} else {
			audible++
		}
	}
	if audible == 0 {
		return nil, int64(frameCount) * frameMs, ErrNoSpeech
	}

	minSilentFrames := minSilenceMs / frameMs
	if minSilentFrames < 1 {
		minSilentFrames = 1
	}

	// Short pauses stay; only runs of at least minSilentFrames are cut.
	keep := make([]byte, 0, len(pcm))
	var removedFrames int
	for i := 0; i < frameCount; {
		if !silent[i] {
			keep = append(keep, pcm[i*bytesPerFrame:(i+1)*bytesPerFrame]...)
			i++
			continue
		}

		runStart := i
		for i < frameCount && silent[i] {
			i++
		}
		runLen := i - runStart
		if runLen >= minSilentFrames {
			removedFrames += runLen
			continue
		}
		keep = append(keep, pcm[runStart*bytesPerFrame:i*bytesPerFrame]...)
	}

	// Trailing partial frame is always kept.
	if rest := len(pcm) % bytesPerFrame; rest != 0 {
		keep = append(keep, pcm[len(pcm)-rest:]...)
	}

	return keep, int64(removedFrames) * frameMs, nil
}

// frameDBFS computes the RMS level of a 16-bit PCM frame relative to
// full scale. A digitally silent frame maps to -inf.
func frameDBFS(frame []byte) float64 {
	samples := len(frame) / 2
	if samples == 0 {
		return math.Inf(-1)
	}

	var sum float64
	for i := 0; i < samples; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(frame[i*2:])))
		sum += v * v
	}

	rms := math.Sqrt(sum / float64(samples))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/32768)
}

type wavFile struct {
	sampleRate int
	channels   int
	data       []byte
}

func decodeWAV(b []byte) (*wavFile, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE container")
	}

	w := &wavFile{}
	offset := 12
	for offset+8 <= len(b) {
		chunkID := string(b[offset : offset+4])
		chunkLen := int(binary.LittleEndian.Uint32(b[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkLen > len(b) {
			chunkLen = len(b) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, fmt.Errorf("truncated fmt chunk")
			}
			audioFormat := binary.LittleEndian.Uint16(b[body:])
			bitsPerSample := binary.LittleEndian.Uint16(b[body+14:])
			if audioFormat != 1 || bitsPerSample != 16 {
				return nil, fmt.Errorf("unsupported WAV encoding: format=%d bits=%d", audioFormat, bitsPerSample)
			}
			w.channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			w.sampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
		case "data":
			w.data = b[body : body+chunkLen]
		}

		// Chunks are word-aligned.
		offset = body + chunkLen
		if chunkLen%2 == 1 {
			offset++
		}
	}

	if w.sampleRate == 0 || w.channels == 0 {
		return nil, fmt.Errorf("missing fmt chunk")
	}
	if w.data == nil {
		return nil, fmt.Errorf("missing data chunk")
	}
	return w, nil
}

func encodeWAV(w *wavFile) []byte {
	const headerSize = 44
	out := make([]byte, headerSize+len(w.data))

	byteRate := w.sampleRate * w.channels * 2
	blockAlign := w.channels * 2

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+len(w.data)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:], uint16(w.channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 16) // bits per sample
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(len(w.data)))
	copy(out[headerSize:], w.data)

	return out
}
