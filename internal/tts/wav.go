package tts

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// encodeWAV wraps little-endian 16-bit PCM in a WAV container.
func encodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if channels <= 0 {
		channels = 1
	}
	file, err := os.CreateTemp(os.TempDir(), "loqa_tts_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   samples,
	}
	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind wav: %w", err)
	}
	return io.ReadAll(file)
}

// Duration reports the playback length of a WAV payload. Other containers
// return false.
func Duration(payload []byte) (time.Duration, bool) {
	dec := wav.NewDecoder(bytes.NewReader(payload))
	if !dec.IsValidFile() {
		return 0, false
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil || dec.SampleRate == 0 {
		return 0, false
	}
	return time.Duration(buf.NumFrames()) * time.Second / time.Duration(dec.SampleRate), true
}
