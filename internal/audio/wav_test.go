package audio

import (
	"math"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	// Generate test audio samples (440Hz sine wave for 0.1 seconds at 8kHz)
	sampleRate := 8000
	duration := 0.1
	frequency := 440.0

	numSamples := int(float64(sampleRate) * duration)
	samples := make([]int16, numSamples)

	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(sampleRate)
		amplitude := 16383.0 // Half of max int16 to avoid clipping
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*frequency*t))
	}

	wavData, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(wavData) == 0 {
		t.Fatal("WAV data is empty")
	}

	expectedSize := wavHeaderSize + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	header, err := readHeader(wavData)
	if err != nil {
		t.Fatalf("Generated WAV has invalid header: %v", err)
	}

	if header.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, header.SampleRate)
	}

	if header.NumChannels != 1 {
		t.Errorf("Expected 1 channel, got %d", header.NumChannels)
	}

	if header.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", header.BitsPerSample)
	}

	if header.Subchunk2Size != uint32(len(samples)*2) {
		t.Errorf("Expected data size %d, got %d", len(samples)*2, header.Subchunk2Size)
	}
}

func TestDecodeWAV(t *testing.T) {
	originalSamples := []int16{100, -200, 300, -400, 500}
	sampleRate := 8000

	wavData, err := EncodeWAV(originalSamples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decodedSamples, decodedSampleRate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if decodedSampleRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, decodedSampleRate)
	}

	if len(decodedSamples) != len(originalSamples) {
		t.Errorf("Expected %d samples, got %d", len(originalSamples), len(decodedSamples))
	}

	for i, original := range originalSamples {
		if i >= len(decodedSamples) {
			break
		}
		if decodedSamples[i] != original {
			t.Errorf("Sample %d: expected %d, got %d", i, original, decodedSamples[i])
		}
	}
}

func TestEncodeWAVEmpty(t *testing.T) {
	_, err := EncodeWAV([]int16{}, 8000)
	if err == nil {
		t.Error("Expected error for empty samples")
	}
}

func TestEncodeWAVInvalidSampleRate(t *testing.T) {
	samples := []int16{100, 200, 300}

	_, err := EncodeWAV(samples, 0)
	if err == nil {
		t.Error("Expected error for zero sample rate")
	}

	_, err = EncodeWAV(samples, -1000)
	if err == nil {
		t.Error("Expected error for negative sample rate")
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	// Too short to hold a header
	_, _, err := DecodeWAV([]byte{1, 2, 3})
	if err == nil {
		t.Error("Expected error for too short WAV data")
	}

	// Invalid RIFF marker
	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))
	_, _, err = DecodeWAV(invalidWAV)
	if err == nil {
		t.Error("Expected error for invalid RIFF header")
	}

	// Valid header but data chunk cut off
	wavData, err := EncodeWAV([]int16{100, 200, 300, 400}, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	_, _, err = DecodeWAV(wavData[:len(wavData)-2])
	if err == nil {
		t.Error("Expected error for truncated audio data")
	}
}

func TestDecodeWAVRejectsStereo(t *testing.T) {
	wavData, err := EncodeWAV([]int16{100, 200}, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// Patch channel count to 2
	wavData[22] = 2
	wavData[23] = 0

	_, _, err = DecodeWAV(wavData)
	if err == nil {
		t.Error("Expected error for stereo WAV")
	}
}

func TestGetWAVDuration(t *testing.T) {
	// 1 second of audio at 8kHz
	sampleRate := 8000
	samples := make([]int16, sampleRate)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	wavData, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	duration, err := GetWAVDuration(wavData)
	if err != nil {
		t.Fatalf("GetWAVDuration failed: %v", err)
	}

	if math.Abs(duration-1.0) > 0.001 {
		t.Errorf("Expected duration 1.000, got %.3f", duration)
	}
}
