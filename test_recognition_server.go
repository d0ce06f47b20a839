package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kunci115/RealtimeSTT/internal/audio"
)

type RecognitionResponse struct {
	UtteranceID string    `json:"utterance_id"`
	Text        string    `json:"text"`
	Confidence  float32   `json:"confidence"`
	Language    string    `json:"language"`
	Duration    float64   `json:"duration"`
	ProcessedAt time.Time `json:"processed_at"`
}

func recognizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse multipart form
	err := r.ParseMultipartForm(10 << 20) // 10 MB
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	// Get utterance fields
	utteranceID := r.FormValue("utterance_id")
	sessionID := r.FormValue("session_id")
	sampleRate := r.FormValue("sample_rate")
	duration := r.FormValue("duration")
	startOffset := r.FormValue("start_offset")

	// Get request metadata
	requestTimestamp := r.FormValue("request_timestamp")
	language := r.FormValue("language")

	// Get audio file
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	wavData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	// Decode the WAV to prove the upload is intact
	samples, decodedRate, err := audio.DecodeWAV(wavData)
	if err != nil {
		log.Printf("❌ REJECTED MALFORMED WAV: %v", err)
		http.Error(w, fmt.Sprintf("Invalid WAV: %v", err), http.StatusBadRequest)
		return
	}

	wavDuration, _ := audio.GetWAVDuration(wavData)

	// Log comprehensive request information
	log.Printf("🎤 RECOGNITION REQUEST RECEIVED:")
	log.Printf("  ═══════════════════════════════════")
	log.Printf("  📊 Utterance Info:")
	log.Printf("    Utterance ID: %s", utteranceID)
	log.Printf("    Session ID: %s", sessionID)
	log.Printf("    Declared Duration: %s seconds", duration)
	log.Printf("    Start Offset: %s seconds", startOffset)
	log.Printf("  ═══════════════════════════════════")
	log.Printf("  🎧 Audio Info:")
	log.Printf("    Filename: %s", header.Filename)
	log.Printf("    WAV Size: %d bytes", len(wavData))
	log.Printf("    Samples: %d at %d Hz (declared %s Hz)", len(samples), decodedRate, sampleRate)
	log.Printf("    Decoded Duration: %.3f seconds", wavDuration)
	log.Printf("    Language: %s", language)
	log.Printf("  ═══════════════════════════════════")
	log.Printf("  🛠️  Request Info:")
	log.Printf("    Timestamp: %s", requestTimestamp)

	// Simulate processing time
	time.Sleep(200 * time.Millisecond)

	// Create fake recognition response
	response := RecognitionResponse{
		UtteranceID: utteranceID,
		Text:        fmt.Sprintf("Test transcript for %.1f seconds of audio", wavDuration),
		Confidence:  0.95,
		Language:    "en",
		Duration:    wavDuration,
		ProcessedAt: time.Now(),
	}

	// Send JSON response
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	log.Printf("✅ RECOGNITION RESPONSE SENT: '%s'", response.Text)
	log.Println("---")
}

func main() {
	http.HandleFunc("/recognize", recognizeHandler)

	port := ":9000"
	log.Printf("🚀 Test Recognition Server starting on port %s", port)
	log.Printf("📡 Endpoint: http://localhost%s/recognize", port)
	log.Println("💡 Update your config to use: http://localhost:9000/recognize")

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
