// Command transcribe-stub is a local stand-in for the transcription API,
// useful when developing without a real whisper backend. It accepts the
// multipart request the service sends and replies with a fixed transcript.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

type response struct {
	Text string `json:"text"`
}

func main() {
	port := flag.Int("port", 9000, "Port to listen on")
	text := flag.String("text", "This is a stub transcript.", "Transcript to return for every request")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	flag.Parse()

	http.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := r.ParseMultipartForm(64 << 20); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Error getting audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		size, err := io.Copy(io.Discard, file)
		if err != nil {
			http.Error(w, "Error reading audio file", http.StatusInternalServerError)
			return
		}

		log.Printf("transcription request: file=%s size=%d model=%s",
			header.Filename, size, r.FormValue("model"))

		time.Sleep(*delay)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response{Text: *text})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("transcription stub listening on %s", addr)
	log.Printf("point the service at http://localhost%s/transcribe", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal("server failed to start: ", err)
	}
}
