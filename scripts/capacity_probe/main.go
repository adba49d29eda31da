package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// capacity_probe fires concurrent offer-creation requests at a running
// instance and reports how many won a slot versus hit CAPACITY_EXCEEDED.
// Overbooking shows up as more winners than the facility had free slots.

type probeResult struct {
	Entry    string
	Status   int
	Code     string
	Duration time.Duration
	Err      error
}

type envelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	var (
		base     string
		entries  string
		spotDate string
		actor    string
		timeout  time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL")
	flag.StringVar(&entries, "entries", "", "Comma-separated waitlist entry IDs to offer concurrently")
	flag.StringVar(&spotDate, "spot-date", time.Now().UTC().Format(time.RFC3339), "Spot available date")
	flag.StringVar(&actor, "actor", "capacity-probe", "Actor ID for audit attribution")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.Parse()

	ids := splitIDs(entries)
	if len(ids) == 0 {
		log.Fatal("at least one entry ID is required (-entries)")
	}

	client := &http.Client{Timeout: timeout}
	results := make([]probeResult, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = createOffer(client, base, id, spotDate, actor)
		}(i, id)
	}
	wg.Wait()

	printReport(results)
}

func splitIDs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func createOffer(client *http.Client, base, entryID, spotDate, actor string) probeResult {
	res := probeResult{Entry: entryID}

	payload, _ := json.Marshal(map[string]interface{}{
		"waitlist_entry_id":   entryID,
		"spot_available_date": spotDate,
		"created_by":          actor,
	})
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(base, "/")+"/offers", bytes.NewReader(payload))
	if err != nil {
		res.Err = err
		return res
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", actor)
	req.Header.Set("X-Actor-Type", "PROVIDER")

	start := time.Now()
	resp, err := client.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		res.Err = err
		return res
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		res.Code = env.Error.Code
	}
	return res
}

func printReport(results []probeResult) {
	fmt.Println("Capacity Probe Report")
	fmt.Println("=====================")

	var won, refused, failed int
	for _, res := range results {
		switch {
		case res.Err != nil:
			failed++
			fmt.Printf("[ERROR] %s: %v\n", res.Entry, res.Err)
		case res.Status == http.StatusCreated:
			won++
			fmt.Printf("[WON]   %s (%s)\n", res.Entry, res.Duration)
		default:
			refused++
			fmt.Printf("[LOST]  %s: %d %s (%s)\n", res.Entry, res.Status, res.Code, res.Duration)
		}
	}

	fmt.Printf("Winners: %d, Refused: %d, Failed: %d\n", won, refused, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
