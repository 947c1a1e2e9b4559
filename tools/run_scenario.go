//go:build tools
// +build tools

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// go run -tags tools tools/run_scenario.go [scenario] [json params]
func main() {
	base := "http://localhost:4040"
	if v := os.Getenv("U01_URL"); v != "" {
		base = v
	}
	name := "bat1"
	if len(os.Args) > 1 {
		name = os.Args[1]
	}
	body := "{}"
	if len(os.Args) > 2 {
		body = os.Args[2]
	}

	// 1) run
	resp, err := http.Post(base+"/scenarios/"+name+"/run", "application/json", strings.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "run request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Printf("--- /scenarios/%s/run (%s) ---\n", name, resp.Status)
	fmt.Println(string(b))
	var rec map[string]interface{}
	if err := json.Unmarshal(b, &rec); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse run JSON: %v\n", err)
		os.Exit(1)
	}
	id, _ := rec["id"].(string)
	if id == "" {
		fmt.Fprintln(os.Stderr, "no id in run response")
		os.Exit(1)
	}

	// 2) chain check
	resp2, err := http.Get(base + "/chain/verify")
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp2.Body.Close()
	b2, _ := io.ReadAll(resp2.Body)
	fmt.Println("--- /chain/verify ---")
	fmt.Println(string(b2))
}
