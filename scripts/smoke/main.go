// Command smoke runs a post-deploy check against a running registrar API.
// It walks a JSON list of endpoints, verifies each responds with the
// expected status and a well-formed response envelope, and exits non-zero
// when any critical check fails.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type check struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	Expect   int    `json:"expect"`
	Critical bool   `json:"critical"`
}

type checksFile struct {
	Checks []check `json:"checks"`
}

type result struct {
	Check    check
	Status   int
	Passed   bool
	Err      error
	Duration time.Duration
}

func main() {
	var (
		base       string
		checksPath string
		token      string
		timeout    time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&checksPath, "checks", filepath.Join("scripts", "smoke", "checks.json"), "Path to JSON checks file")
	flag.StringVar(&token, "token", os.Getenv("SMOKE_TOKEN"), "Bearer token for authenticated endpoints")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	checks, err := loadChecks(checksPath)
	if err != nil {
		log.Fatalf("failed to load checks: %v", err)
	}

	client := &http.Client{Timeout: timeout}
	var (
		results  []result
		breaking int
		warnings int
	)

	for _, c := range checks {
		res := runCheck(client, base, token, c)
		if !res.Passed {
			if c.Critical {
				breaking++
			} else {
				warnings++
			}
		}
		results = append(results, res)
	}

	printReport(results)

	fmt.Printf("Critical failures: %d, Warnings: %d\n", breaking, warnings)
	if breaking > 0 {
		os.Exit(1)
	}
}

func loadChecks(path string) ([]check, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f checksFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Checks) == 0 {
		return nil, fmt.Errorf("no checks defined in %s", path)
	}
	return f.Checks, nil
}

func runCheck(client *http.Client, base, token string, c check) result {
	res := result{Check: c}

	method := strings.ToUpper(strings.TrimSpace(c.Method))
	if method == "" {
		method = http.MethodGet
	}
	path := c.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := strings.TrimRight(base, "/") + path

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		res.Err = err
		return res
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := client.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	expect := c.Expect
	if expect == 0 {
		expect = http.StatusOK
	}
	if resp.StatusCode != expect {
		return res
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		res.Err = fmt.Errorf("read body: %w", err)
		return res
	}
	if !validEnvelope(resp.Header.Get("Content-Type"), body) {
		res.Err = fmt.Errorf("malformed response body")
		return res
	}

	res.Passed = true
	return res
}

// validEnvelope accepts any well-formed JSON object for JSON endpoints and
// any non-empty payload otherwise, so binary downloads still pass.
func validEnvelope(contentType string, body []byte) bool {
	if !strings.Contains(contentType, "application/json") {
		return len(body) > 0
	}
	var v map[string]interface{}
	return json.Unmarshal(body, &v) == nil
}

func printReport(results []result) {
	fmt.Println("Registrar API Smoke Report")
	fmt.Println("==========================")
	for _, res := range results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Printf("[%s] %s %s\n", status, res.Check.Method, res.Check.Path)
		fmt.Printf("  Status: %d (%s)\n", res.Status, res.Duration)
		if res.Err != nil {
			fmt.Printf("  Error: %v\n", res.Err)
		} else if !res.Passed {
			fmt.Printf("  Expected status: %d | Critical: %t\n", res.Check.Expect, res.Check.Critical)
		}
	}
}
