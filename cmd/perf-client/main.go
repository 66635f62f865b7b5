package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// PerfResult gathers aggregated metrics for the test run.
// Atomic counters are used to avoid lock-contention on hot paths.
// LatencySum & P95Latency are in nanoseconds.
//
// P95Latency is maintained via a lightweight reservoir sampler.
type PerfResult struct {
	TotalRequests int64
	SuccessCount  int64
	ErrorCount    int64
	LatencySum    int64
	P95Latency    int64
}

const (
	baseURL        = "http://localhost:8080"
	fixedWorkers   = 50
	fixedRPSTarget = 500
	fixedDuration  = 30 * time.Second
	defaultTimeout = 30 * time.Second
	fixedCodes     = 50000
)

func main() {
	// --- HTTP Client & Transport ---
	transport := &http.Transport{
		MaxIdleConns:        fixedWorkers * 4,
		MaxIdleConnsPerHost: fixedWorkers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   defaultTimeout,
	}

	// --- Event setup ---
	eventID, err := createEventWithCodes(httpClient, fixedCodes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up event: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("created event %s with %d codes\n", eventID, fixedCodes)

	// --- Banner ---
	fmt.Println("==========================================")
	fmt.Println("doorlist approval load test (uniform)")
	fmt.Println("==========================================")
	fmt.Printf("event    : %s\n", eventID)
	fmt.Printf("RPS      : %d\n", fixedRPSTarget)
	fmt.Printf("duration : %v\n", fixedDuration)
	fmt.Println("==========================================")

	// --- Rate limiter & context ---
	burst := fixedRPSTarget / fixedWorkers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(fixedRPSTarget), burst)

	ctx, cancel := context.WithTimeout(context.Background(), fixedDuration)
	defer cancel()

	var result PerfResult
	var wg sync.WaitGroup

	// latencyChan collects latencies for P95 estimation.
	latencyChan := make(chan time.Duration, 4096)
	go trackP95(latencyChan, &result)

	// --- Workers ---
	for i := 0; i < fixedWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil { // context cancelled -> exit
					return
				}
				doRequest(httpClient, eventID, &result, latencyChan)
			}
		}()
	}

	start := time.Now()
	<-ctx.Done() // wait for duration

	// --- Cleanup ---
	wg.Wait()
	close(latencyChan)

	totalDur := time.Since(start)

	// --- Report ---
	fmt.Println("==========================================")
	fmt.Println("load test results")
	fmt.Println("==========================================")
	fmt.Printf("elapsed          : %.2fs\n", totalDur.Seconds())
	fmt.Printf("total requests   : %d\n", result.TotalRequests)
	fmt.Printf("succeeded        : %d\n", result.SuccessCount)
	fmt.Printf("failed           : %d\n", result.ErrorCount)

	actualRPS := float64(result.SuccessCount) / totalDur.Seconds()
	successRate := float64(result.SuccessCount) / float64(result.TotalRequests) * 100

	var avgLatency time.Duration
	if result.SuccessCount > 0 {
		avgLatency = time.Duration(result.LatencySum / result.SuccessCount)
	}

	fmt.Printf("actual RPS       : %.2f\n", actualRPS)
	fmt.Printf("success rate     : %.2f%%\n", successRate)
	fmt.Printf("avg latency      : %v\n", avgLatency)
	fmt.Printf("P95 latency      : %v\n", time.Duration(result.P95Latency))
	fmt.Println("==========================================")

	// --- Data Consistency Check ---
	fmt.Println("==========================================")
	fmt.Println("consistency check")
	fmt.Println("==========================================")

	if err := verifyDataConsistency(httpClient, eventID, result.SuccessCount); err != nil {
		fmt.Printf("consistency check FAILED: %v\n", err)
	} else {
		fmt.Println("consistency check passed")
	}
	fmt.Println("==========================================")
}

func postJSON(httpClient *http.Client, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// createEventWithCodes creates a fresh event and fills its code pool.
func createEventWithCodes(httpClient *http.Client, codes int) (string, error) {
	var event struct {
		ID string `json:"id"`
	}
	err := postJSON(httpClient, baseURL+"/admin/events", map[string]interface{}{
		"title":     fmt.Sprintf("load test %d", time.Now().Unix()),
		"date":      time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"location":  "loopback",
		"is_active": true,
	}, &event)
	if err != nil {
		return "", fmt.Errorf("create event failed: %w", err)
	}

	var generated struct {
		Created int `json:"created"`
	}
	err = postJSON(httpClient, baseURL+"/admin/events/"+event.ID+"/codes",
		map[string]int{"quantity": codes}, &generated)
	if err != nil {
		return "", fmt.Errorf("generate codes failed: %w", err)
	}
	if generated.Created != codes {
		return "", fmt.Errorf("generated %d codes, wanted %d", generated.Created, codes)
	}

	return event.ID, nil
}

// doRequest submits one unique guest application and approves it,
// counting success only when the approval returns an assigned code.
func doRequest(httpClient *http.Client, eventID string, result *PerfResult, latencyChan chan<- time.Duration) {
	start := time.Now()
	atomic.AddInt64(&result.TotalRequests, 1)

	var app struct {
		ID string `json:"id"`
	}
	err := postJSON(httpClient, baseURL+"/events/"+eventID+"/applications", map[string]string{
		"handle":        "guest_" + uuid.NewString(),
		"device_secret": uuid.NewString(),
	}, &app)
	if err != nil {
		atomic.AddInt64(&result.ErrorCount, 1)
		return
	}

	var approved struct {
		Code string `json:"code"`
	}
	err = postJSON(httpClient, baseURL+"/admin/applications/"+app.ID+"/approve", struct{}{}, &approved)
	latency := time.Since(start)

	if err != nil || approved.Code == "" {
		atomic.AddInt64(&result.ErrorCount, 1)
		return
	}

	atomic.AddInt64(&result.SuccessCount, 1)
	atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
	select {
	case latencyChan <- latency:
	default:
	}
}

// trackP95 maintains a best-effort rolling P95 latency estimation.
func trackP95(latencies <-chan time.Duration, result *PerfResult) {
	const size = 1000
	buf := make([]int64, 0, size)

	for lat := range latencies {
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else {
			// Replace random element (simple reservoir sampling)
			if idx := time.Now().UnixNano() % int64(size); idx < int64(size/10) {
				buf[idx] = lat.Nanoseconds()
			}
		}

		// Update P95 periodically
		if len(buf) >= 100 && len(buf)%100 == 0 {
			copyBuf := make([]int64, len(buf))
			copy(copyBuf, buf)
			quickSort(copyBuf)
			p95Index := int(float64(len(copyBuf)) * 0.95)
			if p95Index >= len(copyBuf) {
				p95Index = len(copyBuf) - 1
			}
			atomic.StoreInt64(&result.P95Latency, copyBuf[p95Index])
		}
	}
}

// quickSort sorts the array in ascending order
func quickSort(arr []int64) {
	if len(arr) < 2 {
		return
	}

	left, right := 0, len(arr)-1
	pivot := len(arr) / 2

	arr[pivot], arr[right] = arr[right], arr[pivot]

	for i := range arr {
		if arr[i] < arr[right] {
			arr[left], arr[i] = arr[i], arr[left]
			left++
		}
	}

	arr[left], arr[right] = arr[right], arr[left]

	quickSort(arr[:left])
	quickSort(arr[left+1:])
}

// verifyDataConsistency compares the pool's assigned-code count with
// the number of approvals the test observed.
func verifyDataConsistency(httpClient *http.Client, eventID string, expectedApproved int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/admin/events/"+eventID, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to get event: %w", err)
	}
	defer resp.Body.Close()

	var detail struct {
		Pool struct {
			Total      int64 `json:"total"`
			Unassigned int64 `json:"unassigned"`
		} `json:"pool"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return fmt.Errorf("failed to decode event detail: %w", err)
	}

	assigned := detail.Pool.Total - detail.Pool.Unassigned

	fmt.Printf("event              : %s\n", eventID)
	fmt.Printf("total codes        : %d\n", detail.Pool.Total)
	fmt.Printf("assigned (DB)      : %d\n", assigned)
	fmt.Printf("approved (client)  : %d\n", expectedApproved)
	fmt.Printf("remaining          : %d\n", detail.Pool.Unassigned)

	if assigned != expectedApproved {
		return fmt.Errorf("mismatch: DB=%d, client=%d, diff=%d",
			assigned, expectedApproved, assigned-expectedApproved)
	}
	if assigned > detail.Pool.Total {
		return fmt.Errorf("over-assignment: assigned=%d > total=%d", assigned, detail.Pool.Total)
	}

	return nil
}
