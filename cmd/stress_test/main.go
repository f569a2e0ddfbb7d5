package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

const (
	initialStock  = 20
	totalRequests = 50
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "inventory server base URL")
	flag.Parse()

	client := resty.New().
		SetBaseURL(*baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	// Create a fresh product for this run
	var product domain.Product
	resp, err := client.R().
		SetBody(map[string]any{
			"name":          "stress-" + uuid.NewString()[:8],
			"initial_stock": initialStock,
			"price":         "1.00",
		}).
		SetResult(&product).
		Post("/api/products")
	if err != nil {
		log.Fatalf("failed to create product: %v", err)
	}
	if resp.StatusCode() != http.StatusCreated {
		log.Fatalf("failed to create product: %s %s", resp.Status(), resp.String())
	}

	// Counters
	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var otherCount atomic.Int32

	// Spawn concurrent OUT transactions
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			resp, err := client.R().
				SetHeader("Idempotency-Key", uuid.NewString()).
				SetBody(map[string]any{
					"product_id": product.ID,
					"quantity":   1,
					"type":       "OUT",
					"user":       fmt.Sprintf("user-%d", userID),
				}).
				Post("/api/transactions")
			switch {
			case err != nil:
				otherCount.Add(1)
			case resp.StatusCode() == http.StatusCreated:
				successCount.Add(1)
			case resp.StatusCode() == http.StatusConflict:
				soldOutCount.Add(1)
			default:
				otherCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	soldOut := soldOutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Recorded:         %d\n", success)
	fmt.Printf("Rejected:         %d\n", soldOut)
	fmt.Printf("Errors:           %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == initialStock && soldOut == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d transactions recorded, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d recorded/%d rejected, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, soldOut)
	}

	// Verify final stock
	var final domain.Product
	resp, err = client.R().SetResult(&final).Get("/api/products/" + product.ID)
	if err != nil || resp.StatusCode() != http.StatusOK {
		log.Fatalf("failed to read product: %v %s", err, resp.String())
	}
	fmt.Printf("Final Stock:      %d\n", final.CurrentStock)

	if final.CurrentStock == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", final.CurrentStock)
	}

	// Ask the server to flush anything the dispatcher could not submit
	var synced struct {
		Synced int `json:"synced"`
	}
	resp, err = client.R().SetResult(&synced).Post("/api/ledger/sync")
	switch {
	case err != nil:
		fmt.Printf("Ledger sync:      error %v\n", err)
	case resp.StatusCode() == http.StatusOK:
		fmt.Printf("Ledger sync:      %d records flushed\n", synced.Synced)
	default:
		fmt.Printf("Ledger sync:      %s\n", resp.Status())
	}
}
