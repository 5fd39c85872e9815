package core

import (
	"context"
	"sync"
)

// AsyncClient provides asynchronous memory operations.
//
// It wraps the synchronous Client and executes each call in its own
// goroutine, returning a channel that receives the result. Wait blocks until
// every started operation has finished.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	resultChan := asyncClient.AddMemoryAsync(ctx, "Shipped v2", "journal-42")
//	result := <-resultChan
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous client from configuration.
func NewAsyncClient(cfg *Config) (*AsyncClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewAsyncClientFrom(client), nil
}

// NewAsyncClientFrom wraps an existing client.
func NewAsyncClientFrom(client *Client) *AsyncClient {
	return &AsyncClient{Client: client}
}

// AddMemoryAsync runs AddMemory in a separate goroutine.
func (ac *AsyncClient) AddMemoryAsync(ctx context.Context, text, sourceID string, opts ...AddOption) <-chan *AddMemoryResult {
	resultChan := make(chan *AddMemoryResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		res, err := ac.AddMemory(ctx, text, sourceID, opts...)
		resultChan <- &AddMemoryResult{
			Result: res,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// SearchMemoryAsync runs SearchMemory in a separate goroutine.
func (ac *AsyncClient) SearchMemoryAsync(ctx context.Context, query string, opts ...SearchOption) <-chan *AsyncSearchResult {
	resultChan := make(chan *AsyncSearchResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		results, err := ac.SearchMemory(ctx, query, opts...)
		resultChan <- &AsyncSearchResult{
			Results: results,
			Error:   err,
		}
		close(resultChan)
	}()

	return resultChan
}

// Wait blocks until all started operations complete.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close waits for pending operations, then closes the client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}

// AddMemoryResult is the result of an asynchronous add.
type AddMemoryResult struct {
	// Result is the add result (nil on error).
	Result *AddResult

	// Error is the error if the operation failed.
	Error error
}

// AsyncSearchResult is the result of an asynchronous search.
type AsyncSearchResult struct {
	// Results are the ranked hits (nil on error).
	Results []*ScoredMemoryPoint

	// Error is the error if the operation failed.
	Error error
}
