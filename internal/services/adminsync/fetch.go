package adminsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"restaurant-orders/internal/models"
)

const fetchPageSize = 100

// Fetcher reads the authoritative order list of a business day
type Fetcher interface {
	// FetchOrders returns every order of date and the time the read started
	FetchOrders(ctx context.Context, date string) ([]models.Order, time.Time, error)
}

// RESTFetcher pages through GET /orders of order-service
type RESTFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewRESTFetcher(baseURL, token string, client *http.Client) *RESTFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTFetcher{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

// FetchOrders reads all pages, each resuming behind the last order of the
// previous one, so an order that exists across the whole read is never
// skipped. The returned time is when the first page was read.
func (f *RESTFetcher) FetchOrders(ctx context.Context, date string) ([]models.Order, time.Time, error) {
	first, err := f.fetchPage(ctx, date, "")
	if err != nil {
		return nil, time.Time{}, err
	}
	orders := append([]models.Order(nil), first.Orders...)

	for next := first.NextCursor; next != ""; {
		p, err := f.fetchPage(ctx, date, next)
		if err != nil {
			return nil, time.Time{}, err
		}
		orders = append(orders, p.Orders...)
		next = p.NextCursor
	}
	return orders, first.AsOf, nil
}

func (f *RESTFetcher) fetchPage(ctx context.Context, date, after string) (*models.OrderPage, error) {
	q := url.Values{}
	q.Set("date", date)
	q.Set("pageSize", strconv.Itoa(fetchPageSize))
	if after != "" {
		q.Set("after", after)
	}
	endpoint := f.baseURL + "/orders?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &models.ConnectivityError{Endpoint: f.baseURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &models.ConnectivityError{Endpoint: f.baseURL, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)
		return nil, fmt.Errorf("order listing failed with status %d: %s", resp.StatusCode, body.Error)
	}

	var p models.OrderPage
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode order page: %w", err)
	}
	return &p, nil
}
