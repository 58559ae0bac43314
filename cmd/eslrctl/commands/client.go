// Package commands implements the eslrctl CLI commands.
package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// neighborView mirrors internal/server's JSON shape for a neighbor record.
type neighborView struct {
	NeighborID int    `json:"neighbor_id"`
	Address    string `json:"address"`
	IfIndex    int    `json:"if_index"`
	LocalAddr  string `json:"local_addr"`
	State      string `json:"state"`
}

// routeView mirrors internal/server's JSON shape for a route record.
type routeView struct {
	Prefix    string `json:"prefix"`
	NextHop   string `json:"next_hop"`
	IfIndex   int    `json:"if_index"`
	Metric    uint32 `json:"metric"`
	Seq       uint16 `json:"seq"`
	RouteType string `json:"route_type,omitempty"`
	Validity  string `json:"validity"`
}

type printingMethodView struct {
	Method string `json:"method"`
}

// apiClient talks to a running eslrd's JSON control API over plain HTTP.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(addr string) *apiClient {
	return &apiClient{
		baseURL: "http://" + addr,
		http:    http.DefaultClient,
	}
}

func (c *apiClient) neighbors(ctx context.Context) ([]neighborView, error) {
	var views []neighborView
	if err := c.get(ctx, "/api/v1/neighbors", &views); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *apiClient) routesMain(ctx context.Context) ([]routeView, error) {
	var views []routeView
	if err := c.get(ctx, "/api/v1/routes/main", &views); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *apiClient) routesBackup(ctx context.Context) ([]routeView, error) {
	var views []routeView
	if err := c.get(ctx, "/api/v1/routes/backup", &views); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *apiClient) printingMethod(ctx context.Context) (string, error) {
	var view printingMethodView
	if err := c.get(ctx, "/api/v1/debug/printing-method", &view); err != nil {
		return "", err
	}
	return view.Method, nil
}

func (c *apiClient) setPrintingMethod(ctx context.Context, method string) (string, error) {
	var view printingMethodView
	if err := c.put(ctx, "/api/v1/debug/printing-method", printingMethodView{Method: method}, &view); err != nil {
		return "", err
	}
	return view.Method, nil
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *apiClient) put(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *apiClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
