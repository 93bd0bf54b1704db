package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/nextlevelbuilder/gohive/internal/config"
)

var gatewayAddr string

// gatewayTarget resolves the gateway address and token for client commands.
// Flags win, then env, then the local config file.
func gatewayTarget() (addr, token string, err error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return "", "", fmt.Errorf("load config: %w", err)
	}
	addr = gatewayAddr
	if addr == "" {
		addr = os.Getenv("GOHIVE_GATEWAY_ADDR")
	}
	if addr == "" {
		host := cfg.Gateway.Host
		if host == "0.0.0.0" || host == "" {
			host = "127.0.0.1"
		}
		addr = fmt.Sprintf("%s:%d", host, cfg.Gateway.Port)
	}
	return addr, cfg.Gateway.Token, nil
}

func apiRequest(method, addr, token, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, "http://"+addr+path, reader)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 400 {
		if msg, ok := out["error"].(string); ok {
			return nil, fmt.Errorf("gateway: %s", msg)
		}
		return nil, fmt.Errorf("gateway: HTTP %d", resp.StatusCode)
	}
	return out, nil
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
