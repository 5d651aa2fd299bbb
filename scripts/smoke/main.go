// Command smoke drives the full credential flow against a running instance
// and exits nonzero when any step misbehaves. Intended for post-deploy checks.
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
	"time"

	"github.com/google/uuid"
)

type envelope struct {
	Data  map[string]interface{} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type check struct {
	Name     string
	Err      error
	Duration time.Duration
}

func main() {
	var (
		base    string
		timeout time.Duration
	)
	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	client := &http.Client{Timeout: timeout}
	probe := &prober{client: client, base: base}

	// A throwaway account per run keeps the probe idempotent.
	username := "smoke-" + uuid.NewString()
	password := uuid.NewString()

	checks := []check{
		probe.run("health", func() error { return probe.expectStatus(http.MethodGet, "/health", nil, "", http.StatusOK, nil) }),
		probe.run("register", func() error { return probe.register(username, password) }),
		probe.run("login", func() error { return probe.login(username, password) }),
		probe.run("authenticated lookup", probe.lookupSelf),
		probe.run("refresh", probe.refresh),
		probe.run("bad refresh rejected", func() error {
			return probe.expectStatus(http.MethodPost, "/auth/refresh",
				map[string]interface{}{"user_id": probe.userID, "refresh_token": "fabricated"},
				"", http.StatusUnauthorized, nil)
		}),
		probe.run("bad credentials rejected", func() error {
			return probe.expectStatus(http.MethodPost, "/auth/login",
				map[string]interface{}{"username": username, "password": "wrong-" + password},
				"", http.StatusUnauthorized, nil)
		}),
	}

	failed := 0
	fmt.Println("Credential Flow Smoke Report")
	fmt.Println("============================")
	for _, c := range checks {
		status := "OK"
		if c.Err != nil {
			status = "FAIL"
			failed++
		}
		fmt.Printf("[%s] %s (%s)\n", status, c.Name, c.Duration)
		if c.Err != nil {
			fmt.Printf("  %v\n", c.Err)
		}
	}
	if failed > 0 {
		fmt.Printf("%d of %d checks failed\n", failed, len(checks))
		os.Exit(1)
	}
	fmt.Printf("all %d checks passed\n", len(checks))
}

type prober struct {
	client *http.Client
	base   string

	userID       float64
	accessToken  string
	refreshToken string
}

func (p *prober) run(name string, fn func() error) check {
	start := time.Now()
	err := fn()
	return check{Name: name, Err: err, Duration: time.Since(start)}
}

func (p *prober) register(username, password string) error {
	var env envelope
	err := p.expectStatus(http.MethodPost, "/auth/register", map[string]interface{}{
		"first_name": "Smoke",
		"last_name":  "Probe",
		"username":   username,
		"password":   password,
	}, "", http.StatusCreated, &env)
	if err != nil {
		return err
	}
	id, ok := env.Data["user_id"].(float64)
	if !ok || id == 0 {
		return fmt.Errorf("registration returned no user_id: %v", env.Data)
	}
	p.userID = id
	return nil
}

func (p *prober) login(username, password string) error {
	resp, env, err := p.do(http.MethodPost, "/auth/login", map[string]interface{}{
		"username": username,
		"password": password,
	}, "")
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login returned %d", resp.StatusCode)
	}
	access, _ := env.Data["access_token"].(string)
	refresh, _ := env.Data["refresh_token"].(string)
	if access == "" || refresh == "" {
		return fmt.Errorf("login returned an incomplete token pair: %v", env.Data)
	}
	if got := resp.Header.Get("Authorization"); got != "Bearer "+access {
		return fmt.Errorf("Authorization header %q does not mirror the access token", got)
	}
	p.accessToken = access
	p.refreshToken = refresh
	return nil
}

func (p *prober) lookupSelf() error {
	return p.expectStatus(http.MethodGet, fmt.Sprintf("/users/%d", int64(p.userID)), nil, p.accessToken, http.StatusOK, nil)
}

func (p *prober) refresh() error {
	var env envelope
	err := p.expectStatus(http.MethodPost, "/auth/refresh", map[string]interface{}{
		"user_id":       p.userID,
		"refresh_token": p.refreshToken,
	}, "", http.StatusOK, &env)
	if err != nil {
		return err
	}
	access, _ := env.Data["access_token"].(string)
	if access == "" {
		return fmt.Errorf("refresh returned no access token: %v", env.Data)
	}
	// The fresh token must work against a protected route.
	return p.expectStatus(http.MethodGet, fmt.Sprintf("/users/%d", int64(p.userID)), nil, access, http.StatusOK, nil)
}

func (p *prober) expectStatus(method, path string, payload map[string]interface{}, token string, want int, out *envelope) error {
	resp, env, err := p.do(method, path, payload, token)
	if err != nil {
		return err
	}
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s returned %d, want %d", method, path, resp.StatusCode, want)
	}
	if out != nil {
		*out = env
	}
	return nil
}

func (p *prober) do(method, path string, payload map[string]interface{}, token string) (*http.Response, envelope, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, envelope{}, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, p.base+path, body)
	if err != nil {
		return nil, envelope{}, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, envelope{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, envelope{}, err
	}
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("non-JSON body from %s %s: %q", method, path, raw)
		}
	}
	return resp, env, nil
}
