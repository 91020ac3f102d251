package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

func stateCmd(args []string, out io.Writer) error {
	return adminHTTP("state", http.MethodGet, "/admin/v1/state", 5*time.Second, args, out)
}

func flushCmd(args []string, out io.Writer) error {
	return adminHTTP("flush", http.MethodPost, "/admin/v1/flush", 10*time.Second, args, out)
}

func adminHTTP(name, method, path string, timeout time.Duration, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	if err := fs.Parse(args); err != nil {
		return err
	}
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + path
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return err
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(out, strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s: status %d", name, resp.StatusCode)
	}
	return nil
}
