package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const (
	serverBinary       = "wistia-offline-server"
	serverStartTimeout = 10 * time.Second
	serverPollInterval = 200 * time.Millisecond
)

// serverConfigPath is passed to an auto-started server
var serverConfigPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&serverConfigPath, "server-config", "", "Config file for an auto-started server")
}

// isServerRunning checks if the server is up and its persistence manager accepts commands
func isServerRunning() bool {
	client := &http.Client{Timeout: 1 * time.Second}
	resp, err := client.Get(serverURL + "/ready")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// serverCandidates lists where the server binary is looked for, in order
func serverCandidates() []string {
	var candidates []string
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), serverBinary))
	}
	if p, err := exec.LookPath(serverBinary); err == nil {
		candidates = append(candidates, p)
	}
	home := os.Getenv("HOME")
	return append(candidates,
		"/usr/local/bin/"+serverBinary,
		"/usr/bin/"+serverBinary,
		filepath.Join(home, "go/bin", serverBinary),
		filepath.Join(home, ".local/bin", serverBinary),
	)
}

func findServerBinary() (string, error) {
	for _, p := range serverCandidates() {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s binary not found", serverBinary)
}

// startServerBackground starts the server as a detached background process
func startServerBackground() error {
	serverPath, err := findServerBinary()
	if err != nil {
		return err
	}

	var args []string
	if serverConfigPath != "" {
		args = append(args, "-config", serverConfigPath)
	}
	cmd := exec.Command(serverPath, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	// Reap the child if it exits while the CLI is still running
	go func() {
		cmd.Wait()
	}()

	return nil
}

// waitForServerReady polls the server until it's ready or timeout
func waitForServerReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if isServerRunning() {
			return nil
		}
		time.Sleep(serverPollInterval)
	}

	return fmt.Errorf("server did not become ready within %v", timeout)
}

// ensureServerRunning checks if server is running, starts it if not
func ensureServerRunning() error {
	if isServerRunning() {
		return nil
	}

	fmt.Fprintln(os.Stderr, "Server not running, starting...")

	if err := startServerBackground(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if err := waitForServerReady(serverStartTimeout); err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "Server started successfully")
	return nil
}
