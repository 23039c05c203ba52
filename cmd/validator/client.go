package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// client talks to a running validator server.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func newValidateCmd() *cobra.Command {
	var (
		server      string
		sourceTech  string
		targetTech  string
		sourceFiles string
		targetFiles string
		scope       string
		output      string
		pollSecs    int
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Submit a static validation and wait for the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceTech == "" || targetTech == "" || scope == "" {
				return exitWith(exitBadInput, fmt.Errorf("--source-tech, --target-tech, and --scope are required"))
			}
			c := newClient(server)

			cfg := map[string]any{
				"source_technology": map[string]any{"name": sourceTech},
				"target_technology": map[string]any{"name": targetTech},
				"scope":             scope,
			}
			requestID, err := c.submitMultipart("/api/validate", cfg, sourceFiles, targetFiles)
			if err != nil {
				return err
			}
			fmt.Println("accepted:", requestID)
			return c.waitAndReport(requestID, output, time.Duration(pollSecs)*time.Second)
		},
	}
	cmd.Flags().StringVar(&server, "server", envOrDefault("VALIDATOR_URL", "http://localhost:8080"), "server base URL")
	cmd.Flags().StringVar(&sourceTech, "source-tech", "", "source technology name")
	cmd.Flags().StringVar(&targetTech, "target-tech", "", "target technology name")
	cmd.Flags().StringVar(&sourceFiles, "source-files", "", "path to source files (file or directory)")
	cmd.Flags().StringVar(&targetFiles, "target-files", "", "path to target files (file or directory)")
	cmd.Flags().StringVar(&scope, "scope", "", "validation scope")
	cmd.Flags().StringVar(&output, "output", "", "write the result JSON to this file")
	cmd.Flags().IntVar(&pollSecs, "poll-interval", 3, "status poll interval in seconds")
	return cmd
}

func newBehavioralCmd() *cobra.Command {
	var (
		server    string
		sourceURL string
		targetURL string
		scenarios string
		output    string
		timeout   int
	)

	cmd := &cobra.Command{
		Use:   "behavioral",
		Short: "Submit a behavioral validation and wait for the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceURL == "" || targetURL == "" || scenarios == "" {
				return exitWith(exitBadInput, fmt.Errorf("--source-url, --target-url, and --scenarios are required"))
			}
			c := newClient(server)

			var scenarioList []map[string]any
			for _, name := range strings.Split(scenarios, ",") {
				name = strings.TrimSpace(name)
				if name != "" {
					scenarioList = append(scenarioList, map[string]any{"name": name})
				}
			}
			body := map[string]any{
				"source_url": sourceURL,
				"target_url": targetURL,
				"scenarios":  scenarioList,
			}
			if timeout > 0 {
				body["timeout_seconds"] = timeout
			}

			requestID, err := c.submitJSON("/api/behavioral/validate", body)
			if err != nil {
				return err
			}
			fmt.Println("accepted:", requestID)
			return c.waitAndReport(requestID, output, 3*time.Second)
		},
	}
	cmd.Flags().StringVar(&server, "server", envOrDefault("VALIDATOR_URL", "http://localhost:8080"), "server base URL")
	cmd.Flags().StringVar(&sourceURL, "source-url", "", "source deployment URL")
	cmd.Flags().StringVar(&targetURL, "target-url", "", "target deployment URL")
	cmd.Flags().StringVar(&scenarios, "scenarios", "", "comma-separated scenario names")
	cmd.Flags().StringVar(&output, "output", "", "write the result JSON to this file")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "per-scenario timeout in seconds")
	return cmd
}

func newHealthCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(server)
			resp, err := c.http.Get(c.baseURL + "/health")
			if err != nil {
				return exitWith(exitTransport, err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			fmt.Println(string(body))
			if resp.StatusCode != http.StatusOK {
				return exitWith(exitTransport, fmt.Errorf("server unhealthy: %s", resp.Status))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", envOrDefault("VALIDATOR_URL", "http://localhost:8080"), "server base URL")
	return cmd
}

// submitMultipart posts the config plus the files under the given paths.
func (c *client) submitMultipart(path string, cfg map[string]any, sourcePath, targetPath string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", exitWith(exitBadInput, err)
	}
	if err := writer.WriteField("config", string(cfgJSON)); err != nil {
		return "", exitWith(exitTransport, err)
	}
	if err := attachFiles(writer, "source_files", sourcePath); err != nil {
		return "", err
	}
	if err := attachFiles(writer, "target_files", targetPath); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", exitWith(exitTransport, err)
	}

	resp, err := c.http.Post(c.baseURL+path, writer.FormDataContentType(), &body)
	if err != nil {
		return "", exitWith(exitTransport, err)
	}
	return c.parseAccepted(resp)
}

func (c *client) submitJSON(path string, body map[string]any) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", exitWith(exitBadInput, err)
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", exitWith(exitTransport, err)
	}
	return c.parseAccepted(resp)
}

func (c *client) parseAccepted(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusAccepted:
	case http.StatusBadRequest:
		return "", exitWith(exitBadInput, fmt.Errorf("request rejected: %s", body))
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return "", exitWith(exitTransport, fmt.Errorf("server overloaded: %s", body))
	default:
		return "", exitWith(exitTransport, fmt.Errorf("unexpected response %s: %s", resp.Status, body))
	}

	var accepted struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil || accepted.RequestID == "" {
		return "", exitWith(exitTransport, fmt.Errorf("malformed accept response: %s", body))
	}
	return accepted.RequestID, nil
}

// waitAndReport polls until the session is terminal, fetches the result,
// and maps the verdict onto an exit code.
func (c *client) waitAndReport(requestID, output string, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	for {
		status, err := c.fetchStatus(requestID)
		if err != nil {
			return err
		}
		switch status {
		case "completed":
			return c.fetchResult(requestID, output)
		case "failed":
			return exitWith(exitTransport, fmt.Errorf("session failed"))
		case "cancelled":
			return exitWith(exitTransport, fmt.Errorf("session cancelled"))
		case "timed_out":
			return exitWith(exitExhausted, fmt.Errorf("session deadline exhausted"))
		}
		time.Sleep(pollInterval)
	}
}

func (c *client) fetchStatus(requestID string) (string, error) {
	resp, err := c.http.Get(fmt.Sprintf("%s/api/validate/%s/status", c.baseURL, requestID))
	if err != nil {
		return "", exitWith(exitTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", exitWith(exitTransport, fmt.Errorf("status query failed: %s: %s", resp.Status, body))
	}
	var status struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", exitWith(exitTransport, err)
	}
	return status.Status, nil
}

func (c *client) fetchResult(requestID, output string) error {
	resp, err := c.http.Get(fmt.Sprintf("%s/api/validate/%s/result", c.baseURL, requestID))
	if err != nil {
		return exitWith(exitTransport, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return exitWith(exitTransport, err)
	}

	if output != "" {
		if err := os.WriteFile(output, body, 0o644); err != nil {
			return exitWith(exitTransport, err)
		}
		fmt.Println("result written to", output)
	} else {
		fmt.Println(string(body))
	}

	var parsed struct {
		Result struct {
			Status string `json:"overall_status"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Result.Status == "rejected" {
		return exitWith(exitRejected, fmt.Errorf("validation rejected"))
	}
	return nil
}

// attachFiles adds a file, or every regular file under a directory, to
// the multipart body.
func attachFiles(writer *multipart.Writer, field, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return exitWith(exitBadInput, err)
	}

	var paths []string
	if info.IsDir() {
		err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
				paths = append(paths, p)
			}
			return nil
		})
		if err != nil {
			return exitWith(exitBadInput, err)
		}
	} else {
		paths = []string{path}
	}

	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return exitWith(exitBadInput, err)
		}
		part, err := writer.CreateFormFile(field, filepath.Base(p))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		_ = f.Close()
		if err != nil {
			return exitWith(exitTransport, err)
		}
	}
	return nil
}
