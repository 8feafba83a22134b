package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"livecode-sandbox/internal/runtime"
)

var (
	serverURL string
	apiKey    string
	timeout   int
	language  string
	sessionID string
)

func main() {
	root := &cobra.Command{
		Use:   "sandbox-cli",
		Short: "CLI client for the livecode sandbox",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SANDBOX_API_KEY"), "API key")

	execCmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Execute code in a sandbox",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExec,
	}
	execCmd.Flags().IntVar(&timeout, "timeout", 0, "Execution timeout in seconds (1-300, 0 for the server default)")
	execCmd.Flags().StringVarP(&language, "language", "l", "python", "Language ("+languageList()+")")
	execCmd.Flags().StringVar(&sessionID, "session", "", "Session to report the run to")
	root.AddCommand(execCmd)

	execFileCmd := &cobra.Command{
		Use:   "exec-file [file]",
		Short: "Execute code from a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExecFile,
	}
	execFileCmd.Flags().IntVar(&timeout, "timeout", 0, "Execution timeout in seconds (1-300, 0 for the server default)")
	execFileCmd.Flags().StringVarP(&language, "language", "l", "", "Language (detected from the file name or content)")
	execFileCmd.Flags().StringVar(&sessionID, "session", "", "Session to report the run to")
	root.AddCommand(execFileCmd)

	root.AddCommand(&cobra.Command{
		Use:   "languages",
		Short: "List supported languages",
		RunE: func(_ *cobra.Command, _ []string) error {
			return getAndPrint("/languages")
		},
	})

	hooksCmd := &cobra.Command{
		Use:   "hooks",
		Short: "Inspect event hooks",
	}
	hooksCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show hook statistics",
		RunE: func(_ *cobra.Command, _ []string) error {
			return getAndPrint("/hooks/stats")
		},
	})
	root.AddCommand(hooksCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(_ *cobra.Command, _ []string) error {
			return getAndPrint("/health")
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recent executions",
		RunE: func(_ *cobra.Command, _ []string) error {
			return getAndPrint("/executions")
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func languageList() string {
	var buf bytes.Buffer
	for i, l := range runtime.All() {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(string(l))
	}
	return buf.String()
}

func runExec(_ *cobra.Command, args []string) error {
	var code string

	if len(args) > 0 {
		code = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		code = string(data)
	}

	return executeCode(code, language)
}

func runExecFile(_ *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	if language == "" {
		reg := runtime.NewRegistry()
		lang, ok := reg.DetectFromFilename(args[0])
		if !ok {
			lang, ok = reg.DetectFromContent(string(data))
		}
		if !ok {
			return fmt.Errorf("cannot detect language for %q, use --language flag", args[0])
		}
		language = string(lang)
	}

	return executeCode(string(data), language)
}

func executeCode(code, lang string) error {
	payload := map[string]any{
		"code":     code,
		"language": lang,
	}
	if timeout > 0 {
		payload["timeout"] = timeout
	}
	if sessionID != "" {
		payload["session_id"] = sessionID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	// Above the longest sandbox timeout plus overhead.
	client := &http.Client{Timeout: 310 * time.Second}
	result, err := doJSON(client, req)
	if err != nil {
		return err
	}

	if m, ok := result.(map[string]any); ok {
		if exitCode, ok := m["exit_code"].(float64); ok && exitCode != 0 {
			os.Exit(int(exitCode))
		}
	}
	return nil
}

func getAndPrint(path string) error {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return err
	}
	_, err = doJSON(&http.Client{Timeout: 10 * time.Second}, req)
	return err
}

// doJSON sends req, pretty prints the JSON body and returns it decoded.
func doJSON(client *http.Client, req *http.Request) (any, error) {
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusServiceUnavailable {
		return result, fmt.Errorf("server returned %s", resp.Status)
	}
	return result, nil
}
