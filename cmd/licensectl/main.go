// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	apiURL  string
	output  string
	timeout time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "licensectl",
		Short:         "License Admission Service CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("LICENSECTL_API_URL")
			}
			apiURL = strings.TrimRight(apiURL, "/")
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set LICENSECTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(uploadCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("licensectl version %s\n", version)
		},
	}
}

// doRequest はAPIを呼び出し、期待するステータス以外はエラーとして返す。
func doRequest(method, path string, body any, wantStatus ...int) ([]byte, int, error) {
	if apiURL == "" {
		return nil, 0, fmt.Errorf("--api-url is required (or set LICENSECTL_API_URL)")
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, apiURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	for _, s := range wantStatus {
		if resp.StatusCode == s {
			return respBody, resp.StatusCode, nil
		}
	}
	return nil, resp.StatusCode, handleErrorResponse(resp.StatusCode, respBody)
}

type claimsView struct {
	MACAddress string `json:"mac_address"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Users      int    `json:"users"`
	AppID      string `json:"app_id"`
}

func printClaims(c *claimsView) {
	if c == nil {
		fmt.Println("License:     (none)")
		return
	}
	fmt.Printf("App ID:      %s\n", c.AppID)
	fmt.Printf("MAC address: %s\n", c.MACAddress)
	fmt.Printf("Valid:       %s to %s\n", c.StartDate, c.EndDate)
	fmt.Printf("Users:       %d\n", c.Users)
}

// statusCmd はサーバーのライセンス状態を表示する。
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the license state of the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _, err := doRequest(http.MethodGet, "/v1/license/status", nil, http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result struct {
				Status         string      `json:"status"`
				UpdatedAt      string      `json:"updated_at"`
				ActiveSessions int64       `json:"active_sessions"`
				License        *claimsView `json:"license"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Status:      %s\n", result.Status)
			fmt.Printf("Sessions:    %d\n", result.ActiveSessions)
			printClaims(result.License)
			return nil
		},
	}
}

// uploadCmd はライセンスのアップロードコマンド。
func uploadCmd() *cobra.Command {
	var file, uploadedBy string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload and activate a license artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			artifact, err := readArtifact(file)
			if err != nil {
				return err
			}

			body, _, err := doRequest(http.MethodPost, "/v1/licenses", map[string]string{
				"license_key": artifact,
				"uploaded_by": uploadedBy,
			}, http.StatusCreated)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result struct {
				ID      string      `json:"id"`
				Warning string      `json:"warning"`
				License *claimsView `json:"license"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Activated license %s\n", result.ID)
			printClaims(result.License)
			if result.Warning != "" {
				fmt.Printf("Warning:     %s\n", result.Warning)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "License file path, or - for stdin (required)")
	cmd.Flags().StringVar(&uploadedBy, "uploaded-by", "", "Name of the uploading administrator (required)")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("uploaded-by")
	return cmd
}

// listCmd はライセンス一覧の取得コマンド。
func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List uploaded licenses",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _, err := doRequest(http.MethodGet, "/v1/licenses", nil, http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result struct {
				Licenses []struct {
					ID         string `json:"id"`
					UploadedBy string `json:"uploaded_by"`
					CreatedAt  string `json:"created_at"`
					IsActive   bool   `json:"is_active"`
					EndDate    string `json:"end_date"`
				} `json:"licenses"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tACTIVE\tEND DATE\tUPLOADED BY\tCREATED AT")
			for _, l := range result.Licenses {
				endDate := l.EndDate
				if endDate == "" {
					endDate = "-"
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n", l.ID, l.IsActive, endDate, l.UploadedBy, l.CreatedAt)
			}
			return w.Flush()
		},
	}
}

// deleteCmd はライセンスの削除コマンド。
func deleteCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a license record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := doRequest(http.MethodDelete, "/v1/licenses/"+id, nil, http.StatusNoContent); err != nil {
				return err
			}

			if output == "json" {
				fmt.Println("{}")
			} else {
				fmt.Printf("Deleted license %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "License record ID (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("Error: %s (%s)", errResp.Message, errResp.Code)
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
