package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"license-admission-service/internal/domain"
	"license-admission-service/internal/infra"
	"license-admission-service/internal/license"
)

// readArtifact はファイルまたは標準入力からアーティファクトを読み込む。
func readArtifact(path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading license: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// verifyCmd はライセンスの検証コマンド。
// 既定ではこのホスト上でオフライン検証し、--remote でサーバーに再検証を要求する。
func verifyCmd() *cobra.Command {
	var file, secret string
	var remote bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a license artifact on this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("LICENSE_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret is required (or set LICENSE_SECRET)")
			}
			if remote {
				return verifyRemote(secret)
			}
			if file == "" {
				return fmt.Errorf("--file is required for offline verification")
			}

			artifact, err := readArtifact(file)
			if err != nil {
				return err
			}

			validator := license.NewValidator([]byte(secret), infra.NewNetHost())
			res, err := validator.Validate(artifact, time.Now())
			if err != nil && !errors.Is(err, domain.ErrExpired) {
				return fmt.Errorf("license is invalid: %w", err)
			}
			expired := err != nil

			if output == "json" {
				out, merr := json.Marshal(map[string]any{
					"valid":         !expired,
					"expired":       expired,
					"expiring_soon": res.ExpiringSoon,
					"days_left":     res.DaysLeft,
					"license":       res.Claims,
				})
				if merr != nil {
					return fmt.Errorf("encoding output: %w", merr)
				}
				fmt.Println(string(out))
			} else {
				printClaims(&claimsView{
					MACAddress: res.Claims.MACAddress,
					StartDate:  res.Claims.StartDate.String(),
					EndDate:    res.Claims.EndDate.String(),
					Users:      res.Claims.Users,
					AppID:      res.Claims.AppID,
				})
				switch {
				case expired:
					fmt.Println("Status:      expired")
				case res.ExpiringSoon:
					fmt.Printf("Status:      valid (expires in %d day(s))\n", res.DaysLeft)
				default:
					fmt.Println("Status:      valid")
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "License file path, or - for stdin")
	cmd.Flags().StringVar(&secret, "secret", "", "License secret (or set LICENSE_SECRET)")
	cmd.Flags().BoolVar(&remote, "remote", false, "Ask the server to re-verify its active license")
	return cmd
}

func verifyRemote(secret string) error {
	body, status, err := doRequest(http.MethodPost, "/v1/license/verify",
		map[string]string{"secret": secret}, http.StatusOK, http.StatusForbidden)
	if err != nil {
		return err
	}

	var result struct {
		Valid   bool        `json:"valid"`
		Expired bool        `json:"expired"`
		Warning string      `json:"warning"`
		License *claimsView `json:"license"`
		Message string      `json:"message"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	// 403はシークレット不一致の場合もある
	if status == http.StatusForbidden && !result.Expired {
		return handleErrorResponse(status, body)
	}

	if output == "json" {
		fmt.Println(string(body))
	} else {
		printClaims(result.License)
		if result.Warning != "" {
			fmt.Printf("Warning:     %s\n", result.Warning)
		}
	}
	if result.Expired {
		return domain.ErrExpired
	}
	return nil
}
