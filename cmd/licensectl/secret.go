package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"license-admission-service/internal/infra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage the license secret",
}

var sealKeyName string

var secretSealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Encrypt a license secret with Cloud KMS",
	Long:  "Read a license secret from stdin and print the base64 ciphertext for LICENSE_SECRET_CIPHERTEXT",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		if sealKeyName == "" {
			sealKeyName = os.Getenv("KMS_KEY_NAME")
		}

		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading secret: %w", err)
		}
		secret := strings.TrimRight(string(b), "\r\n")
		if secret == "" {
			return fmt.Errorf("secret is empty")
		}

		// KMSクライアント初期化
		kmsClient, err := infra.NewKMSClient(ctx, sealKeyName)
		if err != nil {
			return err
		}
		defer kmsClient.Close()

		ciphertext, err := kmsClient.Encrypt(ctx, []byte(secret))
		if err != nil {
			return err
		}

		fmt.Println(base64.StdEncoding.EncodeToString(ciphertext))
		return nil
	},
}

func init() {
	secretSealCmd.Flags().StringVar(&sealKeyName, "key-name", "", "Cloud KMS key resource name (or set KMS_KEY_NAME)")
	secretCmd.AddCommand(secretSealCmd)
}
