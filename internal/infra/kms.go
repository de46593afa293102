package infra

import (
	"context"
	"fmt"
	"hash/crc32"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// secretAAD はライセンスシークレットの暗号文に結び付ける追加認証データ。
// 他用途で同じ鍵により暗号化された値を復号できないようにする。
var secretAAD = []byte("license-admission-service/license-secret")

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

func checksum(b []byte) *wrapperspb.Int64Value {
	return wrapperspb.Int64(int64(crc32.Checksum(b, crc32cTable)))
}

// keyManagementAPI はKMSClientが利用するCloud KMS APIの部分集合。
type keyManagementAPI interface {
	Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...gax.CallOption) (*kmspb.EncryptResponse, error)
	Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...gax.CallOption) (*kmspb.DecryptResponse, error)
	Close() error
}

// KMSClient はライセンスシークレットをCloud KMSで暗号化・復号する。
// 送受信データはCRC32Cで完全性を確認する。
type KMSClient struct {
	client  keyManagementAPI
	keyName string
}

// NewKMSClient は指定したキー名のKMSClientを生成する。
func NewKMSClient(ctx context.Context, keyName string) (*KMSClient, error) {
	if keyName == "" {
		return nil, fmt.Errorf("KMS_KEY_NAME is required")
	}

	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}
	return newKMSClient(client, keyName), nil
}

func newKMSClient(client keyManagementAPI, keyName string) *KMSClient {
	return &KMSClient{client: client, keyName: keyName}
}

// Encrypt はライセンスシークレットを暗号化する。
func (c *KMSClient) Encrypt(ctx context.Context, secret []byte) ([]byte, error) {
	resp, err := c.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:                              c.keyName,
		Plaintext:                         secret,
		PlaintextCrc32C:                   checksum(secret),
		AdditionalAuthenticatedData:       secretAAD,
		AdditionalAuthenticatedDataCrc32C: checksum(secretAAD),
	})
	if err != nil {
		return nil, fmt.Errorf("encrypting license secret: %w", err)
	}

	if !resp.VerifiedPlaintextCrc32C || !resp.VerifiedAdditionalAuthenticatedDataCrc32C {
		return nil, fmt.Errorf("encrypting license secret: request corrupted in transit")
	}
	if resp.CiphertextCrc32C.GetValue() != checksum(resp.Ciphertext).GetValue() {
		return nil, fmt.Errorf("encrypting license secret: response corrupted in transit")
	}
	return resp.Ciphertext, nil
}

// Decrypt はライセンスシークレットの暗号文を復号する。
func (c *KMSClient) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	resp, err := c.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:                              c.keyName,
		Ciphertext:                        ciphertext,
		CiphertextCrc32C:                  checksum(ciphertext),
		AdditionalAuthenticatedData:       secretAAD,
		AdditionalAuthenticatedDataCrc32C: checksum(secretAAD),
	})
	if err != nil {
		return nil, fmt.Errorf("decrypting license secret: %w", err)
	}

	if resp.PlaintextCrc32C.GetValue() != checksum(resp.Plaintext).GetValue() {
		return nil, fmt.Errorf("decrypting license secret: response corrupted in transit")
	}
	return resp.Plaintext, nil
}

// Close はKMSクライアントを閉じる。
func (c *KMSClient) Close() error {
	return c.client.Close()
}
