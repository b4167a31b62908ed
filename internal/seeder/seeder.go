package seeder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"go.uber.org/zap"

	"github.com/khanhng/llm-router/internal/auth"
)

const (
	TestAPIKey   = "test-api-key-12345"
	TestTenantID = "00000000-0000-0000-0000-000000000001"
)

func SeedTestAPIKey(ctx context.Context, store auth.Store, logger *zap.Logger) {
	h := sha256.New()
	h.Write([]byte(TestAPIKey))
	keyHash := hex.EncodeToString(h.Sum(nil))

	apiKey := &auth.APIKey{
		TenantID:  TestTenantID,
		KeyHash:   keyHash,
		RateLimit: 1000000,
		Active:    true,
	}

	err := store.Create(ctx, apiKey)
	if err != nil {
		logger.Info("test api key may already exist, skipping", zap.Error(err))
		return
	}
	logger.Info("test api key created",
		zap.String("key", TestAPIKey),
		zap.String("tenant_id", TestTenantID))
}
