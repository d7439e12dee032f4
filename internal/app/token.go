package app

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/services"
)

// IssueDevToken signs an access token for ownerID with JWT_SECRET_KEY. It
// needs none of the other config, so it works without a database.
func IssueDevToken(ownerID string) (string, error) {
	_ = godotenv.Load(".env", ".env.local")
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return issueToken(v, ownerID)
}

func issueToken(v *viper.Viper, ownerID string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(ownerID))
	if err != nil {
		return "", fmt.Errorf("invalid owner id %q: %w", ownerID, err)
	}
	secret := v.GetString("JWT_SECRET_KEY")
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("missing JWT_SECRET_KEY")
	}
	auth := services.NewAuthService(logger.Nop(), secret, durationOf(v, "ACCESS_TOKEN_TTL"))
	return auth.IssueToken(id)
}
