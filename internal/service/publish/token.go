package publish

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/luoqisheng/echobridge/internal/config"
)

// MintToken 签发进入指定房间的访问令牌。HS256 + API密钥对，
// 令牌内携带房间授权声明。
func MintToken(cfg config.RoomConfig, room, identity string) (string, error) {
	room = strings.TrimSpace(room)
	identity = strings.TrimSpace(identity)
	if room == "" {
		return "", fmt.Errorf("room name is empty")
	}
	if identity == "" {
		return "", fmt.Errorf("identity is empty")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": cfg.APIKey,
		"sub": identity,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(cfg.TokenTTL).Unix(),
		"video": map[string]any{
			"room":     room,
			"roomJoin": true,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.APISecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign room token: %w", err)
	}
	return signed, nil
}
