package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"
)

// serviceAccount is the subset of a Google service-account JSON key needed
// to mint an OAuth bearer for FCM HTTP v1.
type serviceAccount struct {
	ProjectID   string `json:"project_id"`
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
	TokenURI    string `json:"token_uri"`
}

const fcmMessagingScope = "https://www.googleapis.com/auth/firebase.messaging"

// exchangeFCMToken exchanges a service-account key for a short-lived OAuth
// bearer via the JWT-bearer grant. The RS256 assertion signing and
// token-endpoint exchange are handled by golang.org/x/oauth2/jwt.
func exchangeFCMToken(ctx context.Context, httpClient *http.Client, raw json.RawMessage) (string, string, error) {
	var sa serviceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return "", "", fmt.Errorf("decoding FCM service account: %w", err)
	}

	tokenURI := sa.TokenURI
	if tokenURI == "" {
		tokenURI = "https://oauth2.googleapis.com/token"
	}

	cfg := &jwt.Config{
		Email:      sa.ClientEmail,
		PrivateKey: []byte(sa.PrivateKey),
		Scopes:     []string{fcmMessagingScope},
		TokenURL:   tokenURI,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	token, err := cfg.TokenSource(ctx).Token()
	if err != nil {
		return "", "", fmt.Errorf("exchanging FCM token: %w", err)
	}

	return token.AccessToken, sa.ProjectID, nil
}
