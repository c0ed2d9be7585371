package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/aiboxcloud/management/internal/config"
	"github.com/aiboxcloud/management/pkg/models"
)

// Directory lists the provider's user accounts through its management
// API, authenticating with the client-credentials grant. The token is
// cached and refreshed by the oauth2 client transport.
type Directory struct {
	base   string
	client *http.Client
}

// NewDirectory builds a directory client from the management-API
// credentials. The returned client owns its token lifecycle.
func NewDirectory(cfg config.SSOConfig) *Directory {
	cc := clientcredentials.Config{
		ClientID:     cfg.MgmtClientID,
		ClientSecret: cfg.MgmtClientSecret,
		TokenURL:     strings.TrimSuffix(cfg.Endpoint, "/") + "/oidc/token",
		EndpointParams: map[string][]string{
			"resource": {cfg.MgmtResource},
			"scope":    {"all"},
		},
	}
	client := cc.Client(context.Background())
	client.Timeout = 15 * time.Second
	return &Directory{
		base:   strings.TrimSuffix(cfg.Endpoint, "/"),
		client: client,
	}
}

// directoryUser is the provider's wire shape for an account.
type directoryUser struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PrimaryEmail string `json:"primaryEmail"`
	PrimaryPhone string `json:"primaryPhone"`
	Name         string `json:"name"`
	Avatar       string `json:"avatar"`
	LastSignInAt int64  `json:"lastSignInAt"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
	IsSuspended  bool   `json:"isSuspended"`
	HasPassword  bool   `json:"hasPassword"`
}

// ListUsers fetches every account registered at the provider.
func (d *Directory) ListUsers(ctx context.Context) ([]models.DirectoryUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base+"/api/users", nil)
	if err != nil {
		return nil, fmt.Errorf("build directory request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list directory users: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list directory users: provider returned %s", resp.Status)
	}

	var wire []directoryUser
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode directory users: %w", err)
	}

	out := make([]models.DirectoryUser, 0, len(wire))
	for _, u := range wire {
		out = append(out, models.DirectoryUser{
			ID:           u.ID,
			Username:     u.Username,
			PrimaryEmail: u.PrimaryEmail,
			PrimaryPhone: u.PrimaryPhone,
			Name:         u.Name,
			Avatar:       u.Avatar,
			LastSignInAt: u.LastSignInAt,
			CreatedAt:    u.CreatedAt,
			UpdatedAt:    u.UpdatedAt,
			IsSuspended:  u.IsSuspended,
			HasPassword:  u.HasPassword,
		})
	}
	return out, nil
}
