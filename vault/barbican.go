package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/keymanager/v1/secrets"
)

// BarbicanConfig holds the Keystone credentials used to reach Barbican.
type BarbicanConfig struct {
	AuthURL     string
	Username    string
	Password    string
	ProjectName string
	DomainName  string
	Region      string
}

// BarbicanBackend is a [Backend] over the OpenStack Key Manager API.
type BarbicanBackend struct {
	client *gophercloud.ServiceClient
}

// NewBarbicanBackend authenticates against Keystone and resolves the key
// manager endpoint.
func NewBarbicanBackend(ctx context.Context, cfg BarbicanConfig) (*BarbicanBackend, error) {
	if cfg.AuthURL == "" {
		return nil, errors.New("barbican auth url required")
	}
	domain := cfg.DomainName
	if domain == "" {
		domain = "Default"
	}
	provider, err := openstack.AuthenticatedClient(ctx, gophercloud.AuthOptions{
		IdentityEndpoint: cfg.AuthURL,
		Username:         cfg.Username,
		Password:         cfg.Password,
		TenantName:       cfg.ProjectName,
		DomainName:       domain,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: keystone auth: %v", ErrUnavailable, err)
	}
	client, err := openstack.NewKeyManagerV1(provider, gophercloud.EndpointOpts{Region: cfg.Region})
	if err != nil {
		return nil, fmt.Errorf("%w: key manager endpoint: %v", ErrUnavailable, err)
	}
	return NewBarbicanBackendFromClient(client), nil
}

// NewBarbicanBackendFromClient wraps an already configured service client.
func NewBarbicanBackendFromClient(client *gophercloud.ServiceClient) *BarbicanBackend {
	return &BarbicanBackend{client: client}
}

// Create implements [Backend].
func (b *BarbicanBackend) Create(ctx context.Context, name string, payload []byte) (string, error) {
	secret, err := secrets.Create(ctx, b.client, secrets.CreateOpts{
		Name:               name,
		Payload:            string(payload),
		PayloadContentType: "text/plain",
		SecretType:         secrets.OpaqueSecret,
	}).Extract()
	if err != nil {
		return "", barbicanError(err)
	}
	return secret.SecretRef, nil
}

// List implements [Backend].
func (b *BarbicanBackend) List(ctx context.Context, name string) ([]SecretMeta, error) {
	pages, err := secrets.List(b.client, secrets.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return nil, barbicanError(err)
	}
	all, err := secrets.ExtractSecrets(pages)
	if err != nil {
		return nil, barbicanError(err)
	}
	out := make([]SecretMeta, 0, len(all))
	for _, s := range all {
		out = append(out, SecretMeta{Name: s.Name, Ref: s.SecretRef})
	}
	return out, nil
}

// Payload implements [Backend]. ref may be a full secret URL or a bare id.
func (b *BarbicanBackend) Payload(ctx context.Context, ref string) ([]byte, error) {
	payload, err := secrets.GetPayload(ctx, b.client, secretID(ref), nil).Extract()
	if err != nil {
		return nil, barbicanError(err)
	}
	return payload, nil
}

func secretID(ref string) string {
	ref = strings.TrimRight(ref, "/")
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

func barbicanError(err error) error {
	if gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
