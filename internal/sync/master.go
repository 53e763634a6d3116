package sync

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"mirror-sync-service/internal/httpclient"
	"mirror-sync-service/internal/logger"
)

const (
	catalogPath     = "/api/export"
	adminExportPath = "/api/export/admin"
)

// MasterClient issues authenticated calls to the master. A 401 invalidates the
// session and the call is retried exactly once after logging in again.
type MasterClient struct {
	http *httpclient.Client
	auth *AuthSession
}

func NewMasterClient(client *httpclient.Client, auth *AuthSession) *MasterClient {
	return &MasterClient{http: client, auth: auth}
}

func (m *MasterClient) Get(ctx context.Context, ref string, out any) error {
	return m.call(ctx, http.MethodGet, ref, out)
}

func (m *MasterClient) Delete(ctx context.Context, ref string) error {
	return m.call(ctx, http.MethodDelete, ref, nil)
}

// Catalog fetches the list of exported entity types.
func (m *MasterClient) Catalog(ctx context.Context) ([]CatalogEntry, error) {
	var entries []CatalogEntry
	if err := m.Get(ctx, catalogPath, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *MasterClient) call(ctx context.Context, method, ref string, out any) error {
	token, err := m.auth.EnsureToken(ctx)
	if err != nil {
		return err
	}

	err = m.http.Do(ctx, method, ref, token, nil, out)
	if !httpclient.IsUnauthorized(err) {
		return err
	}

	logger.Log.Info("Master rejected token, re-authenticating", zap.String("method", method), zap.String("ref", ref))
	m.auth.Invalidate(token)
	token, err = m.auth.EnsureToken(ctx)
	if err != nil {
		return err
	}
	return m.http.Do(ctx, method, ref, token, nil, out)
}
