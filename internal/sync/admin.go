package sync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mirror-sync-service/internal/logger"
	"mirror-sync-service/internal/store"
)

// adminPayload is one entry of the master's admin export. Password carries the
// stored hash in base64; Token is the admin's live session token.
type adminPayload struct {
	ID       json.RawMessage `json:"id"`
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     string          `json:"role"`
	Token    string          `json:"token"`
}

type AdminReport struct {
	Replicated int `json:"replicated"`
	Failed     int `json:"failed"`
}

// AdminReplicator copies administrator logins so they work on the mirror.
// Nothing is ever deleted on either side.
type AdminReplicator struct {
	master *MasterClient
	store  store.Store
	clock  Clock
}

func NewAdminReplicator(master *MasterClient, s store.Store, clock Clock) *AdminReplicator {
	return &AdminReplicator{master: master, store: s, clock: clock}
}

func (a *AdminReplicator) ReplicateAdmins(ctx context.Context) (AdminReport, error) {
	var report AdminReport

	var raw []adminPayload
	if err := a.master.Get(ctx, adminExportPath, &raw); err != nil {
		return report, fmt.Errorf("failed to fetch admin export: %w", err)
	}

	for _, p := range raw {
		cred, err := decodeAdmin(p)
		if err != nil {
			report.Failed++
			logger.Log.Warn("Skipping invalid admin record", zap.Error(err))
			continue
		}
		cred.UpdatedAt = a.clock.Now()
		if err := a.store.SaveCredential(ctx, cred); err != nil {
			report.Failed++
			logger.Log.Error("Failed to save admin credential", zap.String("id", cred.ID), zap.Error(err))
			continue
		}
		report.Replicated++
	}

	logger.Log.Info("Admin replication finished",
		zap.Int("replicated", report.Replicated),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func decodeAdmin(p adminPayload) (*store.Credential, error) {
	id := idString(p.ID)
	if id == "" {
		return nil, &ValidationError{Reason: "admin id is required"}
	}
	email := strings.TrimSpace(p.Email)
	if email == "" {
		return nil, &ValidationError{RecordID: id, Reason: "email is required"}
	}
	if p.Password == "" {
		return nil, &ValidationError{RecordID: id, Reason: "password hash is required"}
	}
	hash, err := base64.StdEncoding.DecodeString(p.Password)
	if err != nil {
		return nil, &ValidationError{RecordID: id, Reason: fmt.Sprintf("password is not valid base64: %v", err)}
	}
	return &store.Credential{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Role:         p.Role,
		SessionToken: p.Token,
	}, nil
}
