package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/weiawesome/alumni-chat/internal/audit"
	"github.com/weiawesome/alumni-chat/internal/cache"
	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/internal/metrics"
	"github.com/weiawesome/alumni-chat/internal/repository"
	"github.com/weiawesome/alumni-chat/pkg/log"
)

const maxRequestMessageLength = 500

type connectionService struct {
	repo     repository.ConnectionRepository
	cache    cache.PeerCache
	notifier GraphNotifier
	cacheTTL time.Duration
}

// NewConnectionService creates a ConnectionService. A nil cache disables
// peer caching.
func NewConnectionService(repo repository.ConnectionRepository, peerCache cache.PeerCache, notifier GraphNotifier, cacheTTL time.Duration) ConnectionService {
	if peerCache == nil {
		peerCache = cache.NoopPeerCache{}
	}
	return &connectionService{
		repo:     repo,
		cache:    peerCache,
		notifier: notifier,
		cacheTTL: cacheTTL,
	}
}

func (s *connectionService) Propose(ctx context.Context, requesterID, recipientID, message string) (*domain.Connection, error) {
	l := log.Ctx(ctx)

	requesterID = strings.TrimSpace(requesterID)
	recipientID = strings.TrimSpace(recipientID)
	switch {
	case requesterID == "" || recipientID == "":
		return nil, fmt.Errorf("%w: both parties are required", domain.ErrValidation)
	case requesterID == recipientID:
		return nil, fmt.Errorf("%w: cannot send a connection request to yourself", domain.ErrValidation)
	case utf8.RuneCountInString(message) > maxRequestMessageLength:
		return nil, fmt.Errorf("%w: message exceeds %d characters", domain.ErrValidation, maxRequestMessageLength)
	}

	conn := &domain.Connection{
		RequesterID: requesterID,
		RecipientID: recipientID,
		Message:     message,
	}
	if err := s.repo.Create(ctx, conn); err != nil {
		if errors.Is(err, repository.ErrConnectionExists) {
			return nil, fmt.Errorf("%w: a connection already exists between these users", domain.ErrConflict)
		}
		l.Error().Err(err).
			Str(log.FieldUserID, requesterID).
			Str(log.FieldPeerID, recipientID).
			Msg("failed to create connection request")
		return nil, err
	}

	metrics.ConnectionTransitions.WithLabelValues("requested").Inc()
	audit.Log(ctx, audit.ActionConnectionRequest, requesterID, recipientID, "connection requested")
	s.notifier.ConnectionRequested(ctx, conn)
	return conn, nil
}

func (s *connectionService) Respond(ctx context.Context, connectionID, responderID string, status domain.ConnectionStatus, responseMessage string) (*domain.Connection, error) {
	l := log.Ctx(ctx)

	if status != domain.StatusAccepted && status != domain.StatusRejected {
		return nil, fmt.Errorf("%w: status must be accepted or rejected", domain.ErrValidation)
	}
	if utf8.RuneCountInString(responseMessage) > maxRequestMessageLength {
		return nil, fmt.Errorf("%w: response message exceeds %d characters", domain.ErrValidation, maxRequestMessageLength)
	}

	conn, err := s.load(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.RecipientID != responderID {
		return nil, fmt.Errorf("%w: only the recipient can respond to a request", domain.ErrAuthorization)
	}
	if conn.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: request already %s", domain.ErrInvalidState, conn.Status)
	}

	updated, err := s.repo.Respond(ctx, connectionID, status, responseMessage, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotPending):
			return nil, fmt.Errorf("%w: request already answered", domain.ErrInvalidState)
		case errors.Is(err, repository.ErrConnectionNotFound):
			return nil, fmt.Errorf("%w: connection %s", domain.ErrNotFound, connectionID)
		}
		l.Error().Err(err).Str(log.FieldConnectionID, connectionID).Msg("failed to respond to connection request")
		return nil, err
	}

	metrics.ConnectionTransitions.WithLabelValues(string(status)).Inc()
	if status == domain.StatusAccepted {
		s.invalidate(ctx, updated.RequesterID, updated.RecipientID)
		audit.Log(ctx, audit.ActionConnectionAccept, responderID, updated.RequesterID, "connection accepted")
		s.notifier.ConnectionAccepted(ctx, updated)
	} else {
		audit.Log(ctx, audit.ActionConnectionReject, responderID, updated.RequesterID, "connection rejected")
		s.notifier.ConnectionRejected(ctx, updated)
	}
	return updated, nil
}

func (s *connectionService) Unlink(ctx context.Context, connectionID, userID string) error {
	l := log.Ctx(ctx)

	conn, err := s.load(ctx, connectionID)
	if err != nil {
		return err
	}
	if !conn.Involves(userID) {
		return fmt.Errorf("%w: not a party to this connection", domain.ErrAuthorization)
	}
	if conn.Status != domain.StatusAccepted {
		return fmt.Errorf("%w: only accepted connections can be removed", domain.ErrInvalidState)
	}

	if err := s.repo.Delete(ctx, connectionID); err != nil {
		switch {
		case errors.Is(err, repository.ErrConnectionNotFound):
			return fmt.Errorf("%w: connection %s", domain.ErrNotFound, connectionID)
		case errors.Is(err, repository.ErrNotAccepted):
			return fmt.Errorf("%w: only accepted connections can be removed", domain.ErrInvalidState)
		}
		l.Error().Err(err).Str(log.FieldConnectionID, connectionID).Msg("failed to remove connection")
		return err
	}

	s.invalidate(ctx, conn.RequesterID, conn.RecipientID)
	metrics.ConnectionTransitions.WithLabelValues("removed").Inc()
	audit.Log(ctx, audit.ActionConnectionRemove, userID, conn.Other(userID), "connection removed")
	s.notifier.ConnectionRemoved(ctx, conn, userID)
	return nil
}

func (s *connectionService) Get(ctx context.Context, connectionID, viewerID string) (*domain.Connection, error) {
	conn, err := s.load(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.Involves(viewerID) {
		return nil, fmt.Errorf("%w: not a party to this connection", domain.ErrAuthorization)
	}
	return conn, nil
}

// ListPeers returns the accepted peers of userID, from cache when possible.
func (s *connectionService) ListPeers(ctx context.Context, userID string) ([]domain.Peer, error) {
	l := log.Ctx(ctx)

	peers, err := s.cache.GetPeers(ctx, userID)
	if err == nil {
		return peers, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("peer cache read failed, falling back to db")
	}

	gen, genErr := s.cache.Generation(ctx, userID)
	if genErr != nil {
		l.Warn().Err(genErr).Str(log.FieldUserID, userID).Msg("peer cache generation read failed")
	}

	peers, err = s.repo.ListPeers(ctx, userID)
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to list peers")
		return nil, err
	}

	if genErr == nil {
		if err := s.cache.SetPeers(ctx, userID, peers, gen, s.cacheTTL); err != nil {
			l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to populate peer cache")
		}
	}
	return peers, nil
}

func (s *connectionService) ListPeerIDs(ctx context.Context, userID string) ([]string, error) {
	peers, err := s.ListPeers(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(peers))
	for i, p := range peers {
		ids[i] = p.UserID
	}
	return ids, nil
}

// IsConnected always asks the membership table. It gates sends and typing,
// so it must never see a peer list cached before an unlink.
func (s *connectionService) IsConnected(ctx context.Context, a, b string) (bool, error) {
	if a == "" || b == "" || a == b {
		return false, nil
	}
	return s.repo.IsConnected(ctx, a, b)
}

func (s *connectionService) ListReceived(ctx context.Context, userID string, status domain.ConnectionStatus) ([]*domain.Connection, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	return s.repo.ListReceived(ctx, userID, status)
}

func (s *connectionService) ListSent(ctx context.Context, userID string, status domain.ConnectionStatus) ([]*domain.Connection, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	return s.repo.ListSent(ctx, userID, status)
}

func (s *connectionService) load(ctx context.Context, connectionID string) (*domain.Connection, error) {
	conn, err := s.repo.GetByID(ctx, connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrConnectionNotFound) {
			return nil, fmt.Errorf("%w: connection %s", domain.ErrNotFound, connectionID)
		}
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldConnectionID, connectionID).Msg("failed to load connection")
		return nil, err
	}
	return conn, nil
}

func (s *connectionService) invalidate(ctx context.Context, userIDs ...string) {
	if err := s.cache.Invalidate(ctx, userIDs...); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Strs("user_ids", userIDs).Msg("failed to invalidate peer cache")
	}
}

var _ ConnectionService = (*connectionService)(nil)
