package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/jwpriem/ev-easee/pkg/prices"
	"github.com/jwpriem/ev-easee/pkg/storage"
	"github.com/jwpriem/ev-easee/pkg/types"
)

// tibberAccessToken decrypts the stored Tibber access token for the user.
func (s *Server) tibberAccessToken(ctx context.Context, userID string) (string, error) {
	conn, err := s.storage.GetTibberConnection(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotConnected) {
			return "", errTibberNotConnected
		}
		return "", fmt.Errorf("failed to get tibber connection: %w", err)
	}
	token, err := s.decryptToken(ctx, conn.EncryptedAccessToken)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errTibberNotConnected
	}
	return token, nil
}

// priceInfo returns the user's prices, from cache when fresh, otherwise
// fetched from the provider and cached.
func (s *Server) priceInfo(ctx context.Context, userID string) (types.PriceInfo, error) {
	if info, ok := s.priceCache.Get(userID); ok {
		return info, nil
	}

	token, err := s.tibberAccessToken(ctx, userID)
	if err != nil {
		return types.PriceInfo{}, err
	}

	provider, err := s.prices.Provider("tibber")
	if err != nil {
		return types.PriceInfo{}, err
	}

	info, err := provider.FetchPrices(ctx, token)
	if err != nil {
		return types.PriceInfo{}, fmt.Errorf("failed to fetch prices: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "fetched prices",
		slog.Int("today", len(info.Today)),
		slog.Int("tomorrow", len(info.Tomorrow)),
	)

	s.priceCache.Put(userID, info)
	return info, nil
}

func (s *Server) normalized(info types.PriceInfo) types.PriceTimeline {
	return prices.Normalize(info.Today, info.Tomorrow)
}

func (s *Server) currentPrice(tl types.PriceTimeline) *types.PricePoint {
	return prices.ResolveCurrent(tl, s.now())
}

type pricesResponse struct {
	Today        []types.PricePoint `json:"today"`
	Tomorrow     []types.PricePoint `json:"tomorrow"`
	HasTomorrow  bool               `json:"hasTomorrow"`
	CurrentPrice *types.PricePoint  `json:"currentPrice"`
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	info, err := s.priceInfo(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, errTibberNotConnected) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to get prices", slog.Any("error", err))
		writeJSONError(w, "failed to get prices", http.StatusBadGateway)
		return
	}

	writeJSON(w, pricesResponse{
		Today:        info.Today,
		Tomorrow:     info.Tomorrow,
		HasTomorrow:  info.HasTomorrow(),
		CurrentPrice: s.currentPrice(s.normalized(info)),
	})
}
