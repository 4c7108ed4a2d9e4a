package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

type mockOrderQuery struct {
	listFn func(ctx context.Context) ([]entity.OrderSnapshot, error)
	getFn  func(ctx context.Context, address solana.PublicKey) (*entity.OrderSnapshot, error)
}

func (m *mockOrderQuery) ListActiveOrders(ctx context.Context) ([]entity.OrderSnapshot, error) {
	return m.listFn(ctx)
}

func (m *mockOrderQuery) GetTrackedOrder(ctx context.Context, address solana.PublicKey) (*entity.OrderSnapshot, error) {
	return m.getFn(ctx, address)
}

func testSnapshot() entity.OrderSnapshot {
	seller := solana.NewWallet().PublicKey()
	order := entity.NewWhaleOrder(seller, 1_000, 100, 1_700_000_000)
	return entity.OrderSnapshot{
		Address:    solana.NewWallet().PublicKey(),
		Order:      *order,
		ObservedAt: time.Unix(1_700_000_100, 0).UTC(),
	}
}

func newMux(q *mockOrderQuery) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(q, nil).RegisterRoutes(mux)
	return mux
}

func TestHandler_ListOrders(t *testing.T) {
	snap := testSnapshot()
	mux := newMux(&mockOrderQuery{
		listFn: func(context.Context) ([]entity.OrderSnapshot, error) {
			return []entity.OrderSnapshot{snap}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []OrderResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 order, got %d", len(got))
	}
	if got[0].Address != snap.Address.String() || got[0].Remaining != 1_000 || !got[0].Active {
		t.Errorf("unexpected order: %+v", got[0])
	}
}

func TestHandler_ListOrders_Error(t *testing.T) {
	mux := newMux(&mockOrderQuery{
		listFn: func(context.Context) ([]entity.OrderSnapshot, error) {
			return nil, errors.New("db down")
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestHandler_GetOrder(t *testing.T) {
	snap := testSnapshot()

	tests := []struct {
		name     string
		path     string
		getErr   error
		wantCode int
	}{
		{"found", "/orders/" + snap.Address.String(), nil, http.StatusOK},
		{"not found", "/orders/" + snap.Address.String(), outbound.ErrAccountNotFound, http.StatusNotFound},
		{"storage error", "/orders/" + snap.Address.String(), errors.New("timeout"), http.StatusInternalServerError},
		{"bad address", "/orders/not-a-key", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newMux(&mockOrderQuery{
				getFn: func(_ context.Context, address solana.PublicKey) (*entity.OrderSnapshot, error) {
					if tt.getErr != nil {
						return nil, tt.getErr
					}
					if !address.Equals(snap.Address) {
						t.Errorf("unexpected address %s", address)
					}
					return &snap, nil
				},
			})

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, w.Code)
			}
			if tt.wantCode == http.StatusOK {
				var got OrderResponse
				if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if got.Seller != snap.Order.Seller.String() || got.Tranche != 100 {
					t.Errorf("unexpected order: %+v", got)
				}
			}
		})
	}
}
