package handler

import (
	"time"

	"github.com/rl1809/part-ledger/internal/core/domain"
	"github.com/rl1809/part-ledger/internal/core/service"
)

type ReconcileRequest struct {
	Desired      []domain.CartItem `json:"desired"`
	Current      []domain.CartItem `json:"current"`
	AdoptSerials bool              `json:"adopt_serials"`
}

// Search selects the predecessor pool of a transition.
type Search struct {
	Container *domain.Container `json:"container,omitempty"`
	Building  int               `json:"building,omitempty"`
}

func (s Search) Filter() domain.RecordFilter {
	return domain.RecordFilter{Container: s.Container, Building: s.Building}
}

type TransitionRequest struct {
	RequestID string            `json:"request_id"`
	Create    domain.Template   `json:"create"`
	Search    Search            `json:"search"`
	Items     []domain.CartItem `json:"items"`
	Migrated  bool              `json:"migrated"`
}

func (r TransitionRequest) Transition() domain.Transition {
	return domain.Transition{
		RequestID: r.RequestID,
		Create:    r.Create,
		Search:    r.Search.Filter(),
		Items:     r.Items,
		Migrated:  r.Migrated,
	}
}

type SnapshotRequest struct {
	Container domain.Container `json:"container"`
	At        time.Time        `json:"at"`
}

type TimelineRequest struct {
	Container domain.Container `json:"container"`
	Page      int              `json:"page"`
	PageSize  int              `json:"page_size"`
}

type StockCheckRequest struct {
	Search Search            `json:"search"`
	Items  []domain.CartItem `json:"items"`
}

type StockCheckResponse struct {
	Sufficient bool               `json:"sufficient"`
	Shortfalls []domain.Shortfall `json:"shortfalls"`
}

type SyncHTTPRequest struct {
	RequestID    string            `json:"request_id"`
	Target       domain.Container  `json:"target"`
	Building     int               `json:"building"`
	Source       Search            `json:"source"`
	Destination  domain.Container  `json:"destination"`
	By           string            `json:"by"`
	Date         time.Time         `json:"date"`
	Desired      []domain.CartItem `json:"desired"`
	AdoptSerials bool              `json:"adopt_serials"`
}

func (r SyncHTTPRequest) SyncRequest() service.SyncRequest {
	return service.SyncRequest{
		RequestID:    r.RequestID,
		Target:       r.Target,
		Building:     r.Building,
		Source:       r.Source.Filter(),
		Destination:  r.Destination,
		By:           r.By,
		Date:         r.Date,
		Desired:      r.Desired,
		AdoptSerials: r.AdoptSerials,
	}
}

type HistoryResponse struct {
	Page      domain.Page       `json:"page"`
	Total     int               `json:"total"`
	Snapshots []domain.Snapshot `json:"snapshots"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
