package sales

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Service is the session registry: it hands out one workflow per browsing
// session and resumes persisted cart references on first access.
type Service struct {
	gateway  CommerceGateway
	refs     CartRefRepository
	events   SaleEventRepository
	logger   zerolog.Logger
	currency string

	mu        sync.Mutex
	workflows map[string]*Workflow
}

func NewService(gateway CommerceGateway, refs CartRefRepository, events SaleEventRepository, currency string, logger zerolog.Logger) *Service {
	return &Service{
		gateway:   gateway,
		refs:      refs,
		events:    events,
		logger:    logger,
		currency:  currency,
		workflows: make(map[string]*Workflow),
	}
}

// Workflow returns the workflow for the session, creating and resuming one
// on first access. Resume is once-guarded inside the workflow, so a caller
// never receives a workflow whose persisted cart is still being loaded.
func (s *Service) Workflow(ctx context.Context, sessionID string) *Workflow {
	s.mu.Lock()
	wf, ok := s.workflows[sessionID]
	if !ok {
		wf = NewWorkflow(sessionID, s.gateway, s.refs, s.events, s.currency, s.logger)
		s.workflows[sessionID] = wf
	}
	s.mu.Unlock()

	wf.Resume(ctx)
	return wf
}

// ListEvents returns the session's billing trail, newest first.
func (s *Service) ListEvents(ctx context.Context, sessionID string, limit, offset int) ([]*SaleEvent, int, error) {
	return s.events.ListBySession(ctx, sessionID, limit, offset)
}
