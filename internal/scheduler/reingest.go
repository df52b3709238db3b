package scheduler

import (
	"context"

	"fieldtrack/internal/ingest"
	"fieldtrack/pkg/models"
)

// UserLookup resolves a retried payload's company, which the cached retry
// payload (just the raw sample) does not carry.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
}

// IngestReingester adapts ingest.Ingest into a LocationReingester for the
// retry-queue drain job.
type IngestReingester struct {
	ingest *ingest.Ingest
	users  UserLookup
}

// NewIngestReingester wraps in and users.
func NewIngestReingester(in *ingest.Ingest, users UserLookup) *IngestReingester {
	return &IngestReingester{ingest: in, users: users}
}

// Reingest implements LocationReingester.
func (r *IngestReingester) Reingest(ctx context.Context, userID string, sample models.LocationSample) error {
	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	_, err = r.ingest.Ingest(ctx, ingest.Request{
		UserID:    userID,
		CompanyID: user.CompanyID,
		Sample:    sample,
	})
	return err
}
