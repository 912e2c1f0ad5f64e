// README: Store backed by Cloud Firestore (server timestamps, transactions, snapshot listeners).
package riderequest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"roadhelper/internal/types"
)

const (
	watchRetryMin = 500 * time.Millisecond
	watchRetryMax = 30 * time.Second
)

var errPrecondition = errors.New("precondition failed")

type FirestoreStore struct {
	client *firestore.Client
	log    *slog.Logger
}

func NewFirestoreStore(client *firestore.Client, log *slog.Logger) *FirestoreStore {
	if log == nil {
		log = slog.Default()
	}
	return &FirestoreStore{client: client, log: log}
}

func (s *FirestoreStore) col() *firestore.CollectionRef {
	return s.client.Collection(Collection)
}

func (s *FirestoreStore) Create(ctx context.Context, r *RideRequest) (types.ID, error) {
	ref, _, err := s.col().Add(ctx, map[string]any{
		"customerId":       string(r.CustomerID),
		"customerName":     r.CustomerName,
		"helperId":         nil,
		"helperName":       nil,
		"serviceType":      string(r.ServiceType),
		"status":           string(r.Status),
		"statusVersion":    r.StatusVersion,
		"location":         r.Location,
		"customerLocation": r.CustomerLocation,
		"helperLocation":   nil,
		"vehicleDetails":   r.VehicleDetails,
		"issueDescription": r.IssueDescription,
		"createdAt":        firestore.ServerTimestamp,
		"updatedAt":        firestore.ServerTimestamp,
		"acceptedAt":       nil,
		"completedAt":      nil,
	})
	if err != nil {
		return "", fmt.Errorf("firestore add: %w", err)
	}
	return types.ID(ref.ID), nil
}

func (s *FirestoreStore) Get(ctx context.Context, id types.ID) (*RideRequest, error) {
	snap, err := s.col().Doc(string(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore get %s: %w", id, err)
	}
	return decode(snap)
}

// Update runs the condition check and the write in one transaction, so two
// concurrent accepts cannot both observe a pending, unassigned document.
func (s *FirestoreStore) Update(ctx context.Context, id types.ID, cond Condition, patch Patch) (bool, error) {
	ref := s.col().Doc(string(id))
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decode(snap)
		if err != nil {
			return err
		}
		if !cond.Holds(cur) {
			return errPrecondition
		}
		return tx.Update(ref, patchUpdates(cur, patch))
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errPrecondition):
		return false, nil
	case errors.Is(err, ErrNotFound):
		return false, ErrNotFound
	}
	return false, fmt.Errorf("firestore update %s: %w", id, err)
}

func patchUpdates(cur *RideRequest, p Patch) []firestore.Update {
	ups := []firestore.Update{{Path: "updatedAt", Value: firestore.ServerTimestamp}}
	if p.Status != nil && *p.Status != cur.Status {
		ups = append(ups,
			firestore.Update{Path: "status", Value: string(*p.Status)},
			firestore.Update{Path: "statusVersion", Value: firestore.Increment(1)},
		)
	}
	if p.HelperID != nil {
		ups = append(ups, firestore.Update{Path: "helperId", Value: string(*p.HelperID)})
	}
	if p.HelperName != nil {
		ups = append(ups, firestore.Update{Path: "helperName", Value: *p.HelperName})
	}
	if p.HelperLocation != nil {
		ups = append(ups, firestore.Update{Path: "helperLocation", Value: *p.HelperLocation})
	}
	if p.CustomerLocation != nil {
		ups = append(ups, firestore.Update{Path: "customerLocation", Value: *p.CustomerLocation})
	}
	if p.StampAccepted {
		ups = append(ups, firestore.Update{Path: "acceptedAt", Value: firestore.ServerTimestamp})
	}
	if p.StampCompleted {
		ups = append(ups, firestore.Update{Path: "completedAt", Value: firestore.ServerTimestamp})
	}
	return ups
}

func (s *FirestoreStore) WatchOne(ctx context.Context, id types.ID, fn func(*RideRequest)) error {
	ref := s.col().Doc(string(id))
	return s.retry(ctx, "watch_one", func() error {
		it := ref.Snapshots(ctx)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				return err
			}
			if !snap.Exists() {
				fn(nil)
				continue
			}
			r, err := decode(snap)
			if err != nil {
				s.log.Error("decode ride request", "request_id", id, "error", err)
				continue
			}
			fn(r)
		}
	})
}

func (s *FirestoreStore) WatchQuery(ctx context.Context, q Query, fn func([]*RideRequest)) error {
	fq := s.col().Query
	if q.Status != "" {
		fq = fq.Where("status", "==", string(q.Status))
	}
	if q.CustomerID != "" {
		fq = fq.Where("customerId", "==", string(q.CustomerID))
	}
	fq = fq.OrderBy("createdAt", firestore.Desc)

	return s.retry(ctx, "watch_query", func() error {
		it := fq.Snapshots(ctx)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				return err
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				return err
			}
			out := make([]*RideRequest, 0, len(docs))
			for _, d := range docs {
				r, err := decode(d)
				if err != nil {
					s.log.Error("decode ride request", "request_id", d.Ref.ID, "error", err)
					continue
				}
				out = append(out, r)
			}
			fn(out)
		}
	})
}

// retry re-opens a listener after transient failures until ctx is done.
func (s *FirestoreStore) retry(ctx context.Context, op string, listen func() error) error {
	wait := watchRetryMin
	for {
		err := listen()
		if ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
			return nil
		}
		if status.Code(err) == codes.PermissionDenied || status.Code(err) == codes.InvalidArgument {
			return fmt.Errorf("firestore %s: %w", op, err)
		}
		s.log.Warn("firestore listener failed, retrying", "op", op, "error", err, "backoff", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait *= 2
		if wait > watchRetryMax {
			wait = watchRetryMax
		}
	}
}

func decode(snap *firestore.DocumentSnapshot) (*RideRequest, error) {
	var r RideRequest
	if err := snap.DataTo(&r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", snap.Ref.ID, err)
	}
	r.ID = types.ID(snap.Ref.ID)
	return &r, nil
}
