package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

type recordingSink struct {
	stored []model.Notification
	err    error
}

func (s *recordingSink) Create(_ context.Context, n *model.Notification) error {
	if s.err != nil {
		return s.err
	}
	n.ID = uint64(len(s.stored) + 1)
	s.stored = append(s.stored, *n)
	return nil
}

func TestHandleMessageStoresEvent(t *testing.T) {
	sink := &recordingSink{}
	body := `{"user_id":7,"dossier_id":3,"kind":"STEP_REJECTED","title":"Step rejected","body":"fix it","occurred_at":"2026-01-02T03:04:05Z"}`
	if err := HandleMessage(context.Background(), sink, []byte(body)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sink.stored) != 1 {
		t.Fatalf("expected one notification, got %d", len(sink.stored))
	}
	n := sink.stored[0]
	if n.UserID != 7 || n.DossierID == nil || *n.DossierID != 3 || n.Kind != model.NotifyStepRejected {
		t.Fatalf("unexpected notification %+v", n)
	}
	if !n.CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("created_at should come from the event, got %s", n.CreatedAt)
	}
}

func TestHandleMessageRejectsBadPayloads(t *testing.T) {
	cases := map[string]string{
		"not json": `{`,
		"no user":  `{"kind":"STEP_REJECTED","title":"x"}`,
		"no kind":  `{"user_id":1,"title":"x"}`,
		"no title": `{"user_id":1,"kind":"STEP_REJECTED"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			sink := &recordingSink{}
			if err := HandleMessage(context.Background(), sink, []byte(body)); err == nil {
				t.Fatal("expected error")
			}
			if len(sink.stored) != 0 {
				t.Fatal("nothing should be stored")
			}
		})
	}
}

func TestHandleMessageSinkFailure(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	err := HandleMessage(context.Background(), sink, []byte(`{"user_id":1,"kind":"DOSSIER_CANCELLED","title":"x"}`))
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("expected wrapped sink error, got %v", err)
	}
}

func TestEventFromRoundTrip(t *testing.T) {
	id := uint64(9)
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.FixedZone("x", 3600))
	ev := EventFrom(model.Notification{UserID: 4, DossierID: &id, Kind: model.NotifyDocumentRejected, Title: "t", Body: "b"}, at)
	if ev.OccurredAt.Location() != time.UTC {
		t.Fatal("occurred_at must be UTC")
	}
	n := ev.Notification()
	if n.UserID != 4 || *n.DossierID != 9 || !n.CreatedAt.Equal(at) {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestSleepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleep(ctx, time.Hour) {
		t.Fatal("sleep should return false on a cancelled context")
	}
}

func TestRetryableSeparatesOutagesFromBadEvents(t *testing.T) {
	ctx := context.Background()
	valid := []byte(`{"user_id":1,"kind":"DOSSIER_CANCELLED","title":"x"}`)

	outage := &recordingSink{err: &model.DependencyError{Op: "insert notification", Err: errors.New("connection refused")}}
	if err := HandleMessage(ctx, outage, valid); !Retryable(err) {
		t.Fatalf("store outage should be retried, got %v", err)
	}
	deadlock := &recordingSink{err: model.Conflictf("deadlock")}
	if err := HandleMessage(ctx, deadlock, valid); !Retryable(err) {
		t.Fatalf("lock conflict should be retried, got %v", err)
	}

	for _, body := range []string{`{`, `{"kind":"STEP_REJECTED","title":"x"}`} {
		err := HandleMessage(ctx, &recordingSink{}, []byte(body))
		if !errors.Is(err, ErrMalformed) || Retryable(err) {
			t.Fatalf("%s: expected a dropped malformed event, got %v", body, err)
		}
	}
	if err := HandleMessage(ctx, &recordingSink{err: errors.New("constraint")}, valid); Retryable(err) {
		t.Fatalf("unclassified sink errors are dropped, got retryable %v", err)
	}
}
