package river_test

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	goriver "github.com/riverqueue/river"

	_ "modernc.org/sqlite"

	riveradapter "github.com/neomorfeo/backoffice/internal/adapter/river"
	"github.com/neomorfeo/backoffice/internal/app"
	"github.com/neomorfeo/backoffice/internal/domain"
)

// recordingNotifier captures every delivery for assertions.
type recordingNotifier struct {
	mu    sync.Mutex
	sends []string
}

func (n *recordingNotifier) Send(_ context.Context, principalID, event string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, "send:"+principalID+":"+event)
}

func (n *recordingNotifier) BroadcastToEnterpriseAdmins(_ context.Context, enterpriseID, event string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, "admins:"+enterpriseID+":"+event)
}

func (n *recordingNotifier) BroadcastToSuperadmins(_ context.Context, event string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, "superadmins:"+event)
}

func (n *recordingNotifier) has(entry string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.sends {
		if s == entry {
			return true
		}
	}
	return false
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := t.TempDir() + "/river_test.db"
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		t.Fatalf("setting WAL: %v", err)
	}

	return db
}

func setupClient(t *testing.T, db *sql.DB, notifier domain.Notifier) *riveradapter.Client {
	t.Helper()

	client, err := riveradapter.Setup(context.Background(), db, app.NewFanout(notifier))
	if err != nil {
		t.Fatalf("river setup: %v", err)
	}

	return client
}

func startClient(t *testing.T, client *riveradapter.Client) {
	t.Helper()

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("river start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Stop(stopCtx); err != nil {
			t.Errorf("river stop: %v", err)
		}
	})
}

func TestPublisher_Publish_EnqueuesJob(t *testing.T) {
	db := setupTestDB(t)
	notifier := &recordingNotifier{}
	client := setupClient(t, db, notifier)
	ctx := context.Background()

	// Subscribe to job completions before starting so we don't miss events.
	subscribeChan, subscribeCancel := client.Subscribe(goriver.EventKindJobCompleted)
	defer subscribeCancel()

	startClient(t, client)

	pub := riveradapter.NewPublisher(client)
	ticket := domain.Ticket{
		ID:            "tk-1",
		TicketNo:      "TKT-0A1B",
		Subject:       "printer on fire",
		Status:        domain.TicketOpen,
		Priority:      domain.PriorityHigh,
		EnterpriseID:  "ent-1",
		SubmittedBy:   "u-1",
		SubmitterRole: domain.RoleUser,
	}

	if err := pub.Publish(ctx, domain.TicketCreated, ticket); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Wait for the worker to process the job.
	select {
	case event := <-subscribeChan:
		if event.Job.Kind != "ticket.event" {
			t.Errorf("job kind = %q, want %q", event.Job.Kind, "ticket.event")
		}
		if event.Job.MaxAttempts != 1 {
			t.Errorf("job max attempts = %d, want 1", event.Job.MaxAttempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job completion")
	}

	// The worker handed the rebuilt ticket to the fan-out.
	if !notifier.has("admins:ent-1:ticket_created") {
		t.Errorf("enterprise admins were not notified, got %v", notifier.sends)
	}
	if !notifier.has("send:u-1:ticket_created") {
		t.Errorf("submitter was not notified, got %v", notifier.sends)
	}
}

func TestPublisher_Publish_PreservesEventData(t *testing.T) {
	db := setupTestDB(t)
	notifier := &recordingNotifier{}
	client := setupClient(t, db, notifier)
	ctx := context.Background()

	subscribeChan, subscribeCancel := client.Subscribe(goriver.EventKindJobCompleted)
	defer subscribeCancel()

	startClient(t, client)

	pub := riveradapter.NewPublisher(client)
	forwardedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ticket := domain.Ticket{
		ID:                    "tk-42",
		TicketNo:              "TKT-FFA0",
		Subject:               "escalated issue",
		Status:                domain.TicketInProgress,
		Priority:              domain.PriorityCritical,
		EnterpriseID:          "ent-9",
		SubmittedBy:           "adm-1",
		SubmitterRole:         domain.RoleAdmin,
		ForwardedToSuperAdmin: true,
		ForwardedAt:           &forwardedAt,
	}

	if err := pub.Publish(ctx, domain.TicketForwarded, ticket); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case event := <-subscribeChan:
		// Verify the job carried the right args by checking the encoded JSON.
		args := event.Job.EncodedArgs
		if args == nil {
			t.Fatal("expected encoded args, got nil")
		}
		argsStr := string(args)
		for _, want := range []string{`"kind":"ticket_forwarded"`, `"ticket_id":"tk-42"`, `"ticket_no":"TKT-FFA0"`, `"priority":"critical"`, `"forwarded":true`} {
			if !strings.Contains(argsStr, want) {
				t.Errorf("encoded args missing %s, got: %s", want, argsStr)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job completion")
	}

	if !notifier.has("superadmins:ticket_forwarded") {
		t.Errorf("superadmins were not notified, got %v", notifier.sends)
	}
}
