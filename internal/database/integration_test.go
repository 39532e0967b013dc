package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/kolwatch/kolwatch/internal/models"
	_ "github.com/lib/pq"
)

// Integration tests need a real PostgreSQL instance. They are skipped under
// -short and when TEST_DATABASE_URL is unset. The schema is recreated per
// test, so point the URL at a throwaway database.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := RecreateSchema(context.Background(), db); err != nil {
		t.Fatalf("recreate schema: %v", err)
	}
	return db
}

func TestAccountQuarantineTransition(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewAccountRepository(db)

	account, err := repo.Insert(ctx, "alice", "Alice", models.TierMedium)
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}

	retryAt := time.Now().Add(20 * time.Minute)
	status, err := repo.MarkFetchFailure(ctx, account.ID, retryAt, 2)
	if err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if status != models.CrawlStatusFailed {
		t.Errorf("expected failed after first failure, got %s", status)
	}

	status, err = repo.MarkFetchFailure(ctx, account.ID, retryAt, 2)
	if err != nil {
		t.Fatalf("second failure: %v", err)
	}
	if status != models.CrawlStatusQuarantined {
		t.Errorf("expected quarantine at threshold, got %s", status)
	}

	due, err := repo.SelectDue(ctx, models.TierMedium, 10)
	if err != nil {
		t.Fatalf("select due: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("quarantined account must not be selected, got %d", len(due))
	}
}

func TestInsertPostsIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	accounts := NewAccountRepository(db)
	posts := NewPostRepository(db)

	account, err := accounts.Insert(ctx, "bob", "Bob", models.TierHigh)
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}

	batch := []models.Post{
		{PostURL: "https://x.com/bob/1", Content: "first", Kind: models.PostKindOriginal, PublishedAt: time.Now()},
		{PostURL: "https://x.com/bob/2", Content: "second", Kind: models.PostKindOriginal, PublishedAt: time.Now()},
	}

	inserted, err := posts.InsertPosts(ctx, account.ID, batch)
	if err != nil {
		t.Fatalf("insert posts: %v", err)
	}
	if inserted != 2 {
		t.Errorf("expected 2 inserted, got %d", inserted)
	}

	inserted, err = posts.InsertPosts(ctx, account.ID, batch)
	if err != nil {
		t.Fatalf("re-insert posts: %v", err)
	}
	if inserted != 0 {
		t.Errorf("duplicate batch must insert 0, got %d", inserted)
	}
}

func TestClaimPendingIsExclusive(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	accounts := NewAccountRepository(db)
	posts := NewPostRepository(db)
	enrichments := NewEnrichmentRepository(db)

	account, err := accounts.Insert(ctx, "carol", "Carol", models.TierHigh)
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}

	batch := make([]models.Post, 10)
	for i := range batch {
		batch[i] = models.Post{
			PostURL:     fmt.Sprintf("https://x.com/carol/%d", i),
			Content:     fmt.Sprintf("post %d", i),
			Kind:        models.PostKindOriginal,
			PublishedAt: time.Now().Add(-time.Duration(i) * time.Minute),
		}
	}
	if _, err := posts.InsertPosts(ctx, account.ID, batch); err != nil {
		t.Fatalf("insert posts: %v", err)
	}

	first, err := enrichments.ClaimPending(ctx, 10, 24)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if len(first) != 10 {
		t.Fatalf("expected 10 claimed, got %d", len(first))
	}

	// The pending placeholders are the claim: a second pass sees nothing
	// only once the first batch is committed.
	for _, post := range first {
		err := enrichments.Commit(ctx, models.Enrichment{
			PostID:  post.Post.ID,
			Status:  models.EnrichmentStatusCompleted,
			Summary: "done",
		})
		if err != nil {
			t.Fatalf("commit enrichment: %v", err)
		}
	}

	second, err := enrichments.ClaimPending(ctx, 10, 24)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("expected nothing left to claim, got %d", len(second))
	}
}

func TestRecomputeTiersColdStartPin(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	accounts := NewAccountRepository(db)

	account, err := accounts.Insert(ctx, "dave", "Dave", models.TierLow)
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}

	if _, err := accounts.RecomputeTiers(ctx); err != nil {
		t.Fatalf("recompute tiers: %v", err)
	}

	// A brand-new account with no posts holds MEDIUM regardless of
	// observed activity.
	got, err := accounts.GetByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if got.Tier != models.TierMedium {
		t.Errorf("expected cold-start pin to medium, got %s", got.Tier)
	}
}
