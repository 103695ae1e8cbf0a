package internal

import "testing"

func TestRepositoryNormalize(t *testing.T) {
	repo := Repository{Owner: "My-Org", Name: "My-Repo"}.Normalize()
	if repo.FullName != "my-org/my-repo" {
		t.Fatalf("expected my-org/my-repo, got %q", repo.FullName)
	}
}

func TestPartitionKeyStablePerRepository(t *testing.T) {
	a := Event{
		Platform:   "github",
		Repo:       Repository{Owner: "org", Name: "repo"}.Normalize(),
		DeliveryID: "d-1",
	}
	b := a
	b.DeliveryID = "d-2"

	if a.PartitionKey() != b.PartitionKey() {
		t.Fatalf("same repository must share a partition key: %q vs %q", a.PartitionKey(), b.PartitionKey())
	}
}

func TestPartitionKeyFallsBackToDelivery(t *testing.T) {
	evt := Event{Platform: "github", DeliveryID: "d-1"}
	if evt.PartitionKey() != "github/d-1" {
		t.Fatalf("expected delivery fallback, got %q", evt.PartitionKey())
	}
}

func TestTopicNames(t *testing.T) {
	if RawTopic("github") != "github.raw" {
		t.Fatalf("raw topic: %q", RawTopic("github"))
	}
	if ValidatedTopic("gitlab") != "gitlab.validated" {
		t.Fatalf("validated topic: %q", ValidatedTopic("gitlab"))
	}
}
