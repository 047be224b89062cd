package identity

import (
	"context"
	"testing"
)

func TestMergePersonsAbsorbsEverything(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	target, err := svc.GetOrCreatePerson(ctx, GetOrCreateInput{CanonicalName: "Shiran Waintrob", Phone: "0501234567"})
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	source, err := svc.GetOrCreatePerson(ctx, GetOrCreateInput{CanonicalName: "שירן ויינטרוב", Email: "shiran@example.com"})
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if err := svc.AddAlias(ctx, source, "שירן", "manual"); err != nil {
		t.Fatalf("alias: %v", err)
	}
	if err := svc.SetFact(ctx, source, FactView{Key: "city", Value: "Haifa", Confidence: 0.8}); err != nil {
		t.Fatalf("fact: %v", err)
	}

	res, err := svc.MergePersons(ctx, target, []int64{source})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.MergedCount != 1 {
		t.Fatalf("merged count = %d, want 1", res.MergedCount)
	}
	if res.DisplayName != "Shiran Waintrob / שירן ויינטרוב" {
		t.Errorf("display name = %q, want bilingual form", res.DisplayName)
	}

	if _, err := svc.GetPerson(ctx, source); err == nil {
		t.Error("source person should be gone after merge")
	}

	detail, err := svc.GetPerson(ctx, target)
	if err != nil {
		t.Fatalf("get target: %v", err)
	}
	if detail.Email != "shiran@example.com" {
		t.Errorf("email not absorbed: %q", detail.Email)
	}
	if detail.Facts["city"] != "Haifa" {
		t.Errorf("fact not moved: %q", detail.Facts["city"])
	}
	aliasSet := make(map[string]bool)
	for _, a := range detail.Aliases {
		aliasSet[a.Alias] = true
	}
	for _, want := range []string{"שירן ויינטרוב", "שירן"} {
		if !aliasSet[want] {
			t.Errorf("alias %q missing after merge", want)
		}
	}
}

func TestMergePersonsReverseEdgeConflict(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	target, _ := svc.GetOrCreatePerson(ctx, GetOrCreateInput{CanonicalName: "Target Person"})
	source, _ := svc.GetOrCreatePerson(ctx, GetOrCreateInput{CanonicalName: "Source Person"})
	third, _ := svc.GetOrCreatePerson(ctx, GetOrCreateInput{CanonicalName: "Third Person"})

	// third points at both target and source with the same type. After the
	// merge only one (third, target, friend) tuple may remain.
	if err := svc.AddRelationship(ctx, third, target, "friend", 0.9, ""); err != nil {
		t.Fatalf("rel: %v", err)
	}
	if err := svc.AddRelationship(ctx, third, source, "friend", 0.9, ""); err != nil {
		t.Fatalf("rel: %v", err)
	}

	if _, err := svc.MergePersons(ctx, target, []int64{source}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	detail, err := svc.GetPerson(ctx, third)
	if err != nil {
		t.Fatalf("get third: %v", err)
	}
	friendEdges := 0
	for _, rel := range detail.Relationships {
		if rel.Type == "friend" && rel.RelatedPersonID == target {
			friendEdges++
		}
		if rel.RelatedPersonID == source {
			t.Error("edge still references merged source")
		}
	}
	if friendEdges != 1 {
		t.Errorf("friend edges to target = %d, want exactly 1", friendEdges)
	}
}

func TestMergePersonsSelfIsNoop(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	id, _ := svc.GetOrCreatePerson(ctx, GetOrCreateInput{CanonicalName: "Dana Levi"})
	res, err := svc.MergePersons(ctx, id, []int64{id})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.MergedCount != 0 {
		t.Fatalf("self merge should be a no-op, merged %d", res.MergedCount)
	}
	if _, err := svc.GetPerson(ctx, id); err != nil {
		t.Fatalf("person should survive a self merge: %v", err)
	}
}

func TestMergePersonsKeepsStrongerTargetFact(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	target, _ := svc.GetOrCreatePerson(ctx, GetOrCreateInput{CanonicalName: "Target Person"})
	source, _ := svc.GetOrCreatePerson(ctx, GetOrCreateInput{CanonicalName: "Source Person"})

	if err := svc.SetFact(ctx, target, FactView{Key: "city", Value: "Haifa", Confidence: 0.9}); err != nil {
		t.Fatalf("fact: %v", err)
	}
	if err := svc.SetFact(ctx, source, FactView{Key: "city", Value: "Eilat", Confidence: 0.3}); err != nil {
		t.Fatalf("fact: %v", err)
	}

	if _, err := svc.MergePersons(ctx, target, []int64{source}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	detail, err := svc.GetPerson(ctx, target)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Facts["city"] != "Haifa" {
		t.Errorf("weaker source fact overwrote target: %q", detail.Facts["city"])
	}
}
