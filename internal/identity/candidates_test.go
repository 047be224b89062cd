package identity

import (
	"context"
	"testing"
)

func TestFindMergeCandidatesByPhone(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Distinct canonical names so the cascade does not collapse them.
	a, _ := svc.GetOrCreatePerson(ctx, GetOrCreateInput{CanonicalName: "Dana Levi"})
	b, _ := svc.GetOrCreatePerson(ctx, GetOrCreateInput{CanonicalName: "דנה"})

	// Same number written two ways, set directly to bypass the cascade.
	if err := svc.SetFact(ctx, a, FactView{Key: "note", Value: "x", Confidence: 1}); err != nil {
		t.Fatalf("fact: %v", err)
	}
	seedPhone(t, svc, a, "+972-50-123-4567")
	seedPhone(t, svc, b, "0501234567")

	got, err := svc.FindMergeCandidates(ctx, 10)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected a phone candidate")
	}
	first := got[0]
	if first.Signal != "phone" || first.Priority != 1 {
		t.Errorf("top candidate = %+v, want phone signal at priority 1", first)
	}
	if len(first.PersonIDs) != 2 {
		t.Errorf("candidate ids = %v, want both persons", first.PersonIDs)
	}
}

func TestFindMergeCandidatesSharedAliasNeedsTwoTokens(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, _ := svc.GetOrCreatePerson(ctx, GetOrCreateInput{CanonicalName: "Person A"})
	b, _ := svc.GetOrCreatePerson(ctx, GetOrCreateInput{CanonicalName: "Person B"})

	// Shared single-token first name must not produce a candidate.
	if err := svc.AddAlias(ctx, a, "שירן", "manual"); err != nil {
		t.Fatalf("alias: %v", err)
	}
	if err := svc.AddAlias(ctx, b, "שירן", "manual"); err != nil {
		t.Fatalf("alias: %v", err)
	}

	got, err := svc.FindMergeCandidates(ctx, 10)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	for _, c := range got {
		if c.Signal == "alias" {
			t.Fatalf("single-token alias produced a candidate: %+v", c)
		}
	}

	// A full two-token name shared across both does.
	if err := svc.AddAlias(ctx, a, "שירן ויינטרוב", "manual"); err != nil {
		t.Fatalf("alias: %v", err)
	}
	if err := svc.AddAlias(ctx, b, "שירן ויינטרוב", "manual"); err != nil {
		t.Fatalf("alias: %v", err)
	}
	got, err = svc.FindMergeCandidates(ctx, 10)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	found := false
	for _, c := range got {
		if c.Signal == "alias" {
			found = true
		}
	}
	if !found {
		t.Error("two-token shared alias should produce a candidate")
	}
}

func TestFindMergeCandidatesLatinAliasCaseInsensitive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, _ := svc.GetOrCreatePerson(ctx, GetOrCreateInput{CanonicalName: "Person A"})
	b, _ := svc.GetOrCreatePerson(ctx, GetOrCreateInput{CanonicalName: "Person B"})

	if err := svc.AddAlias(ctx, a, "Dana Levi", "manual"); err != nil {
		t.Fatalf("alias: %v", err)
	}
	if err := svc.AddAlias(ctx, b, "dana levi", "manual"); err != nil {
		t.Fatalf("alias: %v", err)
	}

	got, err := svc.FindMergeCandidates(ctx, 10)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	found := false
	for _, c := range got {
		if c.Signal == "alias" && len(c.PersonIDs) == 2 {
			found = true
		}
	}
	if !found {
		t.Error("latin alias comparison should be case-insensitive")
	}
}

func seedPhone(t *testing.T, svc Service, personID int64, phone string) {
	t.Helper()
	impl, ok := svc.(*service)
	if !ok {
		t.Fatal("service implementation expected")
	}
	if err := impl.persons.UpdateFields(context.Background(), nil, personID, map[string]any{"phone": phone}); err != nil {
		t.Fatalf("seed phone: %v", err)
	}
}
