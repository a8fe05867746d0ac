package projects

import (
	"context"
	"fmt"
	"testing"
	"time"

	"draftplane/internal/apierror"
	"draftplane/internal/store/memory"
)

func newTestService() *Service {
	var n int
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return New(memory.New(),
		WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("project-%d", n)
		}),
	)
}

func TestCreateAndList(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	for _, name := range []string{"First", "Second"} {
		if _, err := svc.Create(ctx, "user-1", name); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if _, err := svc.Create(ctx, "user-2", "Other"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	projects, err := svc.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(projects) != 2 || projects[0].Name != "First" || projects[1].Name != "Second" {
		t.Errorf("unexpected projects %+v", projects)
	}
}

func TestCreate_RequiresName(t *testing.T) {
	_, err := newTestService().Create(context.Background(), "user-1", "   ")
	if !apierror.HasCode(err, apierror.CodeValidation) {
		t.Errorf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestGet_Ownership(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	p, _ := svc.Create(ctx, "user-1", "Mine")

	if _, err := svc.Get(ctx, "user-1", p.ID); err != nil {
		t.Errorf("expected owner to read project, got %v", err)
	}
	for _, tc := range []struct{ owner, id string }{{"user-2", p.ID}, {"user-1", "missing"}} {
		if _, err := svc.Get(ctx, tc.owner, tc.id); !apierror.HasCode(err, apierror.CodeNotFound) {
			t.Errorf("Get(%s, %s): expected RESOURCE_NOT_FOUND, got %v", tc.owner, tc.id, err)
		}
	}
}

func TestInstructions_VersionStream(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	p, _ := svc.Create(ctx, "user-1", "Mine")

	if _, err := svc.Instruction(ctx, "user-1", p.ID, 0); !apierror.HasCode(err, apierror.CodeNotFound) {
		t.Fatalf("expected no instruction yet, got %v", err)
	}

	v1, err := svc.PutInstruction(ctx, "user-1", p.ID, 0, "# v1")
	if err != nil || v1.Version != 1 {
		t.Fatalf("expected version 1, got %+v %v", v1, err)
	}
	v2, err := svc.PutInstruction(ctx, "user-1", p.ID, 1, "# v2")
	if err != nil || v2.Version != 2 {
		t.Fatalf("expected version 2, got %+v %v", v2, err)
	}

	_, err = svc.PutInstruction(ctx, "user-1", p.ID, 1, "# stale")
	apiErr, ok := apierror.As(err)
	if !ok || apiErr.Code != apierror.CodeVersionConflict {
		t.Fatalf("expected VERSION_CONFLICT, got %v", err)
	}
	if apiErr.Details["base_version"] != 1 || apiErr.Details["current_version"] != 2 {
		t.Errorf("unexpected details %v", apiErr.Details)
	}

	latest, err := svc.Instruction(ctx, "user-1", p.ID, 0)
	if err != nil || latest.Markdown != "# v2" {
		t.Errorf("expected latest to be v2, got %+v %v", latest, err)
	}
	first, err := svc.Instruction(ctx, "user-1", p.ID, 1)
	if err != nil || first.Markdown != "# v1" {
		t.Errorf("expected v1, got %+v %v", first, err)
	}
}

func TestInstructions_Ownership(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	p, _ := svc.Create(ctx, "user-1", "Mine")

	if _, err := svc.PutInstruction(ctx, "user-2", p.ID, 0, "# hijack"); !apierror.HasCode(err, apierror.CodeNotFound) {
		t.Errorf("expected RESOURCE_NOT_FOUND, got %v", err)
	}
	if _, err := svc.Instruction(ctx, "user-2", p.ID, 0); !apierror.HasCode(err, apierror.CodeNotFound) {
		t.Errorf("expected RESOURCE_NOT_FOUND, got %v", err)
	}
}
