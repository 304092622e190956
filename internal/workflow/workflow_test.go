package workflow

import (
	"errors"
	"testing"

	"kttrack/api/internal/domain"
)

func TestCheckTransitionTable(t *testing.T) {
	cases := []struct {
		name string
		in   Transition
		want error
	}{
		{
			name: "contributor submits draft with content",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionDraft, To: domain.SectionReadyForReview, Actor: ActorContributor, Content: "steps"},
		},
		{
			name: "contributor submits empty draft",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionDraft, To: domain.SectionReadyForReview, Actor: ActorContributor, Content: "   "},
			want: ErrEmptyContent,
		},
		{
			name: "receiver cannot submit",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionDraft, To: domain.SectionReadyForReview, Actor: ActorReceiver, Content: "steps"},
			want: ErrActorNotPermitted,
		},
		{
			name: "receiver marks understood",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionReadyForReview, To: domain.SectionUnderstood, Actor: ActorReceiver},
		},
		{
			name: "receiver asks for clarification",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionReadyForReview, To: domain.SectionNeedsClarification, Actor: ActorReceiver},
		},
		{
			name: "contributor cannot mark understood",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionReadyForReview, To: domain.SectionUnderstood, Actor: ActorContributor},
			want: ErrActorNotPermitted,
		},
		{
			name: "understood straight from draft",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionDraft, To: domain.SectionUnderstood, Actor: ActorReceiver},
			want: ErrTransitionNotAllowed,
		},
		{
			name: "reset ready for review",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionReadyForReview, To: domain.SectionReadyForReview, Actor: ActorReceiver},
		},
		{
			name: "receiver cannot rewrite content while reviewing",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionReadyForReview, To: domain.SectionUnderstood, Actor: ActorReceiver, Content: "rewritten", ContentChanged: true},
			want: ErrActorNotPermitted,
		},
		{
			name: "receiver cannot rewrite content on reset",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionReadyForReview, To: domain.SectionReadyForReview, Actor: ActorReceiver, Content: "rewritten", ContentChanged: true},
			want: ErrActorNotPermitted,
		},
		{
			name: "reset with new content must go back to draft",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionReadyForReview, To: domain.SectionReadyForReview, Actor: ActorContributor, Content: "v2", ContentChanged: true},
			want: ErrTransitionNotAllowed,
		},
		{
			name: "contributor submits with new content",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionDraft, To: domain.SectionReadyForReview, Actor: ActorContributor, Content: "steps", ContentChanged: true},
		},
		{
			name: "resubmit after clarification",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionNeedsClarification, To: domain.SectionReadyForReview, Actor: ActorContributor, Content: "answered"},
		},
		{
			name: "revert to draft needs a content change",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionReadyForReview, To: domain.SectionDraft, Actor: ActorContributor},
			want: ErrTransitionNotAllowed,
		},
		{
			name: "revert to draft after edit",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionNeedsClarification, To: domain.SectionDraft, Actor: ActorContributor, ContentChanged: true},
		},
		{
			name: "receiver opts out of open section",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionDraft, To: domain.SectionNotCovered, Actor: ActorReceiver},
		},
		{
			name: "not covered is terminal",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionUnderstood, To: domain.SectionNotCovered, Actor: ActorReceiver},
			want: ErrTransitionNotAllowed,
		},
		{
			name: "manager cannot move sections",
			in:   Transition{ProjectStatus: domain.ProjectInProgress, From: domain.SectionReadyForReview, To: domain.SectionUnderstood, Actor: ActorManager},
			want: ErrActorNotPermitted,
		},
		{
			name: "completed project is read-only",
			in:   Transition{ProjectStatus: domain.ProjectCompleted, From: domain.SectionReadyForReview, To: domain.SectionUnderstood, Actor: ActorReceiver},
			want: ErrProjectCompleted,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Check(tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Check() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestResolveActor(t *testing.T) {
	contributor := "u-contrib"
	project := domain.Project{
		ManagerID: "u-manager",
		Members: []domain.Member{
			{UserID: "u-init", KTRole: domain.RoleInitiator},
			{UserID: "u-contrib", KTRole: domain.RoleContributor},
			{UserID: "u-other", KTRole: domain.RoleContributor},
			{UserID: "u-recv", KTRole: domain.RoleReceiver},
		},
	}
	assigned := domain.Section{ContributorID: &contributor}
	unassigned := domain.Section{}

	cases := []struct {
		name    string
		section domain.Section
		userID  string
		want    Actor
	}{
		{name: "assigned contributor", section: assigned, userID: "u-contrib", want: ActorContributor},
		{name: "initiator authors any section", section: assigned, userID: "u-init", want: ActorContributor},
		{name: "other contributor on assigned section", section: assigned, userID: "u-other", want: ActorNone},
		{name: "other contributor on unassigned section", section: unassigned, userID: "u-other", want: ActorContributor},
		{name: "receiver", section: assigned, userID: "u-recv", want: ActorReceiver},
		{name: "manager", section: assigned, userID: "u-manager", want: ActorManager},
		{name: "stranger", section: assigned, userID: "u-nobody", want: ActorNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveActor(project, tc.section, tc.userID); got != tc.want {
				t.Fatalf("ResolveActor() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestContentEdit(t *testing.T) {
	section := domain.Section{Status: domain.SectionReadyForReview, Content: "v1"}

	if status, changed := ContentEdit(section, "v1"); changed || status != domain.SectionReadyForReview {
		t.Fatalf("unchanged content must keep status, got %q changed=%v", status, changed)
	}
	if status, changed := ContentEdit(section, "v2"); !changed || status != domain.SectionDraft {
		t.Fatalf("changed content under review must revert to Draft, got %q changed=%v", status, changed)
	}

	draft := domain.Section{Status: domain.SectionDraft, Content: ""}
	if status, changed := ContentEdit(draft, "first"); !changed || status != domain.SectionDraft {
		t.Fatalf("draft edit = %q changed=%v", status, changed)
	}
}

func TestCheckInitiators(t *testing.T) {
	members := []domain.Member{
		{UserID: "a", KTRole: domain.RoleInitiator},
		{UserID: "b", KTRole: domain.RoleInitiator},
		{UserID: "c", KTRole: domain.RoleReceiver},
	}
	if err := CheckInitiators(members, "d", domain.RoleInitiator); !errors.Is(err, ErrTooManyInitiators) {
		t.Fatalf("third initiator error = %v, want ErrTooManyInitiators", err)
	}
	if err := CheckInitiators(members, "a", domain.RoleInitiator); err != nil {
		t.Fatalf("existing initiator keeping role: %v", err)
	}
	if err := CheckInitiators(members, "d", domain.RoleContributor); err != nil {
		t.Fatalf("contributor should always be allowed: %v", err)
	}
	if got := CountInitiators(members); got != 2 {
		t.Fatalf("CountInitiators() = %d, want 2", got)
	}
}
