package domain

import "strings"

// Clone returns a deep copy so snapshots never share slices with live state.
func (p Project) Clone() Project {
	out := p
	if p.Deadline != nil {
		deadline := *p.Deadline
		out.Deadline = &deadline
	}
	out.Members = cloneSlice(p.Members)
	if p.Sections != nil {
		out.Sections = make([]Section, len(p.Sections))
		for i, section := range p.Sections {
			out.Sections[i] = section.Clone()
		}
	}
	return out
}

func (s Section) Clone() Section {
	out := s
	if s.ContributorID != nil {
		id := *s.ContributorID
		out.ContributorID = &id
	}
	out.Attachments = cloneSlice(s.Attachments)
	out.Comments = cloneSlice(s.Comments)
	return out
}

// cloneSlice copies items while keeping nil and empty slices distinct.
func cloneSlice[T any](items []T) []T {
	if items == nil {
		return nil
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}

func CloneProjects(projects []Project) []Project {
	if projects == nil {
		return nil
	}
	out := make([]Project, len(projects))
	for i, project := range projects {
		out[i] = project.Clone()
	}
	return out
}

func (p Project) IsCompleted() bool {
	return p.Status == ProjectCompleted
}

func (p Project) SectionIndex(sectionID string) int {
	for i, section := range p.Sections {
		if section.ID == sectionID {
			return i
		}
	}
	return -1
}

func (p Project) Member(userID string) (Member, bool) {
	for _, member := range p.Members {
		if member.UserID == userID {
			return member, true
		}
	}
	return Member{}, false
}

func (p Project) MembersWithRole(role KTRole) []Member {
	out := make([]Member, 0)
	for _, member := range p.Members {
		if member.KTRole == role {
			out = append(out, member)
		}
	}
	return out
}

// NextSectionOrder returns the order value for a section appended at the end.
func (p Project) NextSectionOrder() int {
	next := 0
	for _, section := range p.Sections {
		if section.Order >= next {
			next = section.Order + 1
		}
	}
	return next
}

func ParseSectionStatus(raw string) (SectionStatus, bool) {
	normalized := strings.ToLower(strings.Join(strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(raw)), " "))
	switch normalized {
	case "draft":
		return SectionDraft, true
	case "ready for review", "readyforreview":
		return SectionReadyForReview, true
	case "needs clarification", "needsclarification":
		return SectionNeedsClarification, true
	case "understood":
		return SectionUnderstood, true
	case "not covered", "notcovered":
		return SectionNotCovered, true
	}
	return "", false
}

func ParseProjectStatus(raw string) (ProjectStatus, bool) {
	normalized := strings.ToLower(strings.Join(strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(raw)), " "))
	switch normalized {
	case "not started", "notstarted":
		return ProjectNotStarted, true
	case "in progress", "inprogress":
		return ProjectInProgress, true
	case "completed":
		return ProjectCompleted, true
	case "active":
		return ProjectActive, true
	}
	return "", false
}

func ParseKTRole(raw string) (KTRole, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "initiator":
		return RoleInitiator, true
	case "contributor":
		return RoleContributor, true
	case "receiver":
		return RoleReceiver, true
	}
	return "", false
}
