package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"schoolbus-tracker/internal/apiclient"
)

var ErrParentNotFound = errors.New("no parent account with this CIN")

// StudentPanel checks that a student's parent CIN belongs to a parent
// account before saving.
type StudentPanel struct {
	*Panel[apiclient.Student]
	users Backend[apiclient.User]
}

func NewStudentPanel(students Backend[apiclient.Student], users Backend[apiclient.User], logger *slog.Logger) *StudentPanel {
	return &StudentPanel{Panel: NewPanel("students", students, logger), users: users}
}

func (s *StudentPanel) parents(ctx context.Context) ([]apiclient.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	out := users[:0]
	for _, u := range users {
		if u.Role == apiclient.RoleParent {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *StudentPanel) Save(ctx context.Context, st apiclient.Student) (apiclient.Student, error) {
	if err := st.Validate(); err != nil {
		return apiclient.Student{}, s.fail("save", err)
	}
	parents, err := s.parents(ctx)
	if err != nil {
		return apiclient.Student{}, s.fail("save", err)
	}
	cin := strings.TrimSpace(st.CINParent)
	found := false
	for _, p := range parents {
		if strings.TrimSpace(p.CINNumber) == cin {
			found = true
			break
		}
	}
	if !found {
		return apiclient.Student{}, s.fail("save", fmt.Errorf("%w: %s", ErrParentNotFound, cin))
	}
	return s.Panel.Save(ctx, st)
}

// CountStudentsByParent counts cached students linked to the parent CIN.
func (s *StudentPanel) CountStudentsByParent(cin string) int {
	cin = strings.TrimSpace(cin)
	n := 0
	for _, st := range s.Items() {
		if strings.TrimSpace(st.CINParent) == cin {
			n++
		}
	}
	return n
}

// CountByParent reloads the students and counts those of the parent CIN.
func (s *StudentPanel) CountByParent(ctx context.Context, cin string) (int, error) {
	if _, err := s.Load(ctx); err != nil {
		return 0, err
	}
	return s.CountStudentsByParent(cin), nil
}
