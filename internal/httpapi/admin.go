package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"schoolbus-tracker/internal/admin"
	"schoolbus-tracker/internal/apiclient"
)

// AdminPanels are the CRUD panels exposed under /api/admin. Nil panels are
// not mounted.
type AdminPanels struct {
	Users    *admin.Panel[apiclient.User]
	Drivers  *admin.Panel[apiclient.Driver]
	Vehicles *admin.Panel[apiclient.Vehicle]
	Stops    *admin.Panel[apiclient.Stop]
	Students *admin.StudentPanel
}

// NewAdminPanels builds the panels over the REST client.
func NewAdminPanels(c *apiclient.Client) *AdminPanels {
	return &AdminPanels{
		Users:    admin.NewPanel[apiclient.User]("users", c.Users(), nil),
		Drivers:  admin.NewPanel[apiclient.Driver]("drivers", c.Drivers(), nil),
		Vehicles: admin.NewPanel[apiclient.Vehicle]("vehicles", c.Vehicles(), nil),
		Stops:    admin.NewPanel[apiclient.Stop]("stops", c.Stops(), nil),
		Students: admin.NewStudentPanel(c.Students(), c.Users(), nil),
	}
}

type panel[T admin.Entity] interface {
	Load(ctx context.Context) ([]T, error)
	Save(ctx context.Context, v T) (T, error)
	Remove(ctx context.Context, id string) error
	Banner() string
}

func mountPanel[T admin.Entity](r chi.Router, name string, p panel[T], extra ...func(chi.Router)) {
	r.Route("/admin/"+name, func(r chi.Router) {
		for _, fn := range extra {
			fn(r)
		}
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			items, err := p.Load(r.Context())
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, items)
		})
		// Records carrying an _id are updated, the others created.
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var v T
			if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			status := http.StatusCreated
			if v.EntityID() != "" {
				status = http.StatusOK
			}
			saved, err := p.Save(r.Context(), v)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, status, saved)
		})
		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			if err := p.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
				writeErr(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})
}

func mountAdmin(r chi.Router, a *AdminPanels) {
	if a.Users != nil {
		mountPanel[apiclient.User](r, "users", a.Users)
	}
	if a.Drivers != nil {
		mountPanel[apiclient.Driver](r, "drivers", a.Drivers)
	}
	if a.Vehicles != nil {
		mountPanel[apiclient.Vehicle](r, "vehicles", a.Vehicles)
	}
	if a.Stops != nil {
		mountPanel[apiclient.Stop](r, "stops", a.Stops)
	}
	if a.Students != nil {
		students := a.Students
		mountPanel[apiclient.Student](r, "students", students, func(r chi.Router) {
			r.Get("/count", func(w http.ResponseWriter, r *http.Request) {
				cin := r.URL.Query().Get("cin")
				if cin == "" {
					writeError(w, http.StatusBadRequest, "cin is required")
					return
				}
				n, err := students.CountByParent(r.Context(), cin)
				if err != nil {
					writeErr(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"cin": cin, "students": n})
			})
		})
	}
}
