package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/ashureev/goalcoach/internal/domain"
)

//go:embed templates/plan.html
var templateFS embed.FS

var planTemplate = template.Must(template.New("plan.html").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
	"percent": func(done, total int) int {
		if total == 0 {
			return 0
		}
		return done * 100 / total
	},
}).ParseFS(templateFS, "templates/plan.html"))

type planView struct {
	Record    *domain.PlanRecord
	Plan      domain.Plan
	Accent    template.CSS
	Completed int
	Total     int
}

// RenderPlan writes rec as a standalone HTML page. The markup is produced
// from the structured plan on every call and is never stored.
func RenderPlan(w io.Writer, rec *domain.PlanRecord) error {
	if rec == nil {
		return fmt.Errorf("render plan: nil record")
	}
	persona := rec.Persona
	if persona.IsZero() {
		persona = domain.Skyler
	}
	completed, total := rec.Plan.Progress()
	view := planView{
		Record:    rec,
		Plan:      rec.Plan,
		Accent:    template.CSS(persona.Style.Accent),
		Completed: completed,
		Total:     total,
	}
	if err := planTemplate.Execute(w, view); err != nil {
		return fmt.Errorf("render plan %s: %w", rec.ID, err)
	}
	return nil
}
