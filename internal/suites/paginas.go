package suites

import (
	"context"
	"net/http"
	"strings"

	"github.com/tionis/tallercheck/internal/scrape"
)

// requiredLibraries must be referenced by the home page and every listing.
var requiredLibraries = []string{"jquery", "datatables", "sweetalert"}

var pagePaths = []string{"/clientes", "/vehiculos", "/servicios", "/empleados", "/ordenes", "/reportes"}

func pagesSteps() []string {
	steps := []string{"home"}
	for _, path := range pagePaths {
		steps = append(steps, strings.TrimPrefix(path, "/"))
	}
	return steps
}

// pagesSuite loads the home page and every module listing and checks the
// client-side libraries they reference.
func pagesSuite() Suite {
	return &suite{
		name:    "paginas",
		session: true,
		steps:   pagesSteps(),
		run: func(ctx context.Context, env *Env) error {
			paths := append([]string{env.HomePath}, pagePaths...)
			steps := pagesSteps()
			for i, path := range paths {
				st := env.step(steps[i])
				resp, err := env.Client.Get(ctx, path)
				if err != nil {
					return fail(st, err)
				}
				st.With(resp)
				if resp.Status != http.StatusOK {
					st.Fail("status %d", resp.Status)
					continue
				}
				libs := scrape.Libraries(resp.Body)
				if missing := missingLibraries(libs); len(missing) > 0 {
					st.Fail("missing %s", strings.Join(missing, ", "))
					continue
				}
				st.Pass("%s", strings.Join(libs, ", "))
			}
			return nil
		},
	}
}

func missingLibraries(found []string) []string {
	have := make(map[string]bool, len(found))
	for _, name := range found {
		have[name] = true
	}
	var missing []string
	for _, name := range requiredLibraries {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	return missing
}
