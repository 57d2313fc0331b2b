package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteVehicleFiles writes trains_<route>.txt under dir for every route, one
// vehicle identifier per line, overwriting existing files. It returns the
// paths written in route order.
func (r *Registry) WriteVehicleFiles(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	paths := make([]string, 0, len(r.routes))
	for _, route := range r.routes {
		var b strings.Builder
		for _, id := range r.vehicles[route.ID] {
			b.WriteString(id)
			b.WriteByte('\n')
		}
		path := filepath.Join(dir, fmt.Sprintf("trains_%s.txt", route.ID))
		if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
			return nil, fmt.Errorf("write vehicles of route %q: %w", route.ID, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
