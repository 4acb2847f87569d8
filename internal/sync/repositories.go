package sync

import (
	"github.com/schaermu/posyncd/internal/git"
	"github.com/schaermu/posyncd/internal/layout"
	"github.com/schaermu/posyncd/internal/model"
)

// Repositories opens the working tree gateway of a component
type Repositories struct {
	layout *layout.Manager
	opts   git.Options
}

// NewRepositories creates a gateway factory. opts is used for every
// component; Name is filled in per component.
func NewRepositories(lm *layout.Manager, opts git.Options) *Repositories {
	return &Repositories{layout: lm, opts: opts}
}

// Layout returns the layout manager the gateways live under
func (r *Repositories) Layout() *layout.Manager {
	return r.layout
}

// Gateway opens the repository of c, initializing it on first use. The
// component's project must be loaded.
func (r *Repositories) Gateway(c *model.Component) (*git.Gateway, error) {
	opts := r.opts
	opts.Name = c.Project.Slug + "/" + c.Slug
	return git.Open(r.layout.ComponentPath(c.Project.Slug, c.Slug), opts)
}
