package dobj

import (
	"github.com/ValentinKolb/dOBJ/lib/engine"
)

// Server addresses one server rank of a group for administration.
type Server struct {
	ctx   *Context
	Group string
	Rank  engine.Rank
}

// NewServer returns a server object for rank in group.
func NewServer(ctx *Context, group string, rank engine.Rank) *Server {
	return &Server{ctx: ctx, Group: group, Rank: rank}
}

// Kill takes the server out of service.
func (s *Server) Kill(force bool, cb Callback) error {
	return s.ctx.dispatch(engine.OpKillServer, func(e engine.IEngine) error {
		return e.KillServer(s.Group, s.Rank, force)
	}, cb, s)
}
