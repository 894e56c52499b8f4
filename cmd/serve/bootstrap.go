package serve

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Bootstrap lists the pools and containers a server creates before it starts
// listening. Entries that already exist are left as they are, so the same file
// can be passed on every start.
//
//	pools:
//	  - shard: 1
//	    uuid: 5f0c2c8e-1f43-4b8e-9a53-4c1b1f2b5d11
//	    mode: "0o731"
//	    scm_size: 1073741824
//	    containers:
//	      - uuid: 9d2f6a10-0b4a-4a51-8f0f-2d4c9a3f7e21
//	        attrs:
//	          owner: alice
type Bootstrap struct {
	Pools []BootstrapPool `yaml:"pools"`
}

type BootstrapPool struct {
	Shard      uint64               `yaml:"shard"`
	UUID       string               `yaml:"uuid"`
	Group      string               `yaml:"group"`
	Mode       string               `yaml:"mode"`
	UID        uint32               `yaml:"uid"`
	GID        uint32               `yaml:"gid"`
	ScmSize    uint64               `yaml:"scm_size"`
	Targets    []uint32             `yaml:"targets"`
	SvcNr      uint32               `yaml:"svc_nr"`
	Containers []BootstrapContainer `yaml:"containers"`
}

type BootstrapContainer struct {
	UUID  string            `yaml:"uuid"`
	Attrs map[string]string `yaml:"attrs"`
}

// LoadBootstrap reads and validates a bootstrap file.
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read bootstrap file")
	}
	return ParseBootstrap(data)
}

// ParseBootstrap decodes a bootstrap document. Every pool and container needs a
// uuid, otherwise a restart would create them again.
func ParseBootstrap(data []byte) (*Bootstrap, error) {
	var b Bootstrap
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, errors.Wrap(err, "decode bootstrap file")
	}
	for i, p := range b.Pools {
		if _, err := uuid.Parse(p.UUID); err != nil {
			return nil, errors.Wrapf(err, "pool %d: invalid uuid %q", i, p.UUID)
		}
		if _, err := p.mode(); err != nil {
			return nil, errors.Wrapf(err, "pool %s", p.UUID)
		}
		for _, c := range p.Containers {
			if _, err := uuid.Parse(c.UUID); err != nil {
				return nil, errors.Wrapf(err, "pool %s: invalid container uuid %q", p.UUID, c.UUID)
			}
		}
	}
	return &b, nil
}

// mode parses the permission bits, decimal, octal (0731, 0o731) and hex are accepted
func (p BootstrapPool) mode() (uint32, error) {
	if p.Mode == "" {
		return 0o731, nil
	}
	m, err := strconv.ParseUint(p.Mode, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q", p.Mode)
	}
	return uint32(m), nil
}

// Apply creates the pools and containers on the engines returned by lookup.
func (b *Bootstrap) Apply(lookup func(shardId uint64) (engine.IEngine, bool)) error {
	for _, p := range b.Pools {
		e, ok := lookup(p.Shard)
		if !ok {
			return fmt.Errorf("pool %s: shard %d is not served by this node", p.UUID, p.Shard)
		}
		if err := p.apply(e); err != nil {
			return errors.Wrapf(err, "bootstrap pool %s", p.UUID)
		}
	}
	return nil
}

func (p BootstrapPool) apply(e engine.IEngine) error {
	id := uuid.MustParse(p.UUID)
	mode, err := p.mode()
	if err != nil {
		return err
	}
	targets := make([]engine.Rank, 0, len(p.Targets))
	for _, t := range p.Targets {
		targets = append(targets, engine.Rank(t))
	}

	_, _, err = e.PoolCreate(engine.PoolCreateRequest{
		UUID:    id,
		Mode:    mode,
		UID:     p.UID,
		GID:     p.GID,
		Group:   p.Group,
		Targets: targets,
		ScmSize: p.ScmSize,
		SvcNr:   p.SvcNr,
	})
	switch {
	case err == nil:
		Logger.Infof("bootstrap: created pool %s on shard %d", id, p.Shard)
	case engine.RCOf(err) == engine.RCExist:
		Logger.Debugf("bootstrap: pool %s exists", id)
	default:
		return err
	}

	if len(p.Containers) == 0 {
		return nil
	}
	poh, _, err := e.PoolConnect(id, p.Group, nil, engine.PoolConnectRW)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer func() {
		if err := e.PoolDisconnect(poh); err != nil {
			Logger.Warningf("bootstrap: failed to disconnect pool %s: %v", id, err)
		}
	}()

	for _, c := range p.Containers {
		if err := c.apply(e, poh); err != nil {
			return errors.Wrapf(err, "container %s", c.UUID)
		}
	}
	return nil
}

func (c BootstrapContainer) apply(e engine.IEngine, poh engine.Handle) error {
	id := uuid.MustParse(c.UUID)
	switch err := e.ContCreate(poh, id); {
	case err == nil:
		Logger.Infof("bootstrap: created container %s", id)
	case engine.RCOf(err) == engine.RCExist:
		Logger.Debugf("bootstrap: container %s exists", id)
	default:
		return err
	}

	if len(c.Attrs) == 0 {
		return nil
	}
	coh, _, err := e.ContOpen(poh, id, engine.ContOpenRW)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() {
		if err := e.ContClose(coh); err != nil {
			Logger.Warningf("bootstrap: failed to close container %s: %v", id, err)
		}
	}()

	names := make([]string, 0, len(c.Attrs))
	values := make([][]byte, 0, len(c.Attrs))
	for k, v := range c.Attrs {
		names = append(names, k)
		values = append(values, []byte(v))
	}
	return e.ContSetAttr(coh, names, values)
}
