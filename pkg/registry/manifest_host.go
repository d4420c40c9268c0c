package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/illmade-knight/panic-signal/pkg/protocol"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest is returned for a manifest that cannot describe a component.
var ErrInvalidManifest = errors.New("invalid component manifest")

type manifestReceiver struct {
	Action   string `toml:"action" yaml:"action"`
	Style    string `toml:"style" yaml:"style"`
	Address  string `toml:"address" yaml:"address"`
	Encoding string `toml:"encoding" yaml:"encoding"`
}

type manifestFile struct {
	ID        string             `toml:"id" yaml:"id"`
	Receivers []manifestReceiver `toml:"receivers" yaml:"receivers"`
}

// ManifestHost reads component manifests from a directory. Each installed
// component drops one TOML or YAML file there; removing the file uninstalls it.
// The directory is re-read on every query.
type ManifestHost struct {
	dir    string
	logger zerolog.Logger
}

// NewManifestHost creates a host backed by dir.
func NewManifestHost(dir string, logger zerolog.Logger) *ManifestHost {
	return &ManifestHost{
		dir:    dir,
		logger: logger.With().Str("component", "manifest-host").Str("dir", dir).Logger(),
	}
}

// QueryReceivers implements Host. A manifest that fails to parse is skipped and
// logged so one broken component cannot hide every other responder.
func (h *ManifestHost) QueryReceivers(ctx context.Context, action protocol.Action) ([]Declaration, error) {
	components, err := h.Components(ctx)
	if err != nil {
		return nil, err
	}
	var decls []Declaration
	for _, c := range components {
		decls = append(decls, declarationsFor(c, action)...)
	}
	return decls, nil
}

// Components loads every valid manifest, sorted by identifier.
func (h *ManifestHost) Components(ctx context.Context) ([]Component, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest dir %s: %w", h.dir, err)
	}

	byID := make(map[string]Component, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(h.dir, entry.Name())
		c, err := LoadManifest(path)
		if err != nil {
			if errors.Is(err, errUnsupportedManifest) {
				continue
			}
			h.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable component manifest")
			continue
		}
		if _, dup := byID[c.ID]; dup {
			h.logger.Warn().Str("file", entry.Name()).Str("responder_id", c.ID).Msg("Duplicate component manifest ignored")
			continue
		}
		byID[c.ID] = c
	}

	components := make([]Component, 0, len(byID))
	for _, c := range byID {
		components = append(components, c)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].ID < components[j].ID })
	return components, nil
}

var errUnsupportedManifest = errors.New("unsupported manifest extension")

// LoadManifest parses one manifest file, choosing the decoder by extension.
func LoadManifest(path string) (Component, error) {
	var raw manifestFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return Component{}, fmt.Errorf("manifest parse failed (%s): %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Component{}, fmt.Errorf("manifest load failed (%s): %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Component{}, fmt.Errorf("manifest parse failed (%s): %w", path, err)
		}
	default:
		return Component{}, errUnsupportedManifest
	}
	return raw.toComponent()
}

func (m manifestFile) toComponent() (Component, error) {
	id := strings.TrimSpace(m.ID)
	if id == "" {
		return Component{}, fmt.Errorf("%w: id is required", ErrInvalidManifest)
	}
	c := Component{ID: id}
	for i, r := range m.Receivers {
		action, err := protocol.ParseAction(r.Action)
		if err != nil {
			return Component{}, fmt.Errorf("%w: receivers[%d]: %v", ErrInvalidManifest, i, err)
		}
		style, err := protocol.ParseEndpointKind(r.Style)
		if err != nil {
			return Component{}, fmt.Errorf("%w: receivers[%d]: %v", ErrInvalidManifest, i, err)
		}
		enc, err := protocol.ParseEncoding(r.Encoding)
		if err != nil {
			return Component{}, fmt.Errorf("%w: receivers[%d]: %v", ErrInvalidManifest, i, err)
		}
		addr := strings.TrimSpace(r.Address)
		if addr == "" && style == protocol.KindService {
			addr = id
		}
		if addr == "" {
			return Component{}, fmt.Errorf("%w: receivers[%d]: address is required for %s receivers", ErrInvalidManifest, i, style)
		}
		c.Receivers = append(c.Receivers, Receiver{Action: action, Style: style, Address: addr, Encoding: enc})
	}
	return c, nil
}
