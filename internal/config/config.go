// Package config loads the node's YAML configuration, resolves the
// on-disk location directory, and reads the class-framed persisted item
// blobs ("general.cfg", "peers.cfg") with the same codec the wire uses.
package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/retroshare-go/retronode/internal/model"
)

// PeerConfig is one statically configured peer location.
type PeerConfig struct {
	SslID string   `yaml:"ssl_id"`
	PgpID uint32   `yaml:"pgp_id"`
	Name  string   `yaml:"name"`
	Addrs []string `yaml:"addrs"`
}

// Config is the node's top-level configuration.
type Config struct {
	BaseDir        string       `yaml:"base_dir"`
	ListenPort     uint16       `yaml:"listen_port"`
	BandwidthLimit uint32       `yaml:"bandwidth_limit"`
	Peers          []PeerConfig `yaml:"peers"`
}

// LoadConfig reads a YAML config file and fills in the default listen port
// and base directory when they are unset.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.ListenPort == 0 {
		cfg.ListenPort = 7812
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir, err = DefaultBaseDir()
		if err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Locations converts the configured peers into model locations. Peers with
// malformed ids or addresses are skipped with an error entry in the second
// return value rather than failing the whole load.
func (c *Config) Locations() ([]*model.Location, []error) {
	var out []*model.Location
	var errs []error
	for _, p := range c.Peers {
		id, err := parseSslID(p.SslID)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: peer %q: %w", p.Name, err))
			continue
		}
		var addrs []model.ListenAddr
		for _, a := range p.Addrs {
			host, portStr, err := net.SplitHostPort(a)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: peer %q addr %q: %w", p.Name, a, err))
				continue
			}
			ip := net.ParseIP(host)
			if ip == nil {
				errs = append(errs, fmt.Errorf("config: peer %q addr %q: bad ip", p.Name, a))
				continue
			}
			var port uint16
			if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
				errs = append(errs, fmt.Errorf("config: peer %q addr %q: bad port", p.Name, a))
				continue
			}
			addrs = append(addrs, model.ListenAddr{IP: ip, Port: port})
		}
		out = append(out, model.NewLocation(id, model.PgpID(p.PgpID), p.Name, addrs))
	}
	return out, errs
}

func parseSslID(s string) (model.SslID, error) {
	var id model.SslID
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return id, fmt.Errorf("ssl id must be 32 hex chars, got %q", s)
	}
	copy(id[:], raw)
	return id, nil
}

// DefaultBaseDir is the user's home subdirectory the node keeps its state
// under.
func DefaultBaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home: %w", err)
	}
	return filepath.Join(home, ".retroshare"), nil
}

// locationDirPattern matches both plain and hidden-node location
// directories.
var locationDirPattern = regexp.MustCompile(`^(LOC|HID)06_([0-9a-fA-F]{32})$`)

// LocationDir describes one location directory found under the base dir.
type LocationDir struct {
	Path   string
	SslID  model.SslID
	Hidden bool
}

// FindLocationDirs scans base for LOC06_/HID06_ location directories.
func FindLocationDirs(base string) ([]LocationDir, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("config: scan %s: %w", base, err)
	}
	var out []LocationDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := locationDirPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, err := parseSslID(m[2])
		if err != nil {
			return nil, fmt.Errorf("config: location dir %s: %w", e.Name(), err)
		}
		out = append(out, LocationDir{
			Path:   filepath.Join(base, e.Name()),
			SslID:  id,
			Hidden: m[1] == "HID",
		})
	}
	return out, nil
}
