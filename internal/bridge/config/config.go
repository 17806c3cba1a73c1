package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/denisbrodbeck/machineid"
	"github.com/goccy/go-json"
	"github.com/spf13/viper"

	"github.com/vobby/vobby/internal/utils"
	"github.com/vobby/vobby/internal/version"
)

var (
	home, _           = os.UserHomeDir()
	DefaultRuntimeDir = filepath.Join(home, ".vobby")
	DefaultConfigPath = filepath.Join(DefaultRuntimeDir, "config.json")

	DefaultServerURL        = "ws://localhost:6523"
	DefaultNetBeansAddr     = "localhost:3219"
	DefaultControlPlaneAddr = "localhost:7939"
	DefaultRateLimit        = "20-S"
)

var (
	ErrInvalidServerURL = errors.New("config: invalid server url")
	ErrInvalidAddr      = errors.New("config: invalid listen address")
	ErrInvalidRoot      = errors.New("config: root is not a directory")
	ErrInvalidPattern   = errors.New("config: invalid auto-open pattern")
	ErrInvalidEncoding  = errors.New("config: invalid encoding")
)

type Config struct {
	User       string   `json:"user,omitempty"`
	ServerURL  string   `json:"server_url"`
	Encodings  string   `json:"encodings,omitempty"`
	Root       string   `json:"root"`
	AutoOpen   []string `json:"auto_open,omitempty"`
	ExploreAll bool     `json:"explore_all,omitempty"`

	NetBeans     NetBeansConfig     `json:"netbeans"`
	ControlPlane ControlPlaneConfig `json:"control_plane"`

	RuntimeDir string `json:"-"`
	Path       string `json:"-"`
}

type NetBeansConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	Encoding string `json:"encoding,omitempty"` // utf-8 or latin1
}

type ControlPlaneConfig struct {
	Addr      string `json:"addr,omitempty"`
	Token     string `json:"token,omitempty"`
	RateLimit string `json:"rate_limit,omitempty"`
}

// SetDefaults registers the defaults on v so flags, file and environment
// all layer on top of them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server_url", DefaultServerURL)
	v.SetDefault("encodings", "msgpack,json")
	v.SetDefault("root", ".")
	v.SetDefault("netbeans.addr", DefaultNetBeansAddr)
	v.SetDefault("netbeans.encoding", "utf-8")
	v.SetDefault("control_plane.addr", DefaultControlPlaneAddr)
	v.SetDefault("control_plane.rate_limit", DefaultRateLimit)
}

// FromViper reads the merged settings out of v. Call Validate on the result.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		User:       v.GetString("user"),
		ServerURL:  v.GetString("server_url"),
		Encodings:  v.GetString("encodings"),
		Root:       v.GetString("root"),
		AutoOpen:   v.GetStringSlice("auto_open"),
		ExploreAll: v.GetBool("explore_all"),
		NetBeans: NetBeansConfig{
			Addr:     v.GetString("netbeans.addr"),
			Password: v.GetString("netbeans.password"),
			Encoding: v.GetString("netbeans.encoding"),
		},
		ControlPlane: ControlPlaneConfig{
			Addr:      v.GetString("control_plane.addr"),
			Token:     v.GetString("control_plane.token"),
			RateLimit: v.GetString("control_plane.rate_limit"),
		},
		RuntimeDir: v.GetString("runtime_dir"),
		Path:       v.ConfigFileUsed(),
	}
}

// Validate normalizes paths, fills in defaults and rejects bad values.
func (c *Config) Validate() error {
	var err error

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	if c.RuntimeDir == "" {
		c.RuntimeDir = DefaultRuntimeDir
	}
	if c.RuntimeDir, err = utils.ResolvePath(c.RuntimeDir); err != nil {
		return fmt.Errorf("runtime dir: %w", err)
	}

	if c.Root == "" {
		c.Root = "."
	}
	if c.Root, err = utils.ResolvePath(c.Root); err != nil {
		return fmt.Errorf("root: %w", err)
	}
	if !utils.DirExists(c.Root) {
		return fmt.Errorf("%s: %w", c.Root, ErrInvalidRoot)
	}

	c.User = strings.TrimSpace(c.User)
	if c.User == "" {
		c.User = DefaultUser()
	}

	if err := validateServerURL(c.ServerURL); err != nil {
		return err
	}
	if c.Encodings == "" {
		c.Encodings = "msgpack,json"
	}
	for _, enc := range strings.Split(c.Encodings, ",") {
		if !slices.Contains([]string{"json", "msgpack"}, strings.TrimSpace(enc)) {
			return fmt.Errorf("wire encoding %q: %w", enc, ErrInvalidEncoding)
		}
	}

	if c.NetBeans.Addr == "" {
		c.NetBeans.Addr = DefaultNetBeansAddr
	}
	if err := validateAddr("netbeans", c.NetBeans.Addr); err != nil {
		return err
	}
	switch strings.ToLower(c.NetBeans.Encoding) {
	case "":
		c.NetBeans.Encoding = "utf-8"
	case "utf-8", "utf8", "latin1", "iso-8859-1":
	default:
		return fmt.Errorf("netbeans encoding %q: %w", c.NetBeans.Encoding, ErrInvalidEncoding)
	}

	if c.ControlPlane.Addr == "" {
		c.ControlPlane.Addr = DefaultControlPlaneAddr
	}
	if err := validateAddr("control plane", c.ControlPlane.Addr); err != nil {
		return err
	}

	for _, p := range c.AutoOpen {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%q: %w", p, ErrInvalidPattern)
		}
	}

	return nil
}

func validateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("server url %q: %w", raw, ErrInvalidServerURL)
	}
	if !slices.Contains([]string{"ws", "wss", "http", "https"}, u.Scheme) || u.Host == "" {
		return fmt.Errorf("server url %q: %w", raw, ErrInvalidServerURL)
	}
	return nil
}

func validateAddr(name, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return fmt.Errorf("%s %q: %w", name, addr, ErrInvalidAddr)
	}
	return nil
}

// DefaultUser derives a stable user name from the machine id. Hosts without
// a readable machine id fall back to the hostname.
func DefaultUser() string {
	id, err := machineid.ProtectedID(version.AppName)
	if err != nil || id == "" {
		host, _ := os.Hostname()
		sum := sha256.Sum256([]byte(host))
		id = hex.EncodeToString(sum[:])
	}
	return "vobby-" + id[:8]
}

// LogFilePath is where the bridge writes its log for this run.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.RuntimeDir, "logs", "vobby.log")
}

func (c *Config) LockFilePath() string {
	return filepath.Join(c.RuntimeDir, "vobby.lock")
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Path = path

	return &cfg, nil
}
