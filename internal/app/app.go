// Package app implements the profile operations behind the CLI: importing
// share links, assembling the engine document and driving the active engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"v2neko/internal/config"
	"v2neko/internal/db"
	"v2neko/internal/engine"
	"v2neko/internal/geoip"
	"v2neko/internal/logger"
	"v2neko/internal/model"
	"v2neko/internal/xray"
	"v2neko/internal/xray/parser"
	"v2neko/internal/xray/schema"

	"github.com/gofrs/uuid/v5"
)

const DefaultGroup = "default"

var ErrProfileActive = errors.New("profile is active")

type Options struct {
	Registry *engine.Registry
	Observer engine.Observer
	Geo      *geoip.Reader
}

// App serialises every engine transition behind one mutex.
type App struct {
	mu sync.Mutex

	cfg      *config.Config
	store    *db.Store
	registry *engine.Registry
	observer engine.Observer
	geo      *geoip.Reader

	active     engine.Engine
	activeID   string
	activeType string
}

func New(cfg *config.Config, store *db.Store, opts Options) *App {
	if opts.Registry == nil {
		opts.Registry = engine.DefaultRegistry()
	}
	return &App{
		cfg:      cfg,
		store:    store,
		registry: opts.Registry,
		observer: opts.Observer,
		geo:      opts.Geo,
	}
}

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *App) linkOptions() parser.Options {
	return parser.Options{TCPFastOpen: a.cfg.TCPFastOpen, ForceVMess: a.cfg.Links.ForceVMess}
}

// ImportLink stores the profile described by link. When an identical
// endpoint is already stored, that profile is returned with created=false.
func (a *App) ImportLink(ctx context.Context, name, link string) (*model.ProxyProfile, bool, error) {
	a.mu.Lock()
	cfg := a.cfg
	opts := a.linkOptions()
	a.mu.Unlock()

	out, desc, err := parser.Decode(link, opts)
	if err != nil {
		return nil, false, err
	}
	srv, _, ok := out.Primary()
	if !ok {
		return nil, false, fmt.Errorf("link has no user id")
	}

	hash := parser.Fingerprint(out)
	existing, err := a.store.FindByHash(hash)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if name == "" {
		name = desc.Ps
	}
	if name == "" {
		name = net.JoinHostPort(srv.Address, strconv.Itoa(srv.Port))
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, false, err
	}
	artifact := filepath.Join(cfg.ProfilesDir(), id.String()+".json")
	if err := xray.WriteOutbound(artifact, out); err != nil {
		return nil, false, fmt.Errorf("write profile artifact: %w", err)
	}

	p := &model.ProxyProfile{
		ID:         id.String(),
		Hash:       hash,
		Name:       name,
		Type:       cfg.Engine.Type,
		Link:       strings.TrimSpace(link),
		Address:    srv.Address,
		Port:       srv.Port,
		Delay:      model.UnmeasuredDelay,
		ConfigPath: artifact,
		Group:      DefaultGroup,
	}
	if a.geo.Available() {
		if country, err := a.geo.Country(ctx, srv.Address); err == nil {
			p.Country = country
		} else {
			logger.Log.Debugf("geoip %s: %v", srv.Address, err)
		}
	}

	if err := a.store.Save(p); err != nil {
		os.Remove(artifact)
		return nil, false, err
	}
	logger.Log.Infof("Imported profile %s (%s)", p.Name, p.ID)
	return p, true, nil
}

// ImportReport summarises a bulk import.
type ImportReport struct {
	Added      []*model.ProxyProfile
	Duplicates int
	Failed     []error
}

// ImportText imports every link found in text, which may be a plain list or
// a base64 subscription body.
func (a *App) ImportText(ctx context.Context, text string) ImportReport {
	var rep ImportReport
	for _, link := range parser.ExtractLinks(text) {
		p, created, err := a.ImportLink(ctx, "", link)
		switch {
		case err != nil:
			rep.Failed = append(rep.Failed, err)
		case created:
			rep.Added = append(rep.Added, p)
		default:
			rep.Duplicates++
		}
	}
	return rep
}

func (a *App) List() ([]model.ProxyProfile, error) {
	return a.store.List()
}

func (a *App) Get(id string) (*model.ProxyProfile, error) {
	return a.store.Get(id)
}

// Delete removes a profile and its artifact. The active profile cannot be
// deleted.
func (a *App) Delete(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == a.activeID {
		return fmt.Errorf("%w: %s", ErrProfileActive, id)
	}
	p, err := a.store.Get(id)
	if err != nil {
		return err
	}
	if err := a.store.Delete(id); err != nil {
		return err
	}
	if err := os.Remove(p.ConfigPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Log.Warnf("Failed to remove %s: %v", p.ConfigPath, err)
	}
	return nil
}

// Outbound loads the stored artifact of a profile.
func (a *App) Outbound(id string) (*model.ProxyProfile, *schema.Outbound, error) {
	p, err := a.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	out, err := xray.ReadOutbound(p.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read artifact of %s: %w", id, err)
	}
	return p, out, nil
}

// ExportLink renders a profile as a share link.
func (a *App) ExportLink(id string) (string, error) {
	p, out, err := a.Outbound(id)
	if err != nil {
		return "", err
	}
	return parser.Encode(out, p.Name)
}

// Document assembles the engine document for a profile without writing it.
func (a *App) Document(id string) (*schema.Document, error) {
	_, out, err := a.Outbound(id)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	settings := a.cfg.Settings()
	a.mu.Unlock()
	return xray.Assemble(settings, []schema.Outbound{*out})
}

// Activate writes the connection document for id and (re)starts the engine
// family the profile asks for.
func (a *App) Activate(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activate(ctx, id)
}

func (a *App) activate(ctx context.Context, id string) error {
	p, out, err := a.Outbound(id)
	if err != nil {
		return err
	}
	doc, err := xray.Assemble(a.cfg.Settings(), []schema.Outbound{*out})
	if err != nil {
		return err
	}
	if err := xray.WriteDocument(a.cfg.ConnectionPath(), doc); err != nil {
		return fmt.Errorf("write connection document: %w", err)
	}

	if a.active != nil && a.activeType != p.Type {
		if err := a.active.Stop(); err != nil {
			return err
		}
		a.active = nil
	}
	if a.active == nil {
		eng, err := a.registry.New(p.Type, a.engineOptions())
		if err != nil {
			return err
		}
		a.active = eng
		a.activeType = p.Type
	}

	if err := a.active.Restart(ctx); err != nil {
		a.activeID = ""
		return err
	}
	a.activeID = id
	logger.Log.Infof("Activated profile %s on %s engine", p.Name, p.Type)
	return nil
}

func (a *App) engineOptions() engine.Options {
	return engine.Options{
		Binary:       a.cfg.Engine.Binary,
		ConfigPath:   a.cfg.ConnectionPath(),
		StopGrace:    a.cfg.Engine.StopGrace,
		OutputBuffer: a.cfg.Engine.OutputBuffer,
		Observer:     a.observer,
	}
}

// Deactivate stops the engine. It is a no-op when nothing is active.
func (a *App) Deactivate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activeID = ""
	if a.active == nil {
		return nil
	}
	return a.active.Stop()
}

// Active returns the active profile ID, or "" when the engine is idle.
func (a *App) Active() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil || !a.active.Running() {
		return ""
	}
	return a.activeID
}

func (a *App) PollOutput() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return "", false
	}
	return a.active.PollOutput()
}

// CheckVersion probes the configured engine family.
func (a *App) CheckVersion(ctx context.Context) (string, error) {
	a.mu.Lock()
	eng, err := a.registry.New(a.cfg.Engine.Type, a.engineOptions())
	a.mu.Unlock()
	if err != nil {
		return "", err
	}
	return eng.CheckVersion(ctx)
}

// Reload swaps in cfg and regenerates the document of the active profile.
func (a *App) Reload(ctx context.Context, cfg *config.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
	if a.activeID == "" {
		return nil
	}
	// engine options may have changed
	if a.active != nil {
		if err := a.active.Stop(); err != nil {
			return err
		}
		a.active = nil
	}
	return a.activate(ctx, a.activeID)
}

func (a *App) UpdateTraffic(id string, up, down int64) error {
	return a.store.AddTraffic(id, up, down)
}

func (a *App) UpdateDelay(id string, ms int) error {
	return a.store.SetDelay(id, ms)
}
