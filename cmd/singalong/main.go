package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"singalong/internal/admin"
	"singalong/internal/api"
	"singalong/internal/control"
	"singalong/internal/device"
	"singalong/internal/directory"
	"singalong/internal/discovery"
	"singalong/internal/holdingscreen"
	"singalong/internal/liveness"
	"singalong/internal/mpv"
	"singalong/internal/queue"
	"singalong/internal/scoring"
	"singalong/internal/session"
	"singalong/internal/songbook"
	"singalong/internal/store"
	"singalong/internal/tv"
	"singalong/internal/websocket"
	"singalong/pkg/models"
)

const version = "0.2.0"

// App holds the application state
type App struct {
	config    Config
	local     *store.Local
	store     store.Store
	directory *directory.Service
	engine    *queue.Engine
	mpv       *mpv.Controller
	hub       *websocket.Hub
	sessions  *session.Manager
	admin     *admin.Manager
	control   *control.Sender
	receiver  *control.Receiver
	gate      *tv.Gate
	readiness *tv.Readiness
	monitor   *liveness.Monitor
	beacon    *liveness.Beacon
	catalog   *songbook.Catalog
	youtube   *songbook.YouTube
	screen    *holdingscreen.Generator
}

func main() {
	// Load .env file (optional - won't error if missing)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables and defaults")
	}

	config := loadConfig()

	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, config)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}
	defer app.Shutdown()

	if err := app.Run(ctx); err != nil {
		log.Printf("Stopped with error: %v", err)
	}
}

// openStore returns the shared store with the local database as fallback.
// Without a remote address the node runs on the local store alone.
func openStore(ctx context.Context, config Config, local *store.Local) store.Store {
	remote := store.RemoteConfig{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
		Prefix:   config.RedisPrefix,
	}
	rc, err := store.Dial(ctx, remote)
	if err != nil {
		if !errors.Is(err, store.ErrUnconfigured) {
			log.Printf("[STORE] Shared store unavailable, using local store: %v", err)
		} else {
			log.Println("[STORE] No shared store configured, using local store")
		}
		return store.NewFallback(nil, local)
	}
	log.Printf("[STORE] Connected to shared store at %s", config.RedisAddr)
	return store.NewFallback(store.NewRedis(rc, config.RedisPrefix), local)
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, config Config) (*App, error) {
	local, err := store.NewLocal(filepath.Join(config.DataDir, "store.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	s := openStore(ctx, config, local)

	policy := directory.Policy(config.ReconcilePolicy)
	if policy != directory.PolicyRecordLWW {
		policy = directory.PolicyLength
	}
	dir := directory.NewService(s, policy)
	if err := dir.Load(ctx); err != nil {
		log.Printf("[DIRECTORY] Initial load failed, starting empty: %v", err)
	}
	if config.AdminPassword != "" {
		if err := dir.EnsureAdmin(ctx, config.AdminUsername, config.AdminPassword); err != nil {
			log.Printf("[DIRECTORY] Could not seed admin account: %v", err)
		}
	}

	catalog, err := songbook.NewCatalog(filepath.Join(config.DataDir, "songbook.db"))
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("failed to open song book: %w", err)
	}

	mpvCtrl := mpv.NewController(config.MPVPath)
	mpvCtrl.SetDisplaySettings(mpv.DisplaySettings{ScreenIndex: config.ScreenIndex, AutoFullscreen: true})

	engineCfg := queue.DefaultConfig()
	engineCfg.ScoringEnabled = config.ScoringEnabled
	engineCfg.ScoreDisplay = config.ScoreDisplay
	engine := queue.NewEngine(s, mpvCtrl, dir, engineCfg)
	engine.SetHistory(catalog)

	screen, err := holdingscreen.NewGenerator(filepath.Join(os.TempDir(), "singalong"))
	if err != nil {
		catalog.Close()
		local.Close()
		return nil, err
	}

	sessions := session.NewManager(ctx, s, dir)

	app := &App{
		config:    config,
		local:     local,
		store:     s,
		directory: dir,
		engine:    engine,
		mpv:       mpvCtrl,
		hub:       websocket.NewHub(),
		sessions:  sessions,
		admin:     admin.NewManager(dir, sessions),
		control:   control.NewSender(s),
		gate:      tv.NewGate(s, engine),
		readiness: tv.NewReadiness("engine", "player"),
		monitor:   liveness.NewMonitor(s),
		beacon:    liveness.NewBeacon(s),
		catalog:   catalog,
		youtube:   songbook.NewYouTube(config.YouTubeAPIKey, catalog),
		screen:    screen,
	}
	app.receiver = control.NewReceiver(s, remoteTarget{app})

	// Wire up handlers
	app.setupHandlers()

	return app, nil
}

// remoteTarget applies remote control commands to the player and queue
type remoteTarget struct {
	app *App
}

func (t remoteTarget) TogglePlay() error          { return t.app.mpv.TogglePlay() }
func (t remoteTarget) Skip(ctx context.Context)   { t.app.engine.Skip(ctx) }
func (t remoteTarget) Restart() error             { return t.app.mpv.Restart() }
func (t remoteTarget) ToggleMute() error          { return t.app.mpv.ToggleMute() }
func (t remoteTarget) SetVolume(volume int) error { return t.app.mpv.SetVolume(volume) }

// setupHandlers configures WebSocket message handlers and component callbacks
func (app *App) setupHandlers() {
	app.hub.SetHandlers(websocket.HubHandlers{
		OnHandshake: func(client *websocket.Client, payload websocket.HandshakePayload) (*websocket.Identity, *models.RoomState, error) {
			identity, err := app.identify(client, payload)
			if err != nil {
				return nil, nil, err
			}
			state := app.getRoomState()
			log.Printf("[WS] %s %q connected from %s [%s]",
				identity.Role, identity.Name, client.GetIPAddress(), device.Label(client.GetUserAgent()))
			return identity, &state, nil
		},

		OnQueueAdd: func(client *websocket.Client, payload websocket.QueueAddPayload) error {
			singer := client.Identity().Name
			ctx := context.Background()
			if _, err := app.directory.EnsureSinger(ctx, singer); err != nil {
				log.Printf("[WS] Could not provision singer %q: %v", singer, err)
			}
			_, err := app.engine.Request(ctx, models.QueueEntry{
				Title:       payload.Title,
				Artist:      payload.Artist,
				VideoID:     payload.VideoID,
				RequestedBy: singer,
			})
			return err
		},

		OnQueueRemove: func(client *websocket.Client, id int) error {
			return app.engine.Remove(context.Background(), id)
		},

		OnSkip: func(client *websocket.Client) error {
			app.engine.Skip(context.Background())
			return nil
		},

		OnControl: func(client *websocket.Client, cmd models.ControlCommand) error {
			_, err := app.control.Send(context.Background(), cmd)
			return err
		},

		OnMarkSinging: func(client *websocket.Client) {
			app.engine.MarkSinging()
		},

		OnActivity: func(client *websocket.Client) {
			ctx := context.Background()
			if err := app.beacon.Touch(ctx); err != nil {
				log.Printf("[LIVENESS] Heartbeat failed: %v", err)
			}
			if id := client.Identity().SessionID; id != "" {
				app.sessions.Touch(ctx, id)
			}
		},

		OnJoin: func(client *websocket.Client) {
			app.broadcastClientList()
		},

		OnClientDisconnect: func(client *websocket.Client) {
			app.broadcastClientList()
		},
	})

	app.engine.SetEvents(queue.Events{
		OnSynced: func() {
			app.readiness.Mark("engine")
		},
		OnChange: func(snap queue.Snapshot) {
			app.broadcastState()
			if snap.Current == nil || snap.Suspended {
				app.refreshScreen()
			}
		},
		OnScore: func(result scoring.Result) {
			app.hub.BroadcastScore(result)
			text := fmt.Sprintf("%s scored %d", result.Singer, result.Score)
			if err := app.mpv.ShowOverlay(text, int(app.config.ScoreDisplay.Milliseconds())); err != nil {
				log.Printf("[TV] Score overlay: %v", err)
			}
		},
		OnNotice: func(n queue.Notice) {
			app.hub.BroadcastNotice(n)
			if err := app.mpv.ShowOverlay(n.Message, 3000); err != nil {
				log.Printf("[TV] Notice overlay: %v", err)
			}
		},
	})

	// mpv playback events drive the engine
	app.mpv.OnReady(app.engine.PlayerReady)
	app.mpv.OnEnded(app.engine.PlayerEnded)
	app.mpv.OnError(app.engine.PlayerError)
	app.mpv.OnDuration(app.engine.Tracker().SetDuration)

	app.gate.OnChange(func(enabled bool) {
		log.Printf("[TV] TV enabled=%v", enabled)
		app.broadcastState()
		app.refreshScreen()
	})

	app.readiness.OnReady(func() {
		app.broadcastState()
		app.refreshScreen()
	})

	app.monitor.OnEdge(func(connected bool) {
		log.Printf("[LIVENESS] Phone connected=%v", connected)
		app.hub.BroadcastLiveness(connected)
		app.broadcastState()
		app.refreshScreen()
	})

	// A newer login elsewhere ends this session's admin rights and sockets
	app.sessions.OnEvict(func(s session.Session) {
		tokens := app.admin.RevokeSession(s.ID)
		kicked := app.hub.KickSession(s.ID, "Logged in on another device")
		log.Printf("[SESSION] Evicted %s (%s): %d tokens revoked, %d connections closed",
			s.Username, s.ID, tokens, kicked)
		app.broadcastClientList()
	})

	app.directory.OnChange(func(accounts []models.Account) {
		app.broadcastClientList()
	})
}

// identify resolves a handshake to an identity. Admin views must present
// a valid token; singers are provisioned by name.
func (app *App) identify(client *websocket.Client, payload websocket.HandshakePayload) (*websocket.Identity, error) {
	switch payload.Role {
	case websocket.RoleAdmin:
		claims, ok := app.admin.ValidateToken(payload.Token)
		if !ok {
			return nil, admin.ErrInvalidToken
		}
		return &websocket.Identity{Role: websocket.RoleAdmin, Name: claims.Username, SessionID: claims.SessionID}, nil

	case websocket.RoleTV:
		return &websocket.Identity{Role: websocket.RoleTV, Name: "TV"}, nil

	case websocket.RoleSinger, "":
		account, err := app.directory.EnsureSinger(context.Background(), payload.Name)
		if err != nil {
			return nil, err
		}
		if account.Disabled {
			return nil, directory.ErrDisabled
		}
		return &websocket.Identity{Role: websocket.RoleSinger, Name: account.Username}, nil

	default:
		return nil, fmt.Errorf("unknown role %q", payload.Role)
	}
}

// getRoomState returns the current room state
func (app *App) getRoomState() models.RoomState {
	snap := app.engine.Snapshot()
	return models.RoomState{
		State:          string(snap.State),
		Current:        snap.Current,
		Queue:          snap.Queue,
		TVEnabled:      app.gate.Enabled(),
		PhoneConnected: app.monitor.Connected(),
		Ready:          app.readiness.Ready(),
	}
}

// broadcastState sends the current state to all connected clients
func (app *App) broadcastState() {
	app.hub.BroadcastState(app.getRoomState())
}

// broadcastClientList sends the client list to all admin clients
func (app *App) broadcastClientList() {
	clients := app.hub.GetConnectedClients(device.Label)
	app.hub.BroadcastToAdmins(websocket.MsgClientList, clients)
}

// holdingScreen describes what the TV shows between songs
func (app *App) holdingScreen() holdingscreen.Screen {
	snap := app.engine.Snapshot()
	s := holdingscreen.Screen{JoinURL: app.joinURL()}
	if len(snap.Queue) > 0 {
		head := snap.Queue[0]
		s.NextUp = &holdingscreen.NextUp{Title: head.Title, Artist: head.Artist, Singer: head.RequestedBy}
	}
	switch {
	case !app.gate.Enabled():
		s.Banner = "TV paused by the host"
	case !app.monitor.Connected():
		s.Banner = "Remote disconnected"
		s.Alert = true
	}
	return s
}

// refreshScreen redraws the holding screen and shows it unless a song is on
func (app *App) refreshScreen() {
	if !app.readiness.Ready() {
		return
	}
	snap := app.engine.Snapshot()
	if snap.Current != nil && !snap.Suspended {
		return
	}
	path, err := app.screen.Generate(app.holdingScreen())
	if err != nil {
		log.Printf("[TV] Holding screen: %v", err)
		return
	}
	if err := app.mpv.LoadImage(path); err != nil {
		log.Printf("[TV] Could not show holding screen: %v", err)
	}
}

func (app *App) joinURL() string {
	if app.config.PublicURL != "" {
		return app.config.PublicURL
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s.local:%d", strings.TrimSuffix(host, ".local"), app.config.Port)
}

// Run starts the node and blocks until ctx is done or a component fails
func (app *App) Run(ctx context.Context) error {
	// Start mpv
	if err := app.mpv.Start(); err != nil {
		log.Printf("Warning: Failed to start mpv: %v", err)
		log.Println("Continuing without video playback...")
	} else {
		log.Println("mpv started successfully")
	}
	app.readiness.Mark("player")

	handler := api.NewHandler(api.Deps{
		Engine:    app.engine,
		Directory: app.directory,
		Admin:     app.admin,
		Control:   app.control,
		Beacon:    app.beacon,
		Gate:      app.gate,
		Catalog:   app.catalog,
		YouTube:   app.youtube,
		Hub:       app.hub,
		State:     app.getRoomState,
		Screen: func(w io.Writer) error {
			return app.screen.WritePNG(w, app.holdingScreen())
		},
		StaticDir: app.config.StaticDir,
		DevMode:   app.config.DevMode,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	stale := app.config.StaleAfter

	g.Go(func() error { return app.hub.Run(ctx) })
	g.Go(func() error { return app.engine.Run(ctx, stale) })
	g.Go(func() error { return app.directory.Run(ctx, stale) })
	g.Go(func() error { return app.sessions.Run(ctx) })
	g.Go(func() error { return app.admin.Run(ctx) })
	g.Go(func() error { return app.receiver.Run(ctx, stale) })
	g.Go(func() error { return app.gate.Run(ctx, stale) })
	g.Go(func() error { return app.monitor.Run(ctx) })

	if app.config.MDNSEnabled {
		g.Go(func() error {
			txt := discovery.TXT(app.joinURL(), version)
			if err := discovery.Run(ctx, app.config.NodeName, app.config.Port, txt); err != nil {
				log.Printf("[MDNS] Advertising failed: %v", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		log.Printf("Singalong %s listening on http://localhost%s", version, server.Addr)
		log.Printf("WebSocket endpoint: ws://localhost%s/ws", server.Addr)
		log.Printf("Phones join at %s", app.joinURL())
		if app.config.DevMode {
			log.Println("Development mode enabled - CORS allowed from all origins")
		}
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown releases the player and databases
func (app *App) Shutdown() {
	app.mpv.Stop()
	app.mpv.Quit()
	app.catalog.Close()
	app.local.Close()
}
